// Package lease implements time-bounded exclusive claims on scarce
// resources. The deployment lease is the single point of mutual exclusion
// guarding the handoff of an approved change to the deployment collaborator.
//
// Leases are released by expiry, not by out-of-band signal, so a crashed
// holder cannot deadlock other claimants.
package lease

import (
	"errors"
	"sync"
	"time"

	"github.com/omen4impact/noode/pkg/models"
)

// DeployResource is the resource name of the deployment/merge slot.
const DeployResource = "deploy"

// ErrLeaseUnavailable indicates the resource is currently held by someone
// else. Recoverable: retry after the holder releases or expires.
var ErrLeaseUnavailable = errors.New("lease unavailable")

// ErrLeaseExpired indicates the caller's claim lapsed before the operation.
// The resource has returned to the pool; the holder's operation must restart.
var ErrLeaseExpired = errors.New("lease expired")

// ErrNotHolder indicates the caller does not hold the lease it tried to
// renew or release.
var ErrNotHolder = errors.New("not the lease holder")

// Manager grants and tracks leases. Expired leases are reaped lazily on
// every operation and periodically by Sweep.
type Manager struct {
	mu     sync.Mutex
	leases map[string]*models.Lease

	nowFn func() time.Time
}

// NewManager creates an empty lease manager.
func NewManager() *Manager {
	return &Manager{
		leases: make(map[string]*models.Lease),
		nowFn:  time.Now,
	}
}

// newManagerWithClock is used by tests to control expiry.
func newManagerWithClock(nowFn func() time.Time) *Manager {
	m := NewManager()
	m.nowFn = nowFn
	return m
}

// Acquire claims the resource for the holder with the given TTL. At most one
// holder succeeds; concurrent claimants receive ErrLeaseUnavailable. An
// expired prior claim does not block acquisition.
func (m *Manager) Acquire(resource, holder string, ttl time.Duration) (models.Lease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.nowFn()
	if existing, ok := m.leases[resource]; ok && !existing.Expired(now) {
		if existing.Holder == holder {
			// Re-acquire by the current holder acts as a renewal.
			existing.ExpiresAt = now.Add(ttl)
			return *existing, nil
		}
		return models.Lease{}, ErrLeaseUnavailable
	}

	l := &models.Lease{
		Resource:   resource,
		Holder:     holder,
		AcquiredAt: now,
		ExpiresAt:  now.Add(ttl),
	}
	m.leases[resource] = l
	return *l, nil
}

// Renew extends the holder's claim. Expiry only ever moves forward: a renewal
// that would shorten the lease leaves it unchanged.
func (m *Manager) Renew(resource, holder string, ttl time.Duration) (models.Lease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.nowFn()
	l, ok := m.leases[resource]
	if !ok || l.Expired(now) {
		return models.Lease{}, ErrLeaseExpired
	}
	if l.Holder != holder {
		return models.Lease{}, ErrNotHolder
	}

	if next := now.Add(ttl); next.After(l.ExpiresAt) {
		l.ExpiresAt = next
	}
	return *l, nil
}

// Release gives the resource back early. Releasing an already expired lease
// reports ErrLeaseExpired so the holder learns its operation must restart.
func (m *Manager) Release(resource, holder string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.leases[resource]
	if !ok {
		return ErrLeaseExpired
	}
	if l.Holder != holder {
		return ErrNotHolder
	}

	expired := l.Expired(m.nowFn())
	delete(m.leases, resource)
	if expired {
		return ErrLeaseExpired
	}
	return nil
}

// Holder returns the current valid holder of the resource, or "" if unheld.
func (m *Manager) Holder(resource string) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.leases[resource]
	if !ok || l.Expired(m.nowFn()) {
		return ""
	}
	return l.Holder
}

// Sweep removes expired leases and returns how many were reaped.
func (m *Manager) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.nowFn()
	reaped := 0
	for resource, l := range m.leases {
		if l.Expired(now) {
			delete(m.leases, resource)
			reaped++
		}
	}
	return reaped
}

// Run sweeps on a ticker until done is closed.
func (m *Manager) Run(done <-chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}
