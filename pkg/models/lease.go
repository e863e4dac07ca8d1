package models

import "time"

// Lease is a time-bounded exclusive claim on a scarce resource, such as the
// deployment slot. Held by at most one holder at a time; expiry only moves
// forward via explicit renewal, and an expired lease auto-releases.
type Lease struct {
	// Resource names the claimed resource.
	Resource string `json:"resource"`
	// Holder identifies the task or change holding the lease.
	Holder string `json:"holder"`
	// AcquiredAt is when the claim was granted.
	AcquiredAt time.Time `json:"acquired_at"`
	// ExpiresAt is when the claim lapses unless renewed.
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the lease has lapsed at the given instant.
func (l *Lease) Expired(now time.Time) bool {
	return !now.Before(l.ExpiresAt)
}
