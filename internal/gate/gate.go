// Package gate classifies an assembled change into a validation tier.
// Classification is a pure function of change metadata, optionally raised one
// tier by recent adverse findings in the same domains.
package gate

import (
	"time"

	"github.com/omen4impact/noode/internal/config"
	"github.com/omen4impact/noode/pkg/models"
)

// maxTier1Files is the largest single-module change still considered trivial.
const maxTier1Files = 3

// FindingLookup answers how many adverse tier-3+ findings were recorded
// against the given domains recently. The audit store implements it.
type FindingLookup interface {
	RecentFindings(domains []models.Capability, since time.Time) (int, error)
}

// Classifier assigns validation tiers to changes.
type Classifier struct {
	sensitive map[models.Capability]bool
	window    time.Duration
	findings  FindingLookup

	nowFn func() time.Time
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithFindingLookup enables history-aware escalation.
func WithFindingLookup(l FindingLookup) Option {
	return func(c *Classifier) { c.findings = l }
}

// withNow overrides the clock, for tests.
func withNow(fn func() time.Time) Option {
	return func(c *Classifier) { c.nowFn = fn }
}

// New creates a Classifier from gate configuration.
func New(cfg config.GateConfig, opts ...Option) *Classifier {
	c := &Classifier{
		sensitive: make(map[models.Capability]bool, len(cfg.SensitiveDomains)),
		window:    cfg.FindingWindow,
		nowFn:     time.Now,
	}
	for _, d := range cfg.SensitiveDomains {
		c.sensitive[models.Capability(d)] = true
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Base maps change metadata to a tier without consulting history.
//
// The mapping errs high: anything ambiguous lands on tier 2 or above, since
// an over-reviewed trivial change costs minutes while an under-reviewed
// sensitive one costs an incident.
func (c *Classifier) Base(meta models.ChangeMetadata) models.Tier {
	if meta.StagedRollout {
		return models.Tier4
	}
	if meta.FormattingOnly {
		return models.Tier0
	}
	if c.touchesSensitive(meta.Domains) || meta.ModulesTouched > 1 {
		return models.Tier3
	}
	if meta.ModulesTouched <= 1 && meta.FilesTouched <= maxTier1Files {
		return models.Tier1
	}
	return models.Tier2
}

// Classify assigns the tier for a change, raising the base tier one step when
// the lineage's domains accumulated adverse tier-3+ findings inside the
// configured window. Tiers 0 and 4 are fixed points: formatting stays
// formatting, and there is nothing above a staged rollout.
func (c *Classifier) Classify(meta models.ChangeMetadata) (models.Tier, error) {
	tier := c.Base(meta)
	if c.findings == nil || tier == models.Tier0 || tier >= models.Tier4 {
		return tier, nil
	}

	since := c.nowFn().Add(-c.window)
	n, err := c.findings.RecentFindings(meta.Domains, since)
	if err != nil {
		// History is advisory; a store error never blocks classification.
		return tier, nil
	}
	if n > 0 {
		return tier.Escalate(), nil
	}
	return tier, nil
}

// Sensitive reports whether the domain forces tier 3.
func (c *Classifier) Sensitive(domain models.Capability) bool {
	return c.sensitive[domain]
}

func (c *Classifier) touchesSensitive(domains []models.Capability) bool {
	for _, d := range domains {
		if c.sensitive[d] {
			return true
		}
	}
	return false
}
