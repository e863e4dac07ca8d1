package models

import "fmt"

// Tier is the validation-intensity classification assigned to a change.
// Higher tiers require more reviewers and grant larger latency budgets.
type Tier int

const (
	// Tier0 is formatting-only work with no logic change. No reviewers.
	Tier0 Tier = 0
	// Tier1 is a single-module change touching no sensitive domain.
	// Automated fast checks only.
	Tier1 Tier = 1
	// Tier2 is the default for substantive changes. Standard reviewer set.
	Tier2 Tier = 2
	// Tier3 touches a sensitive domain or crosses module boundaries.
	// Full reviewer set including security, with no time cap.
	Tier3 Tier = 3
	// Tier4 is tier 3 plus a staged rollout monitoring window.
	Tier4 Tier = 4
)

// Valid returns true if the tier is a known value.
func (t Tier) Valid() bool {
	return t >= Tier0 && t <= Tier4
}

// String returns the display form, e.g. "tier-2".
func (t Tier) String() string {
	return fmt.Sprintf("tier-%d", int(t))
}

// Escalate returns the tier raised by one step, capped at Tier4.
func (t Tier) Escalate() Tier {
	if t >= Tier4 {
		return Tier4
	}
	return t + 1
}
