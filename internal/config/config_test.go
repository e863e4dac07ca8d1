package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/omen4impact/noode/pkg/models"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	if cfg.Scheduler.RetryBudget != 2 {
		t.Errorf("expected retry budget 2, got %d", cfg.Scheduler.RetryBudget)
	}
	if cfg.Review.IterationLimit != 3 {
		t.Errorf("expected iteration limit 3, got %d", cfg.Review.IterationLimit)
	}
	if cfg.Registry.MaxMissedBeats != 3 {
		t.Errorf("expected 3 max missed beats, got %d", cfg.Registry.MaxMissedBeats)
	}
	if len(cfg.Gate.SensitiveDomains) == 0 {
		t.Error("expected default sensitive domains")
	}
}

func TestLoadFromPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
scheduler:
  retry_budget: 5
  retry_backoff: 1s
review:
  iteration_limit: 4
gate:
  sensitive_domains: ["authentication"]
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.Scheduler.RetryBudget != 5 {
		t.Errorf("expected retry budget 5, got %d", cfg.Scheduler.RetryBudget)
	}
	if cfg.Scheduler.RetryBackoff != time.Second {
		t.Errorf("expected 1s backoff, got %v", cfg.Scheduler.RetryBackoff)
	}
	if cfg.Review.IterationLimit != 4 {
		t.Errorf("expected iteration limit 4, got %d", cfg.Review.IterationLimit)
	}
	// Unset sections fall back to defaults.
	if cfg.Registry.MaxMissedBeats != 3 {
		t.Errorf("expected default max missed beats, got %d", cfg.Registry.MaxMissedBeats)
	}
}

func TestParseBudget(t *testing.T) {
	b, err := ParseBudget("unlimited")
	if err != nil {
		t.Fatalf("parse unlimited: %v", err)
	}
	if !b.Unlimited {
		t.Error("expected unlimited sentinel")
	}

	b, err = ParseBudget("5m")
	if err != nil {
		t.Fatalf("parse 5m: %v", err)
	}
	if b.Unlimited || b.Duration != 5*time.Minute {
		t.Errorf("expected 5m budget, got %+v", b)
	}

	if _, err := ParseBudget("whenever"); err == nil {
		t.Error("expected error for malformed budget")
	}
}

func TestTierBudget(t *testing.T) {
	cfg := Default()

	b, err := cfg.Review.TierBudget(models.Tier2)
	if err != nil {
		t.Fatalf("tier 2 budget: %v", err)
	}
	if b.Unlimited {
		t.Error("tier 2 should have a bounded budget")
	}

	b, err = cfg.Review.TierBudget(models.Tier3)
	if err != nil {
		t.Fatalf("tier 3 budget: %v", err)
	}
	if !b.Unlimited {
		t.Error("tier 3 should be unlimited")
	}
}

func TestTierBudgetUnconfiguredDefaults(t *testing.T) {
	rc := &ReviewConfig{IterationLimit: 3}

	b, err := rc.TierBudget(models.Tier1)
	if err != nil {
		t.Fatalf("tier 1 budget: %v", err)
	}
	if b.Unlimited {
		t.Error("unconfigured tier 1 should not be unlimited")
	}

	b, err = rc.TierBudget(models.Tier4)
	if err != nil {
		t.Fatalf("tier 4 budget: %v", err)
	}
	if !b.Unlimited {
		t.Error("unconfigured tier 4 should default to unlimited")
	}
}
