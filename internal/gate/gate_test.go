package gate

import (
	"errors"
	"testing"
	"time"

	"github.com/omen4impact/noode/internal/config"
	"github.com/omen4impact/noode/pkg/models"
)

type fakeFindings struct {
	count int
	err   error
	since time.Time
}

func (f *fakeFindings) RecentFindings(domains []models.Capability, since time.Time) (int, error) {
	f.since = since
	return f.count, f.err
}

func classifier(opts ...Option) *Classifier {
	return New(config.Default().Gate, opts...)
}

func TestBaseTiers(t *testing.T) {
	c := classifier()

	cases := []struct {
		name string
		meta models.ChangeMetadata
		want models.Tier
	}{
		{
			name: "formatting only",
			meta: models.ChangeMetadata{FormattingOnly: true, FilesTouched: 40, ModulesTouched: 5},
			want: models.Tier0,
		},
		{
			name: "trivial single module",
			meta: models.ChangeMetadata{Domains: []models.Capability{"backend"}, FilesTouched: 2, ModulesTouched: 1},
			want: models.Tier1,
		},
		{
			name: "substantive single module",
			meta: models.ChangeMetadata{Domains: []models.Capability{"backend"}, FilesTouched: 12, ModulesTouched: 1},
			want: models.Tier2,
		},
		{
			name: "cross module",
			meta: models.ChangeMetadata{Domains: []models.Capability{"backend"}, FilesTouched: 4, ModulesTouched: 3},
			want: models.Tier3,
		},
		{
			name: "sensitive domain forces tier 3",
			meta: models.ChangeMetadata{Domains: []models.Capability{"authentication"}, FilesTouched: 1, ModulesTouched: 1},
			want: models.Tier3,
		},
		{
			name: "staged rollout",
			meta: models.ChangeMetadata{Domains: []models.Capability{"backend"}, FilesTouched: 1, ModulesTouched: 1, StagedRollout: true},
			want: models.Tier4,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := c.Base(tc.meta); got != tc.want {
				t.Errorf("expected %s, got %s", tc.want, got)
			}
		})
	}
}

func TestClassifyEscalatesOnRecentFindings(t *testing.T) {
	findings := &fakeFindings{count: 2}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := classifier(WithFindingLookup(findings), withNow(func() time.Time { return now }))

	meta := models.ChangeMetadata{Domains: []models.Capability{"backend"}, FilesTouched: 12, ModulesTouched: 1}
	tier, err := c.Classify(meta)
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if tier != models.Tier3 {
		t.Errorf("expected escalation to tier-3, got %s", tier)
	}

	wantSince := now.Add(-168 * time.Hour)
	if !findings.since.Equal(wantSince) {
		t.Errorf("expected finding window start %v, got %v", wantSince, findings.since)
	}
}

func TestClassifyNoEscalationWithoutFindings(t *testing.T) {
	c := classifier(WithFindingLookup(&fakeFindings{count: 0}))

	meta := models.ChangeMetadata{Domains: []models.Capability{"backend"}, FilesTouched: 2, ModulesTouched: 1}
	tier, err := c.Classify(meta)
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if tier != models.Tier1 {
		t.Errorf("expected tier-1, got %s", tier)
	}
}

func TestClassifyFormattingNeverEscalates(t *testing.T) {
	c := classifier(WithFindingLookup(&fakeFindings{count: 5}))

	tier, err := c.Classify(models.ChangeMetadata{FormattingOnly: true})
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if tier != models.Tier0 {
		t.Errorf("expected tier-0 fixed point, got %s", tier)
	}
}

func TestClassifyStoreErrorIsAdvisory(t *testing.T) {
	c := classifier(WithFindingLookup(&fakeFindings{err: errors.New("db locked")}))

	meta := models.ChangeMetadata{Domains: []models.Capability{"backend"}, FilesTouched: 12, ModulesTouched: 1}
	tier, err := c.Classify(meta)
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if tier != models.Tier2 {
		t.Errorf("expected base tier on store error, got %s", tier)
	}
}
