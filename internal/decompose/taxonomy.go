package decompose

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/omen4impact/noode/pkg/models"
)

// Taxonomy is the set of capability tags a deployment recognises, with a
// short description per tag. Work requests naming a capability outside the
// taxonomy are rejected.
type Taxonomy map[models.Capability]string

// DefaultTaxonomy covers the specialist roles shipped with the system.
func DefaultTaxonomy() Taxonomy {
	return Taxonomy{
		"requirements": "requirement analysis and refinement",
		"architecture": "system design and structural review",
		"backend":      "server-side implementation",
		"frontend":     "client-side implementation",
		"database":     "schema and query work",
		"testing":      "test authoring and verification",
		"security":     "security analysis and review",
		"dependency":   "third-party dependency review",
		"performance":  "performance analysis",
		"docs":         "documentation",
		"research":     "background investigation",
	}
}

// LoadTaxonomy reads a taxonomy from a YAML mapping of tag to description.
func LoadTaxonomy(path string) (Taxonomy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read taxonomy: %w", err)
	}

	raw := map[string]string{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse taxonomy: %w", err)
	}

	t := make(Taxonomy, len(raw))
	for tag, desc := range raw {
		t[models.Capability(tag)] = desc
	}
	return t, nil
}

// Knows reports whether the taxonomy contains the capability.
func (t Taxonomy) Knows(cap models.Capability) bool {
	_, ok := t[cap]
	return ok
}

// Tags returns the capability tags in sorted order.
func (t Taxonomy) Tags() []models.Capability {
	tags := make([]models.Capability, 0, len(t))
	for tag := range t {
		tags = append(tags, tag)
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i] < tags[j] })
	return tags
}
