// Package version exposes the noode release version, embedded at build time
// from the VERSION file so the binary and the repo cannot disagree.
package version

import (
	_ "embed"
	"strings"
)

//go:embed VERSION
var raw string

// Get returns the noode version string.
func Get() string {
	return strings.TrimSpace(raw)
}
