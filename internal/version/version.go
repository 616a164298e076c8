// Package version implements the project's three-component semantic version
// and the transition rules applied by gate passes and manual bumps.
package version

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/mod/semver"

	"github.com/nebula-protocol/nebula/internal/types"
)

// Version is a major.minor.patch triple
type Version struct {
	Major int `json:"major"`
	Minor int `json:"minor"`
	Patch int `json:"patch"`
}

// Initial is the version a new project store starts at
var Initial = Version{Major: 0, Minor: 0, Patch: 1}

// Component names a bump target
type Component string

const (
	ComponentMajor Component = "major"
	ComponentMinor Component = "minor"
	ComponentPatch Component = "patch"
)

// IsValid checks if the component value is valid
func (c Component) IsValid() bool {
	switch c {
	case ComponentMajor, ComponentMinor, ComponentPatch:
		return true
	}
	return false
}

// FromState extracts the version triple from a stored state
func FromState(s types.VersionState) Version {
	return Version{Major: s.Major, Minor: s.Minor, Patch: s.Patch}
}

// String renders the version as "X.Y.Z"
func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Semver renders the version in the "vX.Y.Z" form golang.org/x/mod/semver expects
func (v Version) Semver() string {
	return "v" + v.String()
}

// Parse accepts "X.Y.Z" with an optional leading "v"
func Parse(s string) (Version, error) {
	s = strings.TrimSpace(s)
	canonical := s
	if !strings.HasPrefix(canonical, "v") {
		canonical = "v" + canonical
	}
	if !semver.IsValid(canonical) || semver.Prerelease(canonical) != "" || semver.Build(canonical) != "" {
		return Version{}, types.Invalid("version", "%q is not a major.minor.patch version", s)
	}
	parts := strings.Split(strings.TrimPrefix(canonical, "v"), ".")
	if len(parts) != 3 {
		return Version{}, types.Invalid("version", "%q must have three components", s)
	}
	var out [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return Version{}, types.Invalid("version", "%q has a non-numeric component", s)
		}
		out[i] = n
	}
	return Version{Major: out[0], Minor: out[1], Patch: out[2]}, nil
}

// Compare returns -1, 0 or +1 by semantic version precedence
func Compare(a, b Version) int {
	return semver.Compare(a.Semver(), b.Semver())
}

// Less reports whether a sorts strictly before b
func (v Version) Less(other Version) bool {
	return Compare(v, other) < 0
}

// BumpPatch increments patch only
func (v Version) BumpPatch() Version {
	return Version{Major: v.Major, Minor: v.Minor, Patch: v.Patch + 1}
}

// BumpMinor increments minor and resets patch, which is scoped to the current minor
func (v Version) BumpMinor() Version {
	return Version{Major: v.Major, Minor: v.Minor + 1, Patch: 0}
}

// BumpMajor increments major. Minor and patch are kept unless reset is true.
func (v Version) BumpMajor(reset bool) Version {
	if reset {
		return Version{Major: v.Major + 1}
	}
	return Version{Major: v.Major + 1, Minor: v.Minor, Patch: v.Patch}
}

// Next applies a bump of the given component
func (v Version) Next(c Component, reset bool) (Version, error) {
	switch c {
	case ComponentPatch:
		return v.BumpPatch(), nil
	case ComponentMinor:
		return v.BumpMinor(), nil
	case ComponentMajor:
		return v.BumpMajor(reset), nil
	default:
		return v, types.Invalid("component", "must be one of [major minor patch]")
	}
}

// CheckSet validates an explicit set from current to target. Moving
// backwards is rejected with ErrVersionRegression unless force is true.
func CheckSet(current, target Version, force bool) error {
	if target.Major < 0 || target.Minor < 0 || target.Patch < 0 {
		return types.Invalid("version", "components cannot be negative")
	}
	if !force && target.Less(current) {
		return fmt.Errorf("%w: %s is lower than current %s", types.ErrVersionRegression, target, current)
	}
	return nil
}

// ValidateBumpRequest checks the caller-supplied parameters of a manual bump.
// Major bumps require a reason.
func ValidateBumpRequest(c Component, reason string) error {
	if !c.IsValid() {
		return types.Invalid("component", "must be one of [major minor patch]")
	}
	if c == ComponentMajor && strings.TrimSpace(reason) == "" {
		return types.Invalid("reason", "is required for a major bump")
	}
	return nil
}

// BumpOptions qualifies a manual bump
type BumpOptions struct {
	// Reset zeroes minor and patch on a major bump
	Reset bool
	// PhaseRef ties a minor bump to a phase so it can happen only once
	PhaseRef string
}
