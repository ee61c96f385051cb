// Package versioning gates the attestation extension on its reported version
// and describes the versions of the public attestgate surfaces.
package versioning

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// SDKVersion is reported to the extension in every startAttestation message.
const SDKVersion = "1.2.0"

// DefaultExtensionConstraint accepts every extension release that speaks the
// startAttestation message protocol.
const DefaultExtensionConstraint = ">= 0.3.0"

// Gate checks an extension version against a semver constraint.
type Gate struct {
	raw        string
	constraint *semver.Constraints
}

// NewGate compiles constraint. An empty constraint accepts any version,
// including an unreported one.
func NewGate(constraint string) (*Gate, error) {
	g := &Gate{raw: strings.TrimSpace(constraint)}
	if g.raw == "" {
		return g, nil
	}
	c, err := semver.NewConstraint(g.raw)
	if err != nil {
		return nil, fmt.Errorf("invalid extension version constraint %q: %w", g.raw, err)
	}
	g.constraint = c
	return g, nil
}

// MustGate is NewGate for constant constraints.
func MustGate(constraint string) *Gate {
	g, err := NewGate(constraint)
	if err != nil {
		panic(err)
	}
	return g
}

// Check returns nil when version satisfies the gate.
func (g *Gate) Check(version string) error {
	if g == nil || g.constraint == nil {
		return nil
	}
	if version == "" {
		return fmt.Errorf("extension did not report a version (need %s)", g.raw)
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		return fmt.Errorf("extension version %q is not semver: %w", version, err)
	}
	if !g.constraint.Check(v) {
		return fmt.Errorf("extension version %s does not satisfy %s", v, g.raw)
	}
	return nil
}

// String returns the constraint source.
func (g *Gate) String() string {
	if g == nil {
		return ""
	}
	return g.raw
}

// StabilityLevel indicates API stability.
type StabilityLevel string

const (
	StabilityExperimental StabilityLevel = "EXPERIMENTAL"
	StabilityBeta         StabilityLevel = "BETA"
	StabilityStable       StabilityLevel = "STABLE"
)

// APIDefinition describes one versioned public surface.
type APIDefinition struct {
	Name           string         `json:"name"`
	Description    string         `json:"description"`
	CurrentVersion string         `json:"current_version"`
	Stability      StabilityLevel `json:"stability"`
}

// APIs returns the public surfaces of attestgate, sorted by name.
func APIs() []APIDefinition {
	apis := []APIDefinition{
		{Name: "sign", Description: "Signer endpoint (POST /sign, GET /sign/key)", CurrentVersion: "1.1.0", Stability: StabilityStable},
		{Name: "relay", Description: "OAuth relay callbacks (GET /{provider}/callback)", CurrentVersion: "1.0.0", Stability: StabilityBeta},
		{Name: "extension", Description: "Extension message protocol (startAttestation)", CurrentVersion: SDKVersion, Stability: StabilityStable},
	}
	sort.Slice(apis, func(i, j int) bool { return apis[i].Name < apis[j].Name })
	return apis
}
