// Copyright (c) 2025 EnablerDAO
// SPDX-License-Identifier: AGPL-3.0-or-later

package agent

import (
	"fmt"
	"strings"
)

// =============================================================================
// CAPABILITIES
// =============================================================================

// Capability tags the kind of work a step needs.
type Capability string

const (
	CapResearch       Capability = "research"
	CapDesign         Capability = "design"
	CapImplementation Capability = "implementation"
	CapTesting        Capability = "testing"
	CapCoordination   Capability = "coordination"
)

// AllCapabilities returns every capability in plan order.
func AllCapabilities() []Capability {
	return []Capability{CapResearch, CapDesign, CapImplementation, CapTesting, CapCoordination}
}

// Valid reports whether c is a known capability.
func (c Capability) Valid() bool {
	switch c {
	case CapResearch, CapDesign, CapImplementation, CapTesting, CapCoordination:
		return true
	}
	return false
}

// ParseCapability parses a capability tag, case-insensitively.
func ParseCapability(s string) (Capability, error) {
	c := Capability(strings.ToLower(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", fmt.Errorf("unknown capability %q", s)
	}
	return c, nil
}

// =============================================================================
// AGENT PROFILES
// =============================================================================

// Profile describes the persona a handler speaks as.
type Profile struct {
	Name        string
	Description string
	Tone        string
	Expertise   []string
}

// SystemPrompt renders the persona as a system message.
func (p Profile) SystemPrompt() string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, the %s.", p.Name, strings.ToLower(p.Description))
	if p.Tone != "" {
		fmt.Fprintf(&b, " Your tone is %s.", p.Tone)
	}
	if len(p.Expertise) > 0 {
		fmt.Fprintf(&b, " Your expertise: %s.", strings.Join(p.Expertise, ", "))
	}
	b.WriteString(" Answer only for your own step and keep it concise.")
	return b.String()
}

var (
	// Queen coordinates the team and writes the final summary.
	Queen = Profile{
		Name:        "Queen",
		Description: "Project coordinator and task distributor",
		Tone:        "authoritative",
		Expertise:   []string{"project management", "task allocation", "decision making"},
	}

	// Worker designs, builds and tests.
	Worker = Profile{
		Name:        "Worker",
		Description: "Specialized task executor",
		Tone:        "helpful",
		Expertise:   []string{"coding", "writing", "analysis"},
	}

	// Scout gathers information.
	Scout = Profile{
		Name:        "Scout",
		Description: "Information gatherer and researcher",
		Tone:        "curious",
		Expertise:   []string{"research", "data collection", "trend analysis"},
	}
)

// ProfileFor returns the default persona for a capability.
func ProfileFor(c Capability) Profile {
	switch c {
	case CapResearch:
		return Scout
	case CapCoordination:
		return Queen
	default:
		return Worker
	}
}
