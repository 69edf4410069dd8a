// Package ratelimit enforces fixed-window request limits per client IP across
// several tiers at once
package ratelimit

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Scope classifies an endpoint for tier matching
type Scope string

// Endpoint scopes
const (
	ScopeAuth     Scope = "auth"
	ScopeMutation Scope = "mutation"
	ScopeListing  Scope = "listing"
	ScopeSearch   Scope = "search"
	ScopeAdmin    Scope = "admin"
	ScopeGeneral  Scope = "general"
)

var knownScopes = map[Scope]bool{
	ScopeAuth:     true,
	ScopeMutation: true,
	ScopeListing:  true,
	ScopeSearch:   true,
	ScopeAdmin:    true,
	ScopeGeneral:  true,
}

// Tier is one named limit. A request is admitted only if every matching tier admits it.
type Tier struct {
	Name     string
	Window   time.Duration
	Max      int64
	Scopes   []Scope // empty matches every scope
	PerScope bool    // count each scope separately
	FailOpen bool    // admit requests when the counter store is unreachable
}

// Applies reports whether the tier counts requests of the given scope
func (t Tier) Applies(scope Scope) bool {
	if len(t.Scopes) == 0 {
		return true
	}
	for _, s := range t.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// DefaultTiers returns the built-in tier table
func DefaultTiers() []Tier {
	return []Tier{
		{Name: "burst", Window: time.Minute, Max: 60, FailOpen: true},
		{Name: "sustained", Window: time.Hour, Max: 1000, FailOpen: true},
		{Name: "auth_token", Window: time.Minute, Max: 5, Scopes: []Scope{ScopeAuth}},
		{Name: "data_modification", Window: time.Minute, Max: 30, Scopes: []Scope{ScopeMutation}, FailOpen: true},
		{Name: "content_listing", Window: time.Minute, Max: 30, Scopes: []Scope{ScopeListing}, FailOpen: true},
		{Name: "search", Window: time.Minute, Max: 20, Scopes: []Scope{ScopeSearch}, FailOpen: true},
		{Name: "admin", Window: time.Hour, Max: 100, Scopes: []Scope{ScopeAdmin}},
	}
}

// ValidateTiers checks a tier table for unusable entries
func ValidateTiers(tiers []Tier) error {
	if len(tiers) == 0 {
		return fmt.Errorf("no tiers configured")
	}
	seen := make(map[string]bool, len(tiers))
	for _, t := range tiers {
		switch {
		case t.Name == "":
			return fmt.Errorf("tier name must not be empty")
		case seen[t.Name]:
			return fmt.Errorf("duplicate tier %q", t.Name)
		case t.Window < time.Millisecond:
			return fmt.Errorf("tier %q: window must be at least 1ms", t.Name)
		case t.Max <= 0:
			return fmt.Errorf("tier %q: max must be positive", t.Name)
		}
		for _, s := range t.Scopes {
			if !knownScopes[s] {
				return fmt.Errorf("tier %q: unknown scope %q", t.Name, s)
			}
		}
		seen[t.Name] = true
	}
	return nil
}

type tierFile struct {
	Tiers []struct {
		Name     string        `yaml:"name"`
		Window   time.Duration `yaml:"window"`
		Max      int64         `yaml:"max"`
		Scopes   []Scope       `yaml:"scopes"`
		PerScope bool          `yaml:"per_scope"`
		FailOpen *bool         `yaml:"fail_open"`
	} `yaml:"tiers"`
}

// ParseTiers decodes a YAML tier table. Tiers fail open unless fail_open is false.
func ParseTiers(data []byte) ([]Tier, error) {
	var f tierFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing tiers: %w", err)
	}

	tiers := make([]Tier, 0, len(f.Tiers))
	for _, raw := range f.Tiers {
		t := Tier{
			Name:     raw.Name,
			Window:   raw.Window,
			Max:      raw.Max,
			Scopes:   raw.Scopes,
			PerScope: raw.PerScope,
			FailOpen: true,
		}
		if raw.FailOpen != nil {
			t.FailOpen = *raw.FailOpen
		}
		tiers = append(tiers, t)
	}

	if err := ValidateTiers(tiers); err != nil {
		return nil, err
	}
	return tiers, nil
}

// LoadTiers reads a YAML tier table from disk
func LoadTiers(path string) ([]Tier, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading tiers: %w", err)
	}
	return ParseTiers(data)
}
