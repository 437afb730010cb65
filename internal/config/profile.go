// Copyright 2025 Joseph Cumines
//
// Client profiles

package config

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultProfile is used when the selector is empty or unknown.
const DefaultProfile = "default"

// ClientProfile is the per-process policy for the connected client type.
// It is resolved once at startup and never mutated.
//
//lint:ignore BETTERALIGN struct is intentionally ordered for clarity
type ClientProfile struct {
	Name string `yaml:"-"`
	// MaxResponseBytes bounds each outgoing frame. Zero is unbounded.
	MaxResponseBytes int `yaml:"max_response_bytes"`
	// StrictFrames suppresses writes that are not one complete JSON value.
	StrictFrames bool `yaml:"strict_frames"`
	// VerboseErrors adds codes, causes and suggestions to error envelopes.
	VerboseErrors bool `yaml:"verbose_errors"`
	// ForceSafeMode skips eager module loading.
	ForceSafeMode bool `yaml:"force_safe_mode"`
	// ExitOnSignal exits immediately on SIGINT/SIGTERM.
	ExitOnSignal bool `yaml:"exit_on_signal"`
}

// Profiles maps selector names to profiles.
type Profiles map[string]ClientProfile

// BuiltinProfiles returns the profiles available without a profiles file.
func BuiltinProfiles() Profiles {
	return Profiles{
		DefaultProfile: {
			Name:             DefaultProfile,
			MaxResponseBytes: 5 << 20,
			VerboseErrors:    true,
		},
		"desktop": {
			Name:             "desktop",
			MaxResponseBytes: 1 << 20,
			StrictFrames:     true,
			ForceSafeMode:    true,
			ExitOnSignal:     true,
		},
		"cli": {
			Name:          "cli",
			VerboseErrors: true,
		},
	}
}

// profileOverride distinguishes unset fields from zero values.
type profileOverride struct {
	MaxResponseBytes *int  `yaml:"max_response_bytes"`
	StrictFrames     *bool `yaml:"strict_frames"`
	VerboseErrors    *bool `yaml:"verbose_errors"`
	ForceSafeMode    *bool `yaml:"force_safe_mode"`
	ExitOnSignal     *bool `yaml:"exit_on_signal"`
}

type profilesFile struct {
	Profiles map[string]profileOverride `yaml:"profiles"`
}

// LoadProfiles returns the built-in profiles merged with the overrides in
// path. An empty path returns the built-ins. Overrides of a built-in only
// replace the fields they set; new names start from the default profile.
//
// Example:
//
//	profiles:
//	  desktop:
//	    max_response_bytes: 2097152
//	  ide:
//	    strict_frames: true
func LoadProfiles(path string) (Profiles, error) {
	profiles := BuiltinProfiles()
	if path == "" {
		return profiles, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profiles file: %w", err)
	}

	var file profilesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse profiles file %s: %w", path, err)
	}

	for name, o := range file.Profiles {
		key := normalizeName(name)
		if key == "" {
			return nil, fmt.Errorf("profiles file %s: empty profile name", path)
		}
		p, ok := profiles[key]
		if !ok {
			p = profiles[DefaultProfile]
		}
		p.Name = key
		if o.MaxResponseBytes != nil {
			if *o.MaxResponseBytes < 0 {
				return nil, fmt.Errorf("profile %s: max_response_bytes must not be negative", key)
			}
			p.MaxResponseBytes = *o.MaxResponseBytes
		}
		if o.StrictFrames != nil {
			p.StrictFrames = *o.StrictFrames
		}
		if o.VerboseErrors != nil {
			p.VerboseErrors = *o.VerboseErrors
		}
		if o.ForceSafeMode != nil {
			p.ForceSafeMode = *o.ForceSafeMode
		}
		if o.ExitOnSignal != nil {
			p.ExitOnSignal = *o.ExitOnSignal
		}
		profiles[key] = p
	}
	return profiles, nil
}

// Resolve returns the profile for selector, falling back to the default
// profile for empty or unrecognized selectors.
func (p Profiles) Resolve(selector string) ClientProfile {
	if profile, ok := p[normalizeName(selector)]; ok {
		return profile
	}
	if profile, ok := p[DefaultProfile]; ok {
		return profile
	}
	return BuiltinProfiles()[DefaultProfile]
}

// Names returns the profile names, sorted.
func (p Profiles) Names() []string {
	names := make([]string, 0, len(p))
	for name := range p {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func normalizeName(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
