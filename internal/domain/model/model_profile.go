package model

import (
	"fmt"
	"sort"
)

// ModelProfile is the static token budget configuration of one model.
type ModelProfile struct {
	Name                  string  `json:"name"`
	MaxContextTokens      int     `json:"maxContextTokens"`
	MaxOutputTokens       int     `json:"maxOutputTokens"`
	CostPerThousandInput  float64 `json:"costPerThousandInputTokens"`
	CostPerThousandOutput float64 `json:"costPerThousandOutputTokens"`
}

// Validate checks that the reserved output budget leaves room for input.
func (p ModelProfile) Validate() error {
	if p.MaxContextTokens <= 0 || p.MaxOutputTokens <= 0 {
		return fmt.Errorf("model %q: token limits must be positive", p.Name)
	}
	if p.MaxOutputTokens >= p.MaxContextTokens {
		return fmt.Errorf("model %q: max output tokens (%d) must be below max context tokens (%d)",
			p.Name, p.MaxOutputTokens, p.MaxContextTokens)
	}
	return nil
}

const (
	ModelGPT4o       = "gpt-4o"
	ModelGPT4oMini   = "gpt-4o-mini"
	ModelGPT4Turbo   = "gpt-4-turbo"
	ModelGPT35Turbo  = "gpt-3.5-turbo"
	DefaultModelName = ModelGPT4o
)

var defaultProfiles = map[string]ModelProfile{
	ModelGPT4o: {
		Name:                  ModelGPT4o,
		MaxContextTokens:      128000,
		MaxOutputTokens:       4096,
		CostPerThousandInput:  0.005,
		CostPerThousandOutput: 0.015,
	},
	ModelGPT4oMini: {
		Name:                  ModelGPT4oMini,
		MaxContextTokens:      128000,
		MaxOutputTokens:       16384,
		CostPerThousandInput:  0.00015,
		CostPerThousandOutput: 0.0006,
	},
	ModelGPT4Turbo: {
		Name:                  ModelGPT4Turbo,
		MaxContextTokens:      128000,
		MaxOutputTokens:       4096,
		CostPerThousandInput:  0.01,
		CostPerThousandOutput: 0.03,
	},
	ModelGPT35Turbo: {
		Name:                  ModelGPT35Turbo,
		MaxContextTokens:      16385,
		MaxOutputTokens:       4096,
		CostPerThousandInput:  0.0005,
		CostPerThousandOutput: 0.0015,
	},
}

// DefaultProfiles returns a copy of the built-in profile table.
func DefaultProfiles() map[string]ModelProfile {
	out := make(map[string]ModelProfile, len(defaultProfiles))
	for k, v := range defaultProfiles {
		out[k] = v
	}
	return out
}

// LookupProfile returns the built-in profile for name.
func LookupProfile(name string) (ModelProfile, bool) {
	p, ok := defaultProfiles[name]
	return p, ok
}

// SortedProfiles returns profiles ordered by name.
func SortedProfiles(profiles map[string]ModelProfile) []ModelProfile {
	out := make([]ModelProfile, 0, len(profiles))
	for _, p := range profiles {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
