package tokenbudget

import (
	"fmt"
	"strings"

	"chat-token-budget/internal/domain"
	"chat-token-budget/internal/domain/model"
	"chat-token-budget/internal/domain/ports/adapter"
)

// CounterFactory returns the token counter for a model. It is called once per
// model when the registry is built.
type CounterFactory func(modelName string) adapter.TokenCounter

// Registry resolves a Manager per model name. Managers are built up front so
// that tokenizer selection happens at startup.
type Registry struct {
	defaultModel string
	managers     map[string]*Manager
	profiles     map[string]model.ModelProfile
}

// NewRegistry validates every profile and builds its Manager. An empty
// defaultModel selects model.DefaultModelName.
func NewRegistry(profiles map[string]model.ModelProfile, defaultModel string, counters CounterFactory, opts func(modelName string) []Option) (*Registry, error) {
	if defaultModel == "" {
		defaultModel = model.DefaultModelName
	}
	if _, ok := profiles[defaultModel]; !ok {
		return nil, fmt.Errorf("default model %q: %w", defaultModel, domain.ErrUnknownModel)
	}

	r := &Registry{
		defaultModel: defaultModel,
		managers:     make(map[string]*Manager, len(profiles)),
		profiles:     make(map[string]model.ModelProfile, len(profiles)),
	}
	for name, p := range profiles {
		if err := p.Validate(); err != nil {
			return nil, err
		}
		var counter adapter.TokenCounter
		if counters != nil {
			counter = counters(name)
		}
		var o []Option
		if opts != nil {
			o = opts(name)
		}
		r.managers[name] = New(p, counter, o...)
		r.profiles[name] = p
	}
	return r, nil
}

// Resolve maps an optional request model to a known model name.
func (r *Registry) Resolve(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return r.defaultModel, nil
	}
	if _, ok := r.managers[name]; !ok {
		return "", fmt.Errorf("%q: %w", name, domain.ErrUnknownModel)
	}
	return name, nil
}

// Manager returns the Manager for name, or the default model when name is empty.
func (r *Registry) Manager(name string) (*Manager, error) {
	resolved, err := r.Resolve(name)
	if err != nil {
		return nil, err
	}
	return r.managers[resolved], nil
}

func (r *Registry) DefaultModel() string { return r.defaultModel }

// Profiles returns the known profiles ordered by name.
func (r *Registry) Profiles() []model.ModelProfile {
	return model.SortedProfiles(r.profiles)
}
