package strategy

import "sort"

// Model names accepted in configuration.
const (
	ModelBaseline = "baseline"
	ModelALS      = "als"
	ModelNHBA     = "nhba"
	ModelTBH      = "tbh"
)

// Factory builds a fresh strategy instance scoped to one user.
type Factory func(user int64, deps Deps) (Strategy, error)

var registry = map[string]Factory{
	ModelBaseline: func(user int64, _ Deps) (Strategy, error) {
		return NewPopularity(user), nil
	},
	ModelALS: func(user int64, deps Deps) (Strategy, error) {
		return NewALS(user, deps)
	},
	ModelNHBA: func(user int64, deps Deps) (Strategy, error) {
		return NewNaiveHybrid(user, deps)
	},
	ModelTBH: func(user int64, deps Deps) (Strategy, error) {
		return NewTimeBiased(user, deps)
	},
}

// Names returns the registered model names, sorted.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup returns the factory registered under name.
func Lookup(name string) (Factory, error) {
	f, ok := registry[name]
	if !ok {
		return nil, &UnknownModelError{Name: name, Known: Names()}
	}
	return f, nil
}

// Validate checks every name against the registry.
func Validate(names []string) error {
	for _, name := range names {
		if _, err := Lookup(name); err != nil {
			return err
		}
	}
	return nil
}
