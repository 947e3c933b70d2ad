package suite

import (
	"errors"
	"fmt"
	"sync"
)

// ErrValidation is wrapped by every registration error.
var ErrValidation = errors.New("invalid suite")

// Registry holds registered suites in registration order.
type Registry interface {
	// Register validates s and adds it. Names must be unique.
	Register(s *Suite) error
	// Get returns the named suite.
	Get(name string) (*Suite, bool)
	// All returns every suite in registration order.
	All() []*Suite
	// ForEnvironment returns the suites targeting environment.
	ForEnvironment(environment string) []*Suite
	// Environments returns every targeted environment in first-seen order.
	Environments() []string
}

type registry struct {
	mu     sync.RWMutex
	suites []*Suite
	byName map[string]*Suite
}

// Ensure interface compliance.
var _ Registry = (*registry)(nil)

// NewRegistry creates an empty registry.
func NewRegistry() Registry {
	return &registry{
		byName: make(map[string]*Suite, 8),
	}
}

func (r *registry) Register(s *Suite) error {
	if err := validate(s); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[s.Name]; exists {
		return fmt.Errorf("%w: duplicate name %q", ErrValidation, s.Name)
	}

	r.suites = append(r.suites, s)
	r.byName[s.Name] = s

	return nil
}

func (r *registry) Get(name string) (*Suite, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.byName[name]

	return s, ok
}

func (r *registry) All() []*Suite {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Suite, len(r.suites))
	copy(out, r.suites)

	return out
}

func (r *registry) ForEnvironment(environment string) []*Suite {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Suite, 0, len(r.suites))

	for _, s := range r.suites {
		if s.Targets(environment) {
			out = append(out, s)
		}
	}

	return out
}

func (r *registry) Environments() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{}, 4)
	out := make([]string, 0, 4)

	for _, s := range r.suites {
		for _, env := range s.Environments {
			if _, ok := seen[env]; ok {
				continue
			}

			seen[env] = struct{}{}
			out = append(out, env)
		}
	}

	return out
}

func validate(s *Suite) error {
	if s == nil {
		return fmt.Errorf("%w: nil suite", ErrValidation)
	}

	if s.Name == "" {
		return fmt.Errorf("%w: name is required", ErrValidation)
	}

	if s.Func == nil {
		return fmt.Errorf("%w: suite %q: test function is required", ErrValidation, s.Name)
	}

	if len(s.Environments) == 0 {
		return fmt.Errorf("%w: suite %q: at least one environment is required", ErrValidation, s.Name)
	}

	for _, env := range s.Environments {
		if env == "" {
			return fmt.Errorf("%w: suite %q: empty environment name", ErrValidation, s.Name)
		}
	}

	if s.Thresholds != nil {
		if err := s.Thresholds.Validate(); err != nil {
			return fmt.Errorf("%w: suite %q: thresholds: %w", ErrValidation, s.Name, err)
		}
	}

	return nil
}
