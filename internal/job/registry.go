package job

import (
	"fmt"
	"sort"
	"sync"
)

// Registry is the read-only-after-startup catalog mapping job name to its
// JobDefinition (spec §4.5 "Job Registry", C7).
type Registry struct {
	mu   sync.RWMutex
	jobs map[string]*JobDefinition
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{jobs: make(map[string]*JobDefinition)}
}

// Register adds a job definition, enforcing a unique job name and unique
// step names within the job.
func (r *Registry) Register(def *JobDefinition) error {
	if def.Name == "" {
		return fmt.Errorf("job registry: job name must not be empty")
	}
	if len(def.Steps) == 0 {
		return fmt.Errorf("job registry: job %q must have at least one step", def.Name)
	}

	seen := make(map[string]struct{}, len(def.Steps))
	for _, step := range def.Steps {
		if step.Name == "" {
			return fmt.Errorf("job registry: job %q has a step with an empty name", def.Name)
		}
		if _, dup := seen[step.Name]; dup {
			return fmt.Errorf("job registry: job %q has duplicate step name %q", def.Name, step.Name)
		}
		seen[step.Name] = struct{}{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.jobs[def.Name]; exists {
		return fmt.Errorf("job registry: job %q is already registered", def.Name)
	}
	r.jobs[def.Name] = def
	return nil
}

// Lookup returns the job definition for name, if registered.
func (r *Registry) Lookup(name string) (*JobDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.jobs[name]
	return def, ok
}

// Names returns all registered job names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.jobs))
	for name := range r.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
