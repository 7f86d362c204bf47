package job

import "testing"

func simpleDef(name string, steps ...string) *JobDefinition {
	defs := make([]StepDefinition, 0, len(steps))
	for _, s := range steps {
		defs = append(defs, StepDefinition{Name: s, Body: func(*ExecutionContext, ParameterView, CancelToken) StepOutcome {
			return Finished()
		}})
	}
	return &JobDefinition{Name: name, Steps: defs}
}

func TestRegistry_RegisterAndLookup(t *testing.T) {
	t.Parallel()
	r := NewRegistry()

	if err := r.Register(simpleDef("payroll-export", "extract", "aggregate", "publish")); err != nil {
		t.Fatalf("Register: %v", err)
	}

	def, ok := r.Lookup("payroll-export")
	if !ok {
		t.Fatal("expected job to be found")
	}
	if len(def.Steps) != 3 {
		t.Errorf("expected 3 steps, got %d", len(def.Steps))
	}

	if _, ok := r.Lookup("missing"); ok {
		t.Error("expected missing job to be absent")
	}
}

func TestRegistry_DuplicateJobName(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	if err := r.Register(simpleDef("job-a", "step1")); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register(simpleDef("job-a", "step1")); err == nil {
		t.Error("expected error registering duplicate job name")
	}
}

func TestRegistry_DuplicateStepName(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	if err := r.Register(simpleDef("job-b", "step1", "step1")); err == nil {
		t.Error("expected error for duplicate step names")
	}
}

func TestRegistry_EmptySteps(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	if err := r.Register(&JobDefinition{Name: "job-c"}); err == nil {
		t.Error("expected error for job with no steps")
	}
}

func TestRegistry_Names(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	_ = r.Register(simpleDef("zeta", "s"))
	_ = r.Register(simpleDef("alpha", "s"))

	names := r.Names()
	if len(names) != 2 || names[0] != "alpha" || names[1] != "zeta" {
		t.Errorf("expected sorted [alpha zeta], got %v", names)
	}
}
