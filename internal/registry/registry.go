package registry

import (
	"context"
	"fmt"

	"github.com/vk/datakiln/internal/stepid"
)

// Task carries everything a runner needs to execute one step: where its
// own sources live, where to publish, and where each dependency's
// completed output sits. Only checksum-stamped, completed outputs ever
// appear in DependencyOutputs.
type Task struct {
	Identity stepid.Identity
	// SourceDir is the directory holding the step's own files;
	// SourcePrefix is the short-name prefix identifying them inside it.
	SourceDir    string
	SourcePrefix string
	// OutputDir is the step's own publish location. A runner must write
	// nowhere else.
	OutputDir string
	// DependencyOutputs maps each direct dependency's URI to its output
	// directory.
	DependencyOutputs map[string]string
}

// Runner is the collaborator boundary: a single entry point per step
// kind (or finer pattern) that performs the actual transformation. It
// must return a non-nil error on failure; the engine never retries.
type Runner interface {
	Run(ctx context.Context, task *Task) error
}

// RunnerFunc adapts a plain function to the Runner interface.
type RunnerFunc func(ctx context.Context, task *Task) error

// Run implements Runner.
func (f RunnerFunc) Run(ctx context.Context, task *Task) error { return f(ctx, task) }

// Module is the interface embedding applications implement to plug
// runner sets into a registry.
type Module interface {
	Register(r *Registry)
}

// UnknownStepError reports a step no registered runner covers.
type UnknownStepError struct {
	Step stepid.Identity
}

// Error implements the error interface for UnknownStepError.
func (e *UnknownStepError) Error() string {
	return fmt.Sprintf("no runner registered for step %s", e.Step)
}

// binding ties a selection pattern to a runner. More specific patterns
// (more pinned segments) win over broader ones.
type binding struct {
	pattern stepid.Pattern
	weight  int
	runner  Runner
}

// Registry holds the runner bindings for a single application instance.
// It is populated at startup and read-only afterwards.
type Registry struct {
	bindings []binding
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{}
}

// Register binds a runner to every step matching pattern. Patterns may
// overlap; Resolve picks the most specific match, and among equally
// specific matches the one registered last.
func (r *Registry) Register(pattern stepid.Pattern, runner Runner) {
	r.bindings = append(r.bindings, binding{
		pattern: pattern,
		weight:  pattern.Specificity(),
		runner:  runner,
	})
}

// RegisterURI is Register for a pattern given as a string; it fails only
// on a malformed pattern.
func (r *Registry) RegisterURI(pattern string, runner Runner) error {
	p, err := stepid.ParsePattern(pattern)
	if err != nil {
		return err
	}
	r.Register(p, runner)
	return nil
}

// Resolve returns the runner responsible for id, or UnknownStepError if
// no binding matches.
func (r *Registry) Resolve(id stepid.Identity) (Runner, error) {
	var best Runner
	bestWeight := -1
	for _, b := range r.bindings {
		if !b.pattern.Matches(id) {
			continue
		}
		if b.weight >= bestWeight {
			best = b.runner
			bestWeight = b.weight
		}
	}
	if best == nil {
		return nil, &UnknownStepError{Step: id}
	}
	return best, nil
}
