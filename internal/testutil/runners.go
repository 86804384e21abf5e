package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/vk/datakiln/internal/registry"
)

// RecordingRunner is a registry.Runner that records the order steps were
// invoked in and can be told to fail or block on specific steps. It is
// safe for concurrent use.
type RecordingRunner struct {
	mu       sync.Mutex
	invoked  []string
	failures map[string]error
	// Gate, when set for a URI, is closed by the test to let that step
	// finish; it simulates a long-running step.
	gates map[string]chan struct{}
}

// NewRecordingRunner creates an empty recording runner.
func NewRecordingRunner() *RecordingRunner {
	return &RecordingRunner{
		failures: make(map[string]error),
		gates:    make(map[string]chan struct{}),
	}
}

// FailOn makes the runner fail the given step URI.
func (r *RecordingRunner) FailOn(uri string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures[uri] = fmt.Errorf("injected failure for %s", uri)
}

// GateOn makes the given step block until ReleaseGate is called.
func (r *RecordingRunner) GateOn(uri string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gates[uri] = make(chan struct{})
}

// ReleaseGate unblocks a step previously gated with GateOn.
func (r *RecordingRunner) ReleaseGate(uri string) {
	r.mu.Lock()
	gate := r.gates[uri]
	r.mu.Unlock()
	if gate != nil {
		close(gate)
	}
}

// Run implements registry.Runner.
func (r *RecordingRunner) Run(ctx context.Context, task *registry.Task) error {
	uri := task.Identity.String()

	r.mu.Lock()
	gate := r.gates[uri]
	r.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.invoked = append(r.invoked, uri)
	if err, ok := r.failures[uri]; ok {
		return err
	}
	return nil
}

// Invoked returns a copy of the step URIs run so far, in completion
// order.
func (r *RecordingRunner) Invoked() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.invoked...)
}

// InvokedSet returns the invoked URIs as a membership set.
func (r *RecordingRunner) InvokedSet() map[string]bool {
	set := make(map[string]bool)
	for _, uri := range r.Invoked() {
		set[uri] = true
	}
	return set
}

// Reset clears the invocation record but keeps failure and gate
// configuration.
func (r *RecordingRunner) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.invoked = nil
}

// ClearFailures removes every injected failure, simulating a fixed step.
func (r *RecordingRunner) ClearFailures() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = make(map[string]error)
}
