package scheduler

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/vk/datakiln/internal/stepid"
)

// Outcome is the per-step result a run reports.
type Outcome string

const (
	// OutcomeFresh: the step was up to date and skipped without work.
	OutcomeFresh Outcome = "fresh"
	// OutcomeBuilt: the step executed and its record was persisted.
	OutcomeBuilt Outcome = "built"
	// OutcomeFailed: the step's runner returned an error (or its
	// checksum could not be computed).
	OutcomeFailed Outcome = "failed"
	// OutcomeSkipped: the step never started because an ancestor failed
	// or the run was cancelled.
	OutcomeSkipped Outcome = "skipped"
)

// StepResult is the final report line for one step in the closure.
type StepResult struct {
	Identity stepid.Identity
	Outcome  Outcome
	// Reason is the plan reason for built steps, or a short cause for
	// failed/skipped ones.
	Reason string
	// Digest is the checksum persisted to the catalog; set only for
	// built steps.
	Digest   string
	Duration time.Duration
	Err      error
}

// Report summarizes a run over the whole query closure, in topological
// order.
type Report struct {
	Results []StepResult
	Started time.Time
	Elapsed time.Duration
}

// Counts returns the number of steps per outcome.
func (r *Report) Counts() map[Outcome]int {
	counts := make(map[Outcome]int)
	for _, res := range r.Results {
		counts[res.Outcome]++
	}
	return counts
}

// Failed reports whether any step failed or was skipped; it drives the
// process exit code.
func (r *Report) Failed() bool {
	for _, res := range r.Results {
		if res.Outcome == OutcomeFailed || res.Outcome == OutcomeSkipped {
			return true
		}
	}
	return false
}

// Executed returns how many steps actually ran.
func (r *Report) Executed() int {
	return r.Counts()[OutcomeBuilt] + r.Counts()[OutcomeFailed]
}

// Result returns the result for a step, or a zero StepResult if the
// step is not in the report.
func (r *Report) Result(id stepid.Identity) StepResult {
	for _, res := range r.Results {
		if res.Identity == id {
			return res
		}
	}
	return StepResult{}
}

// Render writes the aligned run summary.
func (r *Report) Render(w io.Writer) {
	width := 0
	for _, res := range r.Results {
		if n := len(res.Identity.String()); n > width {
			width = n
		}
	}
	for _, res := range r.Results {
		line := fmt.Sprintf("%-*s  %-7s  %s", width, res.Identity, res.Outcome, res.Reason)
		if res.Outcome == OutcomeBuilt {
			line += fmt.Sprintf("  (%s)", res.Duration.Round(time.Millisecond))
		}
		if res.Err != nil {
			line += fmt.Sprintf("  error: %v", res.Err)
		}
		fmt.Fprintln(w, line)
	}

	counts := r.Counts()
	fmt.Fprintf(w, "\n%d built, %d fresh, %d failed, %d skipped in %s\n",
		counts[OutcomeBuilt], counts[OutcomeFresh], counts[OutcomeFailed], counts[OutcomeSkipped],
		r.Elapsed.Round(time.Millisecond),
	)
}

// sortResults orders results to match the given topological order.
func sortResults(results []StepResult, order []stepid.Identity) {
	rank := make(map[stepid.Identity]int, len(order))
	for i, id := range order {
		rank[id] = i
	}
	sort.SliceStable(results, func(i, j int) bool {
		return rank[results[i].Identity] < rank[results[j].Identity]
	})
}
