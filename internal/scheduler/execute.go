package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vk/datakiln/internal/catalog"
	"github.com/vk/datakiln/internal/checksum"
	"github.com/vk/datakiln/internal/ctxlog"
	"github.com/vk/datakiln/internal/registry"
	"github.com/vk/datakiln/internal/staleness"
	"github.com/vk/datakiln/internal/stepid"
)

// Executor runs plans. It is stateless across runs; all per-run state
// lives in the run nodes built for each Execute call.
type Executor struct {
	Registry *registry.Registry
	Catalog  *catalog.Catalog
	Computer *checksum.Computer
	// Workers bounds concurrent step execution; values below 1 are
	// treated as 1.
	Workers int
	// FailFast cancels the whole run on the first failure instead of
	// letting unrelated branches finish.
	FailFast bool
}

// nodeState is the execution-time lifecycle of a planned step.
type nodeState int32

const (
	statePending nodeState = iota
	stateRunning
	stateDone
	stateFailed
	stateSkipped
)

// runNode is the mutable execution-time counterpart of a plan item.
type runNode struct {
	item Item
	// allDeps are the step's direct graph dependencies, planned or not;
	// runners receive all of their output locations.
	allDeps    []stepid.Identity
	dependents []*runNode
	// pending counts unfinished in-plan dependencies; the node becomes
	// ready when it reaches zero. Failed dependencies never decrement.
	pending atomic.Int32
	state   atomic.Int32
	// skipOnce guarantees a node is skipped exactly once even when
	// several failed ancestors cascade into it.
	skipOnce sync.Once
	err      error
	reason   string
	duration time.Duration
}

// Execute runs every item in the plan on a worker pool, respecting the
// plan's partial order. It always returns a report covering the whole
// query closure; the error return is reserved for setup problems (an
// unresolvable runner), not step failures.
func (e *Executor) Execute(ctx context.Context, plan *Plan) (*Report, error) {
	logger := ctxlog.FromContext(ctx)
	started := time.Now()

	// Resolve every runner up front: an unknown step is a structural
	// error and must abort before any work starts.
	runners := make(map[stepid.Identity]registry.Runner, len(plan.Items))
	for _, item := range plan.Items {
		runner, err := e.Registry.Resolve(item.Identity)
		if err != nil {
			return nil, err
		}
		runners[item.Identity] = runner
	}

	nodes := buildRunNodes(plan)

	workers := e.Workers
	if workers < 1 {
		workers = 1
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	readyChan := make(chan *runNode, len(nodes))
	var wg sync.WaitGroup
	wg.Add(len(nodes))

	rootCount := 0
	for _, node := range nodes {
		if node.pending.Load() == 0 {
			readyChan <- node
			rootCount++
		}
	}
	logger.Debug("Executor starting.", "planned", len(nodes), "roots", rootCount, "workers", workers)

	for i := 0; i < workers; i++ {
		go e.worker(runCtx, i, readyChan, cancel, &wg, runners)
	}

	wg.Wait()
	close(readyChan)
	logger.Debug("Executor finished.", "elapsed", time.Since(started).String())

	return e.buildReport(plan, nodes, started), nil
}

// buildRunNodes wires plan items into mutable nodes with dependency
// counters.
func buildRunNodes(plan *Plan) map[stepid.Identity]*runNode {
	nodes := make(map[stepid.Identity]*runNode, len(plan.Items))
	for _, item := range plan.Items {
		nodes[item.Identity] = &runNode{
			item:    item,
			allDeps: plan.graph.Node(item.Identity).Dependencies,
		}
	}
	for _, node := range nodes {
		deps := plan.inPlanDeps[node.item.Identity]
		for _, dep := range deps {
			nodes[dep].dependents = append(nodes[dep].dependents, node)
		}
		node.pending.Store(int32(len(deps)))
	}
	return nodes
}

// worker is the processing loop for one pool worker.
func (e *Executor) worker(ctx context.Context, workerID int, readyChan chan *runNode, cancel context.CancelFunc, wg *sync.WaitGroup, runners map[stepid.Identity]registry.Runner) {
	logger := ctxlog.FromContext(ctx).With("workerID", workerID)

	for node := range readyChan {
		if ctx.Err() != nil {
			e.skipNode(ctx, node, wg, "run cancelled", ctx.Err())
			continue
		}

		stepLogger := logger.With("step", node.item.Identity.String())
		stepLogger.Info("Executing step.", "reason", string(node.item.Reason))
		node.state.Store(int32(stateRunning))

		begun := time.Now()
		err := e.runStep(ctx, node, runners[node.item.Identity])
		node.duration = time.Since(begun)

		if err != nil {
			stepLogger.Error("Step failed.", "error", err)
			node.state.Store(int32(stateFailed))
			node.err = err
			node.reason = "run failed"
			if e.FailFast {
				cancel()
			}
			e.cascadeSkip(ctx, node, wg)
			wg.Done()
			continue
		}

		stepLogger.Info("Step built.", "duration", node.duration.Round(time.Millisecond).String())
		node.state.Store(int32(stateDone))

		for _, dependent := range node.dependents {
			if dependent.pending.Add(-1) == 0 {
				readyChan <- dependent
			}
		}
		wg.Done()
	}
}

// runStep invokes the runner and, on success, persists the fresh
// checksum record. The record write is part of the step's success: a
// built output without a record merely gets rebuilt next run, whereas a
// record without a finished output would poison every future staleness
// decision.
func (e *Executor) runStep(ctx context.Context, node *runNode, runner registry.Runner) error {
	id := node.item.Identity

	task := &registry.Task{
		Identity:          id,
		OutputDir:         e.Catalog.OutputDir(id),
		DependencyOutputs: make(map[string]string, len(node.allDeps)),
	}
	task.SourceDir, task.SourcePrefix = e.Computer.SourceLocation(id)
	for _, dep := range node.allDeps {
		task.DependencyOutputs[dep.String()] = e.Catalog.OutputDir(dep)
	}

	if err := runner.Run(ctx, task); err != nil {
		return err
	}
	if err := e.Catalog.WriteRecord(ctx, id, node.item.Digest); err != nil {
		return fmt.Errorf("step succeeded but record write failed: %w", err)
	}
	return nil
}

// skipNode marks a node skipped exactly once and cascades onward.
func (e *Executor) skipNode(ctx context.Context, node *runNode, wg *sync.WaitGroup, reason string, err error) {
	node.skipOnce.Do(func() {
		ctxlog.FromContext(ctx).Warn("Skipping step.", "step", node.item.Identity.String(), "reason", reason)
		node.state.Store(int32(stateSkipped))
		node.reason = reason
		node.err = err
		wg.Done()
		e.cascadeSkip(ctx, node, wg)
	})
}

// cascadeSkip skips every not-yet-started dependent, transitively.
// Already-running unrelated branches are untouched.
func (e *Executor) cascadeSkip(ctx context.Context, node *runNode, wg *sync.WaitGroup) {
	for _, dependent := range node.dependents {
		e.skipNode(ctx, dependent, wg, fmt.Sprintf("upstream failure of %s", node.item.Identity), nil)
	}
}

// buildReport assembles the final report over the whole closure, fresh
// and broken steps included.
func (e *Executor) buildReport(plan *Plan, nodes map[stepid.Identity]*runNode, started time.Time) *Report {
	report := &Report{Started: started}

	for _, id := range plan.closure {
		if node, ok := nodes[id]; ok {
			result := StepResult{
				Identity: id,
				Duration: node.duration,
				Err:      node.err,
			}
			switch nodeState(node.state.Load()) {
			case stateDone:
				result.Outcome = OutcomeBuilt
				result.Reason = string(node.item.Reason)
				result.Digest = node.item.Digest
			case stateFailed:
				result.Outcome = OutcomeFailed
				result.Reason = node.reason
			case stateSkipped:
				result.Outcome = OutcomeSkipped
				result.Reason = node.reason
			default:
				// Pending nodes only remain when the run was torn down
				// before they became ready.
				result.Outcome = OutcomeSkipped
				result.Reason = "run cancelled"
			}
			report.Results = append(report.Results, result)
			continue
		}

		// Steps in the closure but not in the plan: fresh ones were
		// skipped by design, broken ones count against this run.
		verdict := plan.eval.Verdict(id)
		switch {
		case verdict.State == staleness.Broken && verdict.Reason == staleness.ReasonBrokenAncestor:
			report.Results = append(report.Results, StepResult{
				Identity: id, Outcome: OutcomeSkipped, Reason: string(verdict.Reason),
			})
		case verdict.State == staleness.Broken:
			report.Results = append(report.Results, StepResult{
				Identity: id, Outcome: OutcomeFailed, Reason: string(verdict.Reason), Err: verdict.Err,
			})
		default:
			report.Results = append(report.Results, StepResult{
				Identity: id, Outcome: OutcomeFresh, Reason: string(verdict.Reason),
			})
		}
	}

	sortResults(report.Results, plan.closure)
	report.Elapsed = time.Since(started)
	return report
}
