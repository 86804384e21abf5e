// Package scheduler turns a staleness evaluation into an execution plan
// and runs it.
//
// Planning is pure selection and ordering; execution is the only place
// the engine does long-running work, so it runs on a worker pool bounded
// by the DAG's partial order: two steps with no ancestor relationship
// may run concurrently, and a step starts only after every in-plan
// dependency has succeeded.
package scheduler
