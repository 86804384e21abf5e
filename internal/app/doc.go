// Package app wires the engine together: configuration in, manifest to
// graph, graph to evaluation, evaluation to plan, plan to execution,
// outcomes to the ledger. It owns the application logger and the afs
// service every component shares.
package app
