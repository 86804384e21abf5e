// Package registry resolves step identities to their runnable
// implementations. It is a lookup table only: the actual transformation
// logic lives behind the Runner interface, outside the engine.
package registry
