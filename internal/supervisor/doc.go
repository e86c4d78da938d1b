// Package supervisor ties background work to the lifetime of the client
// connection that triggered it.
//
// Every request served through a Supervisor gets a RequestContext: a
// registry of cancellable tasks bound into the request's context. Tasks
// started with Go keep running after the handler returns, but are cancelled
// together if the client disconnects before the handler finishes.
package supervisor
