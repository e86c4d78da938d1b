// Package syncbridge lets synchronous callers run cooperative work on an
// executor loop, whatever kind of goroutine they are on.
//
// A Loop is a single-goroutine executor. Code running on a loop finds a
// SchedulerHandle in its context; Run inspects that handle and picks exactly
// one way of executing the work:
//
//   - no handle, or an inactive one: a transient loop is created for the call
//   - the caller owns an idle loop: the work runs on it directly
//   - the caller owns a loop that is busy: the work runs on a helper goroutine
//     with its own transient loop, bounded by a timeout
//   - the handle belongs to another goroutine's loop: the work is submitted
//     to that loop and the caller waits for it
package syncbridge
