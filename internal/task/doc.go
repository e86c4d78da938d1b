// Package task provides admission control for expensive downstream calls.
//
// A ThrottledQueue accepts work from any number of producers and starts it
// from a single consumer loop, at most one job per configured interval. Each
// enqueued job yields a Future that is resolved exactly once with the job's
// value or error. Jobs may overlap when one outlives the interval; only their
// start times are spaced.
package task
