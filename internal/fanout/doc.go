// Package fanout runs a list of independent computations concurrently and
// collects their results in submission order, optionally bounding how many
// run at once by launching them in consecutive chunks.
package fanout
