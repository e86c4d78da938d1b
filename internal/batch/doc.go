// Package batch applies bulk writes to a remote store that reports partial
// failures, narrowing the working set and retrying within a fixed budget.
package batch
