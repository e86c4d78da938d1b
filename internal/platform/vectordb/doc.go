// Package vectordb talks to the remote vector store. Every outbound request
// passes through a throttled queue, so the whole process respects a single
// minimum spacing between calls.
package vectordb
