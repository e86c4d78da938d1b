// Package api exposes the vector store operations over HTTP. Handlers decode
// and validate requests, call the vectordb operator and translate internal
// errors into status codes.
package api
