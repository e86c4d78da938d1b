package shared

import (
	"context"

	chimw "github.com/go-chi/chi/v5/middleware"
)

// ContextKey is the type of request context keys set by the API.
type ContextKey string

// SubjectContextKey is the context key for the authenticated token subject.
const SubjectContextKey ContextKey = "subject"

// WithSubject returns a copy of ctx carrying the authenticated subject.
func WithSubject(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, SubjectContextKey, subject)
}

// GetSubject returns the authenticated subject, if any.
func GetSubject(ctx context.Context) (string, bool) {
	subject, ok := ctx.Value(SubjectContextKey).(string)
	return subject, ok && subject != ""
}

// GetTraceID returns the request id assigned by the router, or "" outside
// a routed request.
func GetTraceID(ctx context.Context) string {
	return chimw.GetReqID(ctx)
}
