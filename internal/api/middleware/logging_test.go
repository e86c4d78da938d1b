package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/docsync-api/internal/platform/logger"
)

func TestRequestLogger(t *testing.T) {
	t.Parallel()

	log, buf := logger.NewTestLogger()
	h := chimw.RequestID(RequestLogger(log)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Info("inside handler")
		w.WriteHeader(http.StatusTeapot)
	})))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/brew", nil))
	require.Equal(t, http.StatusTeapot, w.Code)

	entries, err := buf.Entries()
	require.NoError(t, err)

	var inside, completed map[string]any
	for _, e := range entries {
		switch e["msg"] {
		case "inside handler":
			inside = e
		case "request completed":
			completed = e
		}
	}
	require.NotNil(t, inside)
	require.NotNil(t, completed)
	assert.NotEmpty(t, inside["trace_id"])
	assert.Equal(t, inside["trace_id"], completed["trace_id"])
	assert.Equal(t, float64(http.StatusTeapot), completed["status"])
	assert.Equal(t, "/brew", completed["path"])
}
