package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/phrazzld/docsync-api/internal/config"
	"github.com/phrazzld/docsync-api/internal/platform/logger"
)

const testJWTSecret = "test-jwt-secret-that-is-32-chars-long"

// fakeVectorStore answers every endpoint with a success envelope.
type fakeVectorStore struct {
	mu     sync.Mutex
	paths  []string
	bodies []map[string]any
}

func (f *fakeVectorStore) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw, _ := io.ReadAll(r.Body)
	var body map[string]any
	_ = json.Unmarshal(raw, &body)

	f.mu.Lock()
	f.paths = append(f.paths, r.URL.Path)
	f.bodies = append(f.bodies, body)
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"code":2000,"msg":"ok","data":null}`))
}

func (f *fakeVectorStore) requests() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.paths...)
}

func newFakeVectorStore(t *testing.T) (*fakeVectorStore, *httptest.Server) {
	t.Helper()
	store := &fakeVectorStore{}
	srv := httptest.NewServer(store)
	t.Cleanup(srv.Close)
	return store, srv
}

func testConfig(t *testing.T, vectorURL string) *config.Config {
	t.Helper()
	return &config.Config{
		Server: config.ServerConfig{
			Port:            8080,
			LogLevel:        "debug",
			ShutdownTimeout: time.Second,
			LockFile:        filepath.Join(t.TempDir(), "docsync.lock"),
		},
		Auth: config.AuthConfig{
			JWTSecret:            testJWTSecret,
			TokenLifetimeMinutes: 60,
			Issuer:               "api-backend",
			Audience:             "user",
		},
		VectorDB: config.VectorDBConfig{
			BaseURL:         vectorURL + "/vector/v1",
			Timeout:         5 * time.Second,
			RequestInterval: time.Millisecond,
			RecordLimit:     100,
			RetryTimes:      2,
		},
		Scheduler: config.SchedulerConfig{
			ReportSpec:    "@every 1h",
			BridgeTimeout: time.Second,
		},
	}
}

func newTestApplication(t *testing.T, cfg *config.Config) (*application, *logger.TestLogBuffer) {
	t.Helper()
	log, buf := logger.NewTestLogger()
	app, err := newApplication(context.Background(), cfg, log)
	require.NoError(t, err)
	t.Cleanup(app.cleanup)
	return app, buf
}
