// Package testutil provides common test helpers for SlotChat packages that
// sit above the chat engine.
package testutil

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/BTreeMap/SlotChat/internal/genai"
	"github.com/BTreeMap/SlotChat/internal/store"
)

// StubGenerator is a flow.Generator returning a fixed reply or error.
type StubGenerator struct {
	mu    sync.Mutex
	reply string
	err   error
	calls int
}

// NewStubGenerator returns a generator that always answers reply.
func NewStubGenerator(reply string) *StubGenerator {
	return &StubGenerator{reply: reply}
}

// Generate records the call and returns the configured reply or error.
func (g *StubGenerator) Generate(context.Context, []genai.Message) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	return g.reply, g.err
}

// SetError makes later calls fail with err; nil restores the reply.
func (g *StubGenerator) SetError(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.err = err
}

// Calls returns how many times Generate ran.
func (g *StubGenerator) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

// NewSQLiteStore opens a SQLite store in a per-test temp directory and closes
// it when the test ends.
func NewSQLiteStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLiteStore(store.WithSQLiteDSN(filepath.Join(t.TempDir(), "slotchat.db")))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t *testing.T, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// Do sends a request through h. A non-empty body is sent as JSON.
func Do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

// MustUnmarshalJSON decodes the recorded body into target or fails the test.
func MustUnmarshalJSON(t *testing.T, rr *httptest.ResponseRecorder, target interface{}) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to unmarshal JSON %q: %v", rr.Body.String(), err)
	}
}
