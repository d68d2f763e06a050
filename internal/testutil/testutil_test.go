package testutil

import (
	"context"
	"errors"
	"io"
	"net/http"
	"testing"

	"github.com/BTreeMap/SlotChat/internal/models"
)

func TestStubGenerator(t *testing.T) {
	g := NewStubGenerator("hello")
	if got, err := g.Generate(context.Background(), nil); err != nil || got != "hello" {
		t.Errorf("Generate = %q, %v", got, err)
	}
	boom := errors.New("boom")
	g.SetError(boom)
	if _, err := g.Generate(context.Background(), nil); !errors.Is(err, boom) {
		t.Errorf("expected boom, got %v", err)
	}
	if g.Calls() != 2 {
		t.Errorf("Calls = %d, want 2", g.Calls())
	}
}

func TestNewSQLiteStore(t *testing.T) {
	st := NewSQLiteStore(t)
	ctx := context.Background()
	if err := st.Create(ctx, models.NewSession("s1")); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := st.Get(ctx, "s1"); err != nil {
		t.Errorf("Get: %v", err)
	}
}

func TestDoAndDecode(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusAccepted)
		w.Write(body)
	})
	rr := Do(t, h, http.MethodPost, "/x", `{"status":"ok"}`)
	AssertHTTPStatus(t, http.StatusAccepted, rr.Code, "echo")
	if rr.Header().Get("Content-Type") != "application/json" {
		t.Errorf("JSON content type not set")
	}
	var resp models.APIResponse
	MustUnmarshalJSON(t, rr, &resp)
	if resp.Status != "ok" {
		t.Errorf("unexpected status %q", resp.Status)
	}
}
