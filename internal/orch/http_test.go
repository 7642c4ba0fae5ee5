package orch

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestListEntitiesSendsAuthAndScope(t *testing.T) {
	var gotAuth, gotScope string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotScope = r.URL.Query().Get("scope")
		if r.URL.Path != "/api/tasks" {
			t.Errorf("path = %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"items": []map[string]any{{"id": "t1"}, {"id": "t2"}},
		})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "tok-1")
	items, err := c.ListEntities(context.Background(), EntityTask, Filter{ScopeID: "scope-1"})
	if err != nil {
		t.Fatalf("ListEntities() error = %v", err)
	}
	if len(items) != 2 {
		t.Errorf("items = %d, want 2", len(items))
	}
	if gotAuth != "Bearer tok-1" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotScope != "scope-1" {
		t.Errorf("scope = %q", gotScope)
	}
}

func TestListEntitiesSurfacesHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "")
	if _, err := c.ListEntities(context.Background(), EntityTask, Filter{}); err == nil {
		t.Error("error = nil, want status error")
	}
}

func TestCheckSpawnGuardUnsupportedEndpoint(t *testing.T) {
	for _, code := range []int{http.StatusNotFound, http.StatusNotImplemented} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(code)
		}))
		c := NewHTTPClient(srv.URL, "")
		_, err := c.CheckSpawnGuard(context.Background(), "backend", "t1")
		srv.Close()
		if !errors.Is(err, ErrGuardUnsupported) {
			t.Errorf("status %d: error = %v, want ErrGuardUnsupported", code, err)
		}
	}
}

func TestCheckSpawnGuardVerdict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/spawn-guard/check" {
			t.Errorf("path = %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(GuardVerdict{
			Allowed: false, RateLimitOK: false, QualityOK: true, AssignmentOK: true,
			Reason: "rate limited",
		})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "")
	v, err := c.CheckSpawnGuard(context.Background(), "backend", "t1")
	if err != nil {
		t.Fatalf("CheckSpawnGuard() error = %v", err)
	}
	if v.Allowed || v.RateLimitOK || !v.QualityOK || v.Reason != "rate limited" {
		t.Errorf("verdict = %+v", v)
	}
}

func TestEmitActivityReturnsRunID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"run_id": "run-9"})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "")
	runID, err := c.EmitActivity(context.Background(), Activity{JobID: "j1", Kind: "heartbeat"})
	if err != nil {
		t.Fatalf("EmitActivity() error = %v", err)
	}
	if runID != "run-9" {
		t.Errorf("runID = %q", runID)
	}
}
