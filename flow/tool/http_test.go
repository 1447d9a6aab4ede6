package tool

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHTTPTool(t *testing.T) {
	ctx := context.Background()

	t.Run("JSON round trip", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				t.Errorf("expected POST, got %s", r.Method)
			}
			if ct := r.Header.Get("Content-Type"); ct != "application/json" {
				t.Errorf("unexpected content type %s", ct)
			}
			var in map[string]any
			if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
				t.Errorf("bad request body: %v", err)
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"echo": in["query"]})
		}))
		defer srv.Close()

		ht := NewHTTPTool("echo", srv.URL)
		out, err := ht.Call(ctx, map[string]interface{}{"query": "ping"})
		if err != nil {
			t.Fatal(err)
		}
		if out["echo"] != "ping" {
			t.Errorf("unexpected result %v", out)
		}
	})

	t.Run("nil input sends empty object", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var in map[string]any
			if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
				t.Errorf("nil input must encode as {}: %v", err)
			}
			_, _ = w.Write([]byte(`{"ok":true}`))
		}))
		defer srv.Close()

		if _, err := NewHTTPTool("noop", srv.URL).Call(ctx, nil); err != nil {
			t.Fatal(err)
		}
	})

	t.Run("non-2xx status is an error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "nope", http.StatusBadGateway)
		}))
		defer srv.Close()

		_, err := NewHTTPTool("proxy", srv.URL).Call(ctx, nil)
		if err == nil || !strings.Contains(err.Error(), "502") {
			t.Fatalf("expected HTTP 502 error, got %v", err)
		}
	})

	t.Run("non-JSON response surfaced raw", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("plain text"))
		}))
		defer srv.Close()

		out, err := NewHTTPTool("legacy", srv.URL).Call(ctx, nil)
		if err != nil {
			t.Fatal(err)
		}
		if out["status_code"] != http.StatusOK || out["body"] != "plain text" {
			t.Errorf("unexpected result %v", out)
		}
	})

	t.Run("name", func(t *testing.T) {
		if NewHTTPTool("lookup_order", "http://invalid").Name() != "lookup_order" {
			t.Error("unexpected name")
		}
	})
}
