package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestAnalyzeSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/analyze" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}

		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req["image_path"] != "/shared/temp/abc.jpg" {
			t.Errorf("unexpected image_path %v", req["image_path"])
		}
		if req["use_ollama"] != true || req["detect_faces"] != true {
			t.Errorf("unexpected flags in request: %v", req)
		}

		json.NewEncoder(w).Encode(map[string]any{
			"description":          "a photo of a cat",
			"detailed_description": "a tabby cat on a windowsill",
			"meta_tags":            []string{"cat", "window"},
			"embedding":            []float64{0.1, 0.2, 0.3},
			"faces_detected":       0,
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second)
	a, err := c.Analyze(context.Background(), "/shared/temp/abc.jpg")
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}

	if a.Description != "a photo of a cat" {
		t.Errorf("unexpected description %q", a.Description)
	}
	if len(a.Embedding) != 3 {
		t.Errorf("expected 3-dim embedding, got %d", len(a.Embedding))
	}
	if len(a.MetaTags) != 2 {
		t.Errorf("expected 2 tags, got %v", a.MetaTags)
	}
}

func TestAnalyzeMissingEmbedding(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"description": "ok"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second)
	if _, err := c.Analyze(context.Background(), "x.jpg"); !errors.Is(err, ErrService) {
		t.Fatalf("expected ErrService, got %v", err)
	}
}

func TestAnalyzeServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second)
	if _, err := c.Analyze(context.Background(), "x.jpg"); !errors.Is(err, ErrService) {
		t.Fatalf("expected ErrService, got %v", err)
	}
}

func TestAnalyzeTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 20*time.Millisecond)
	if _, err := c.Analyze(context.Background(), "x.jpg"); !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestAnalyzeUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	c := NewClient(srv.URL, time.Second)
	if _, err := c.Analyze(context.Background(), "x.jpg"); !errors.Is(err, ErrUnreachable) {
		t.Fatalf("expected ErrUnreachable, got %v", err)
	}
}

func TestEmbedText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embed-text" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req map[string]string
		json.NewDecoder(r.Body).Decode(&req)
		if req["query"] != "sunset over mountains" {
			t.Errorf("unexpected query %q", req["query"])
		}
		json.NewEncoder(w).Encode(map[string]any{"embedding": []float64{1, 2}})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	vec, err := c.EmbedText(context.Background(), "sunset over mountains")
	if err != nil {
		t.Fatalf("EmbedText failed: %v", err)
	}
	if len(vec) != 2 {
		t.Errorf("expected 2-dim embedding, got %d", len(vec))
	}
}

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	if err := NewClient(srv.URL, time.Second).Health(context.Background()); err != nil {
		t.Fatalf("Health failed: %v", err)
	}
}
