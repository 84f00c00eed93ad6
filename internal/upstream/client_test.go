package upstream

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/composer-registry/server/internal/core/services"
)

func TestFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/packages.json" {
			w.Write([]byte(`{"providers": {}}`))
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	client := NewHTTPClient(5 * time.Second)

	data, err := client.Fetch(context.Background(), srv.URL+"/packages.json")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if string(data) != `{"providers": {}}` {
		t.Errorf("data = %q", data)
	}
}

func TestFetchNotFound(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	client := NewHTTPClient(5 * time.Second)

	_, err := client.Fetch(context.Background(), srv.URL+"/missing.json")
	if !errors.Is(err, services.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestFetchServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewHTTPClient(5 * time.Second)

	_, err := client.Fetch(context.Background(), srv.URL+"/packages.json")
	if err == nil {
		t.Fatal("expected error for 500 response")
	}
	if errors.Is(err, services.ErrNotFound) {
		t.Error("500 must not map to ErrNotFound")
	}
}

func TestOpenStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("artifact bytes"))
	}))
	defer srv.Close()

	client := NewHTTPClient(5 * time.Second)

	rc, err := client.OpenStream(context.Background(), srv.URL+"/a.zip")
	if err != nil {
		t.Fatalf("OpenStream: %v", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("reading stream: %v", err)
	}
	if string(data) != "artifact bytes" {
		t.Errorf("data = %q", data)
	}
}
