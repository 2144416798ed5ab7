package cloudfetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHTTPFetcherGetSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-Test"); got != "yes" {
			t.Errorf("request missing expected header, got %q", got)
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("chunk-bytes"))
	}))
	defer srv.Close()

	f := NewHTTPFetcher(srv.Client())
	body, err := f.Get(context.Background(), srv.URL, map[string]string{"X-Test": "yes"}, 5*time.Second)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(body) != "chunk-bytes" {
		t.Fatalf("Get body = %q, want %q", body, "chunk-bytes")
	}
}

func TestHTTPFetcherGetPartialContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPartialContent)
		_, _ = w.Write([]byte("partial"))
	}))
	defer srv.Close()

	f := NewHTTPFetcher(srv.Client())
	body, err := f.Get(context.Background(), srv.URL, nil, 5*time.Second)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(body) != "partial" {
		t.Fatalf("Get body = %q, want %q", body, "partial")
	}
}

func TestHTTPFetcherGetForbidden(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	f := NewHTTPFetcher(srv.Client())
	_, err := f.Get(context.Background(), srv.URL, nil, 5*time.Second)
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("Get on a 403 response = %v, want ErrForbidden", err)
	}
}

func TestHTTPFetcherGetNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := NewHTTPFetcher(srv.Client())
	_, err := f.Get(context.Background(), srv.URL, nil, 5*time.Second)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get on a 404 response = %v, want ErrNotFound", err)
	}
}

func TestHTTPFetcherGetServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	f := NewHTTPFetcher(srv.Client())
	_, err := f.Get(context.Background(), srv.URL, nil, 5*time.Second)
	if !errors.Is(err, ErrTransientNetwork) {
		t.Fatalf("Get on a 503 response = %v, want ErrTransientNetwork", err)
	}
}

func TestHTTPFetcherGetUnexpectedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	defer srv.Close()

	f := NewHTTPFetcher(srv.Client())
	_, err := f.Get(context.Background(), srv.URL, nil, 5*time.Second)
	if !errors.Is(err, ErrUpstreamFetchFailure) {
		t.Fatalf("Get on a 418 response = %v, want ErrUpstreamFetchFailure", err)
	}
}

func TestHTTPFetcherGetTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f := NewHTTPFetcher(srv.Client())
	_, err := f.Get(context.Background(), srv.URL, nil, 10*time.Millisecond)
	if !errors.Is(err, ErrTransientNetwork) {
		t.Fatalf("Get that times out = %v, want ErrTransientNetwork", err)
	}
}

func TestNewHTTPFetcherDefaultClient(t *testing.T) {
	f := NewHTTPFetcher(nil)
	if f.client == nil {
		t.Fatal("NewHTTPFetcher(nil) should build a default client")
	}
}
