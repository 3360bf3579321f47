package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func flakyServer(failures int, body string) (*httptest.Server, *int) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls <= failures {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(body))
	}))
	return srv, &calls
}

func newTestClient(maxAttempts int) *Client {
	return NewClient(&http.Client{Timeout: time.Second}, Options{
		MaxAttempts: maxAttempts,
		RetryDelay:  time.Millisecond,
	})
}

func TestFetchSucceedsAfterTransientFailures(t *testing.T) {
	srv, calls := flakyServer(3, "station,valid\n")
	defer srv.Close()

	body, ok := newTestClient(10).Fetch(context.Background(), srv.URL)
	if !ok {
		t.Fatal("expected success on the fourth attempt")
	}
	if body != "station,valid\n" {
		t.Fatalf("unexpected body %q", body)
	}
	if *calls != 4 {
		t.Fatalf("expected 4 calls, got %d", *calls)
	}
}

func TestFetchExhaustsAttemptBudget(t *testing.T) {
	srv, calls := flakyServer(3, "unreached")
	defer srv.Close()

	body, ok := newTestClient(3).Fetch(context.Background(), srv.URL)
	if ok {
		t.Fatal("expected failure after exhausting 3 attempts")
	}
	if body != "" {
		t.Fatalf("expected empty body, got %q", body)
	}
	if *calls != 3 {
		t.Fatalf("expected 3 calls, got %d", *calls)
	}
}

func TestFetchRetriesErrorMarkedBody(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.Write([]byte("ERROR: Invalid request\n"))
			return
		}
		w.Write([]byte("data\n"))
	}))
	defer srv.Close()

	body, ok := newTestClient(5).Fetch(context.Background(), srv.URL)
	if !ok || body != "data\n" {
		t.Fatalf("expected retry past rejected body, got ok=%v body=%q", ok, body)
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}

func TestFetchHonorsContextCancellation(t *testing.T) {
	srv, _ := flakyServer(100, "")
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, ok := newTestClient(10).Fetch(ctx, srv.URL); ok {
		t.Fatal("expected failure under canceled context")
	}
}
