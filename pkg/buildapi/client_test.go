package buildapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestResolveLocation(t *testing.T) {
	header := http.Header{}
	header.Set("Location", "/api/v1/build/5")
	got, err := resolveLocation("https://hub.example.com/api/v1/build", header)
	if err != nil {
		t.Fatalf("resolveLocation: %v", err)
	}
	if got != "https://hub.example.com/api/v1/build/5" {
		t.Fatalf("resolved = %q", got)
	}

	header.Set("Location", "https://other.example.com/job/2")
	got, err = resolveLocation("https://hub.example.com/api/v1/build", header)
	if err != nil {
		t.Fatalf("resolveLocation absolute: %v", err)
	}
	if got != "https://other.example.com/job/2" {
		t.Fatalf("resolved = %q", got)
	}

	if _, err := resolveLocation("https://hub.example.com/x", http.Header{}); err == nil {
		t.Fatal("expected error for missing Location header")
	}
}

func TestWithTokenSharesPool(t *testing.T) {
	var auths []string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auths = append(auths, r.Header.Get("Authorization"))
		w.Write([]byte(`{}`))
	}))
	defer ts.Close()

	base := testClient(5 * time.Second)
	narrow := base.WithToken("narrow")
	if narrow.httpClient != base.httpClient {
		t.Fatal("derived client does not share the connection pool")
	}

	if _, _, err := base.call(context.Background(), http.MethodGet, ts.URL, map[string]any{}); err != nil {
		t.Fatalf("base call: %v", err)
	}
	if _, _, err := narrow.call(context.Background(), http.MethodGet, ts.URL, map[string]any{}); err != nil {
		t.Fatalf("narrow call: %v", err)
	}
	if auths[0] != "Bearer secret" || auths[1] != "Bearer narrow" {
		t.Fatalf("auth headers = %v", auths)
	}
}

func TestEmptyTokenSendsNoAuthHeader(t *testing.T) {
	var auth string
	var present bool
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth, present = r.Header.Get("Authorization"), len(r.Header.Values("Authorization")) > 0
		w.Write([]byte(`{}`))
	}))
	defer ts.Close()

	c := NewClient("", ClientOptions{RetryBudget: time.Second})
	if _, _, err := c.call(context.Background(), http.MethodGet, ts.URL, map[string]any{}); err != nil {
		t.Fatalf("call: %v", err)
	}
	if present {
		t.Fatalf("unexpected Authorization header %q", auth)
	}
}
