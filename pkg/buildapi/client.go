// Package buildapi is a client for a flat-manager style build service: a
// missing-object diff, size-bounded multipart upload, static delta upload,
// and the build/job orchestration API (refs, commit, publish, purge, token
// subsets) with resilient retry on every call.
package buildapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// APIError is a non-200 response from the build service. Body holds the
// server's parsed JSON error document, or a synthesized default when the
// response carried none.
type APIError struct {
	URL    string
	Status int
	Body   map[string]any
}

func (e *APIError) Error() string {
	msg, _ := e.Body["message"].(string)
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	return fmt.Sprintf("api error %d from %s: %s", e.Status, e.URL, msg)
}

func newAPIError(reqURL string, res *httpResult) *APIError {
	parsed := make(map[string]any)
	if err := json.Unmarshal(res.body, &parsed); err != nil || len(parsed) == 0 {
		msg := strings.TrimSpace(string(res.body))
		if msg == "" {
			msg = http.StatusText(res.status)
		}
		parsed = map[string]any{
			"status":     res.status,
			"error-type": "no-error-body",
			"message":    msg,
		}
	}
	return &APIError{URL: reqURL, Status: res.status, Body: parsed}
}

// ClientOptions configures the build service client.
type ClientOptions struct {
	Timeout     time.Duration // per-attempt HTTP timeout (default 120s)
	RetryBudget time.Duration // wall-clock retry ceiling (default 300s)
	Logger      *slog.Logger  // defaults to slog.Default()
}

// Client talks to the build service with one long-lived connection pool and
// one bearer token. Derive a second client over the same pool with
// WithToken when a narrower token should perform part of a pipeline.
type Client struct {
	httpClient *http.Client
	token      string
	budget     time.Duration
	logger     *slog.Logger
}

// NewClient creates a build service client.
func NewClient(token string, opts ClientOptions) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 120 * time.Second
	}
	if opts.RetryBudget <= 0 {
		opts.RetryBudget = DefaultRetryBudget
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Client{
		httpClient: &http.Client{Timeout: opts.Timeout},
		token:      strings.TrimSpace(token),
		budget:     opts.RetryBudget,
		logger:     opts.Logger,
	}
}

// WithToken returns a client sharing this client's connection pool and
// settings but authenticating with a different bearer token.
func (c *Client) WithToken(token string) *Client {
	derived := *c
	derived.token = strings.TrimSpace(token)
	return &derived
}

func (c *Client) applyAuth(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

// jsonRequest returns a per-attempt builder for a JSON call.
func (c *Client) jsonRequest(method, reqURL string, payload any) (func(context.Context) (*http.Request, error), error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode request for %s: %w", reqURL, err)
	}
	return func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, method, reqURL, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		c.applyAuth(req)
		return req, nil
	}, nil
}

// call performs one JSON exchange through the retry layer, returning the
// response body of a 200. Any other final status surfaces as *APIError.
func (c *Client) call(ctx context.Context, method, reqURL string, payload any) ([]byte, http.Header, error) {
	build, err := c.jsonRequest(method, reqURL, payload)
	if err != nil {
		return nil, nil, err
	}
	res, err := doWithRetry(ctx, c.httpClient, build, c.budget, nil)
	if err != nil {
		return nil, nil, err
	}
	if res.status != http.StatusOK {
		return nil, nil, newAPIError(reqURL, res)
	}
	return res.body, res.header, nil
}

// resolveLocation resolves a Location header against the request URL.
func resolveLocation(reqURL string, header http.Header) (string, error) {
	loc := strings.TrimSpace(header.Get("Location"))
	if loc == "" {
		return "", fmt.Errorf("response from %s is missing a Location header", reqURL)
	}
	base, err := url.Parse(reqURL)
	if err != nil {
		return "", err
	}
	ref, err := url.Parse(loc)
	if err != nil {
		return "", fmt.Errorf("invalid Location header %q: %w", loc, err)
	}
	return base.ResolveReference(ref).String(), nil
}

// BuildIDFromURL extracts the numeric build ID from a build URL's final
// path segment.
func BuildIDFromURL(buildURL string) (int64, error) {
	u, err := url.Parse(buildURL)
	if err != nil {
		return 0, fmt.Errorf("parse build URL: %w", err)
	}
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	last := segments[len(segments)-1]
	id, err := strconv.ParseInt(last, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("build URL %s does not end in a build ID", buildURL)
	}
	return id, nil
}
