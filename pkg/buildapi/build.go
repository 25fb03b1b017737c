package buildapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/flatpush/flatpush/pkg/ostree"
)

// BuildOptions configures build creation.
type BuildOptions struct {
	Repo           string // target repository name on the service
	AppID          string // optional: restrict the build to one app ID
	PublicDownload *bool  // optional: override the repo's download policy
}

// CreateBuild registers a new build session with the manager and returns
// its URL (from the Location header) and the build document.
func (c *Client) CreateBuild(ctx context.Context, managerURL string, opts BuildOptions) (string, map[string]any, error) {
	if opts.Repo == "" {
		return "", nil, fmt.Errorf("create build: repo name is required")
	}
	payload := map[string]any{"repo": opts.Repo}
	if opts.AppID != "" {
		payload["app-id"] = opts.AppID
	}
	if opts.PublicDownload != nil {
		payload["public-download"] = *opts.PublicDownload
	}

	reqURL := managerURL + "/api/v1/build"
	body, header, err := c.call(ctx, http.MethodPost, reqURL, payload)
	if err != nil {
		return "", nil, err
	}
	buildURL, err := resolveLocation(reqURL, header)
	if err != nil {
		return "", nil, err
	}
	build := make(map[string]any)
	if err := json.Unmarshal(body, &build); err != nil {
		return "", nil, fmt.Errorf("decode build response: %w", err)
	}
	c.logger.Info("created build", "build", buildURL)
	return buildURL, build, nil
}

// GetBuild fetches the build document.
func (c *Client) GetBuild(ctx context.Context, buildURL string) (map[string]any, error) {
	body, _, err := c.call(ctx, http.MethodGet, buildURL, map[string]any{})
	if err != nil {
		return nil, err
	}
	build := make(map[string]any)
	if err := json.Unmarshal(body, &build); err != nil {
		return nil, fmt.Errorf("decode build response: %w", err)
	}
	return build, nil
}

// CreateRef registers one ref of the snapshot against the build. The remote
// creates the commit's objects as a side effect; they are never mutated.
func (c *Client) CreateRef(ctx context.Context, buildURL, ref string, commit ostree.Checksum) error {
	payload := map[string]any{
		"ref":    ref,
		"commit": string(commit),
	}
	if _, _, err := c.call(ctx, http.MethodPost, buildURL+"/build_ref", payload); err != nil {
		return err
	}
	c.logger.Debug("created ref", "ref", ref, "commit", string(commit))
	return nil
}

// AddExtraIDs registers additional app IDs the build is allowed to carry.
func (c *Client) AddExtraIDs(ctx context.Context, buildURL string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	payload := map[string]any{"ids": ids}
	_, _, err := c.call(ctx, http.MethodPost, buildURL+"/add_extra_ids", payload)
	return err
}

// CommitOptions carries the commit call's optional metadata.
type CommitOptions struct {
	EndOfLife       string
	EndOfLifeRebase string
	TokenType       *int
}

// Commit asks the service to seal the build's uploaded refs and objects.
// It returns the async job's URL (from the Location header) plus the job
// document; drive it to completion with WaitForJob.
func (c *Client) Commit(ctx context.Context, buildURL string, opts CommitOptions) (string, *Job, error) {
	payload := map[string]any{
		"endoflife":        opts.EndOfLife,
		"endoflife_rebase": opts.EndOfLifeRebase,
	}
	if opts.TokenType != nil {
		payload["token_type"] = *opts.TokenType
	}

	reqURL := buildURL + "/commit"
	body, header, err := c.call(ctx, http.MethodPost, reqURL, payload)
	if err != nil {
		return "", nil, err
	}
	jobURL, err := resolveLocation(reqURL, header)
	if err != nil {
		return "", nil, err
	}
	job, err := decodeJob(body)
	if err != nil {
		return "", nil, err
	}
	return jobURL, job, nil
}

// Publish asks the service to publish a committed build. Publishing a build
// that is already published is not an error: the service answers 400 with
// current-state "published", reported here as an empty ("", nil) result.
func (c *Client) Publish(ctx context.Context, buildURL string) (string, *Job, error) {
	reqURL := buildURL + "/publish"
	build, err := c.jsonRequest(http.MethodPost, reqURL, map[string]any{})
	if err != nil {
		return "", nil, err
	}
	res, err := doWithRetry(ctx, c.httpClient, build, c.budget, func(status int) bool {
		return status == http.StatusBadRequest
	})
	if err != nil {
		return "", nil, err
	}
	if res.status == http.StatusBadRequest {
		apiErr := newAPIError(reqURL, res)
		if state, _ := apiErr.Body["current-state"].(string); state == "published" {
			c.logger.Info("build is already published")
			return "", nil, nil
		}
		return "", nil, apiErr
	}
	if res.status != http.StatusOK {
		return "", nil, newAPIError(reqURL, res)
	}

	jobURL, err := resolveLocation(reqURL, res.header)
	if err != nil {
		return "", nil, err
	}
	job, err := decodeJob(res.body)
	if err != nil {
		return "", nil, err
	}
	return jobURL, job, nil
}

// Purge discards the build and its uploaded objects.
func (c *Client) Purge(ctx context.Context, buildURL string) error {
	_, _, err := c.call(ctx, http.MethodPost, buildURL+"/purge", map[string]any{})
	return err
}

// TokenSubsetOptions describes a narrowed bearer token to mint.
type TokenSubsetOptions struct {
	Name     string
	Subject  string
	Scope    []string
	Duration int64 // validity in seconds
}

// CreateTokenSubset mints a token carrying a subset of the caller's
// permissions, valid for a bounded duration.
func (c *Client) CreateTokenSubset(ctx context.Context, managerURL string, opts TokenSubsetOptions) (string, error) {
	payload := map[string]any{
		"name":     opts.Name,
		"sub":      opts.Subject,
		"scope":    opts.Scope,
		"duration": opts.Duration,
	}
	body, _, err := c.call(ctx, http.MethodPost, managerURL+"/api/v1/token_subset", payload)
	if err != nil {
		return "", err
	}
	var resp struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decode token_subset response: %w", err)
	}
	if resp.Token == "" {
		return "", fmt.Errorf("token_subset response carried no token")
	}
	return resp.Token, nil
}
