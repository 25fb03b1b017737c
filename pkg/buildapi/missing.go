package buildapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/klauspost/compress/gzip"
)

// missingObjectsChunkLimit is the server-side cap on wanted IDs per request.
const missingObjectsChunkLimit = 2000

// MissingObjects asks the build which of the wanted objects it does not
// already have. The input is deduplicated, partitioned into fixed-size
// chunks preserving order, and queried one request per chunk; the returned
// missing set is the concatenation of the per-chunk answers and is always a
// subset of the input.
func (c *Client) MissingObjects(ctx context.Context, buildURL string, wanted []string) ([]string, error) {
	wanted = uniqueNames(wanted)
	var missing []string
	for start := 0; start < len(wanted); start += missingObjectsChunkLimit {
		end := min(start+missingObjectsChunkLimit, len(wanted))
		chunk, err := c.missingObjectsChunk(ctx, buildURL, wanted[start:end])
		if err != nil {
			return nil, err
		}
		missing = append(missing, chunk...)
	}
	c.logger.Debug("missing objects computed", "wanted", len(wanted), "missing", len(missing))
	return missing, nil
}

func (c *Client) missingObjectsChunk(ctx context.Context, buildURL string, wanted []string) ([]string, error) {
	reqURL := buildURL + "/missing_objects"
	payload, err := json.Marshal(struct {
		Wanted []string `json:"wanted"`
	}{Wanted: wanted})
	if err != nil {
		return nil, err
	}

	var compressed bytes.Buffer
	zw := gzip.NewWriter(&compressed)
	if _, err := zw.Write(payload); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}

	build := func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(compressed.Bytes()))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Content-Encoding", "gzip")
		c.applyAuth(req)
		return req, nil
	}

	res, err := doWithRetry(ctx, c.httpClient, build, c.budget, nil)
	if err != nil {
		return nil, err
	}
	if res.status != http.StatusOK {
		return nil, newAPIError(reqURL, res)
	}

	var resp struct {
		Missing []string `json:"missing"`
	}
	if err := json.Unmarshal(res.body, &resp); err != nil {
		return nil, fmt.Errorf("decode missing_objects response: %w", err)
	}
	return resp.Missing, nil
}

// uniqueNames removes duplicates while preserving first-seen order.
func uniqueNames(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, name := range in {
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}
