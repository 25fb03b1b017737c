package buildapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ohler55/ojg/oj"
)

// Job status values reported by the build service. Transitions are
// monotonic and server-driven; the client only observes them.
const (
	JobStatusNew     = 0
	JobStatusStarted = 1
	JobStatusEnded   = 2 // any status above JobStatusEnded is a failure
)

// Job is a remote asynchronous task document. Results is itself a
// serialized JSON document; ParsedResults holds its second-pass decoding
// once the job is terminal.
type Job struct {
	ID      int64  `json:"id"`
	Kind    int    `json:"kind"`
	Status  int    `json:"status"`
	Log     string `json:"log"`
	Results string `json:"results"`

	ParsedResults any `json:"-"`
}

// Started reports whether the job has left the queue.
func (j *Job) Started() bool { return j.Status >= JobStatusStarted }

// Finished reports whether the job reached a terminal status.
func (j *Job) Finished() bool { return j.Status >= JobStatusEnded }

// Failed reports whether the job terminated unsuccessfully.
func (j *Job) Failed() bool { return j.Status > JobStatusEnded }

func decodeJob(body []byte) (*Job, error) {
	job := &Job{}
	if err := json.Unmarshal(body, job); err != nil {
		return nil, fmt.Errorf("decode job response: %w", err)
	}
	return job, nil
}

// parseJobResults re-parses the results field from its embedded JSON-string
// form. A results payload that is not valid JSON is kept verbatim rather
// than failing the job wait.
func parseJobResults(raw string) any {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	val, err := oj.ParseString(raw)
	if err != nil {
		return raw
	}
	return val
}

// JobFailedError reports a job that reached a terminal failure status.
type JobFailedError struct {
	Job *Job
}

func (e *JobFailedError) Error() string {
	return fmt.Sprintf("job %d failed with status %d", e.Job.ID, e.Job.Status)
}

// GetJob fetches a job document without polling semantics.
func (c *Client) GetJob(ctx context.Context, jobURL string) (*Job, error) {
	body, _, err := c.call(ctx, http.MethodGet, jobURL, map[string]any{})
	if err != nil {
		return nil, err
	}
	return decodeJob(body)
}

// pollJob is a single poll attempt requesting only log bytes past offset.
// It bypasses the retry layer; WaitForJob owns failure handling.
func (c *Client) pollJob(ctx context.Context, jobURL string, logOffset int) (*Job, error) {
	payload, err := json.Marshal(map[string]any{"log-offset": logOffset})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, jobURL, strings.NewReader(string(payload)))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	c.applyAuth(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	body, readErr := io.ReadAll(io.LimitReader(resp.Body, responseLimit))
	resp.Body.Close()
	if readErr != nil {
		return nil, readErr
	}
	if resp.StatusCode != http.StatusOK {
		return nil, newAPIError(jobURL, &httpResult{status: resp.StatusCode, header: resp.Header, body: body})
	}
	return decodeJob(body)
}

// maxConsecutivePollErrors bounds how many non-200 polls in a row are
// tolerated before the job wait escalates the API error.
const maxConsecutivePollErrors = 5

// pollDelay is a step function of the number of polls since the log last
// changed: quick while the job is chatty, ramping politeness while it idles.
func pollDelay(unchanged int) time.Duration {
	switch {
	case unchanged <= 1:
		return 1 * time.Second
	case unchanged < 5:
		return 3 * time.Second
	case unchanged < 15:
		return 5 * time.Second
	case unchanged < 30:
		return 10 * time.Second
	default:
		return 60 * time.Second
	}
}

// WaitForJob polls a job to its terminal status, streaming new log bytes to
// out as they arrive. Each poll requests only log bytes past the read
// offset; new output resets the delay to its fastest tier. Transient
// transport resets are swallowed; more than maxConsecutivePollErrors non-200
// responses in a row escalate. The returned terminal job carries its
// results field re-parsed from its embedded JSON-string form; a failed job
// is returned together with a *JobFailedError.
func (c *Client) WaitForJob(ctx context.Context, jobURL string, out io.Writer) (*Job, error) {
	logOffset := 0
	unchanged := 0
	apiFailures := 0
	started := false

	for {
		job, err := c.pollJob(ctx, jobURL, logOffset)
		switch {
		case err == nil:
			apiFailures = 0
			if len(job.Log) > 0 {
				fmt.Fprint(out, job.Log)
				logOffset += len(job.Log)
				unchanged = 0
			} else {
				unchanged++
			}
			if !started && job.Started() {
				started = true
				fmt.Fprintln(out, "Job was started")
			}
			if job.Finished() {
				job.ParsedResults = parseJobResults(job.Results)
				if job.Failed() {
					fmt.Fprintln(out, "Job failed")
					return job, &JobFailedError{Job: job}
				}
				fmt.Fprintln(out, "Job completed successfully")
				return job, nil
			}
		case isAPIError(err):
			apiFailures++
			if apiFailures > maxConsecutivePollErrors {
				return nil, err
			}
		case isTransientNetErr(err):
			// A reset mid-poll is not a hard failure; the next poll retries.
		default:
			return nil, err
		}

		if err := sleepContext(ctx, pollDelay(unchanged)); err != nil {
			return nil, err
		}
	}
}

func isAPIError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr)
}
