package buildapi

import (
	"context"
	"errors"
	"io"
	"math/rand"
	"net"
	"net/http"
	"syscall"
	"time"
)

const (
	// DefaultRetryBudget bounds the wall-clock time spent retrying one
	// remote call, measured from its first attempt.
	DefaultRetryBudget = 300 * time.Second

	backoffBase = time.Second
	backoffCap  = 60 * time.Second

	responseLimit = 8 << 20
)

// httpResult is one fully-read HTTP exchange.
type httpResult struct {
	status int
	header http.Header
	body   []byte
}

// doWithRetry runs a rebuilt request until it returns 200, the budget is
// spent, or a non-retryable failure occurs. Retryable conditions are
// disconnect-class transport errors and any non-200 response; backoff
// between attempts is exponential with jitter, capped at backoffCap.
//
// build is invoked once per attempt so streaming request bodies can be
// reproduced. When the budget runs out the last response (or the original
// transport error) is returned, never swallowed.
func doWithRetry(ctx context.Context, client *http.Client, build func(context.Context) (*http.Request, error), budget time.Duration, noRetryStatus func(int) bool) (*httpResult, error) {
	if budget <= 0 {
		budget = DefaultRetryBudget
	}

	start := time.Now()
	backoff := backoffBase
	var lastResult *httpResult
	var lastErr error

	for {
		req, err := build(ctx)
		if err != nil {
			return nil, err
		}

		resp, err := client.Do(req)
		if err != nil {
			if !isTransientNetErr(err) {
				return nil, err
			}
			lastErr = err
			lastResult = nil
		} else {
			body, readErr := io.ReadAll(io.LimitReader(resp.Body, responseLimit))
			resp.Body.Close()
			if readErr != nil {
				if !isTransientNetErr(readErr) {
					return nil, readErr
				}
				lastErr = readErr
				lastResult = nil
			} else {
				res := &httpResult{status: resp.StatusCode, header: resp.Header, body: body}
				if res.status == http.StatusOK {
					return res, nil
				}
				if noRetryStatus != nil && noRetryStatus(res.status) {
					return res, nil
				}
				lastResult = res
				lastErr = nil
			}
		}

		delay := jitter(backoff)
		if time.Since(start)+delay > budget {
			break
		}
		if err := sleepContext(ctx, delay); err != nil {
			return nil, err
		}
		if backoff < backoffCap {
			backoff *= 2
			if backoff > backoffCap {
				backoff = backoffCap
			}
		}
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return lastResult, nil
}

// isTransientNetErr reports whether err is a disconnect-class transport
// failure worth retrying.
func isTransientNetErr(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

// jitter spreads a delay uniformly across [d/2, 3d/2).
func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d/2 + time.Duration(rand.Int63n(int64(d)))
}

// sleepContext waits for d or until ctx is cancelled.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
