// Package probe polls the backend root URL until it answers HTTP 200.
package probe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

const (
	defaultMaxAttempts    = 30
	defaultInterval       = 1 * time.Second
	defaultRequestTimeout = 2 * time.Second
)

// ReadinessTimeout reports that the probe budget was exhausted without a
// single HTTP 200 response.
type ReadinessTimeout struct {
	URL      string
	Attempts int
}

func (e *ReadinessTimeout) Error() string {
	return fmt.Sprintf("backend at %s not ready after %d attempts", e.URL, e.Attempts)
}

// Poller issues sequential readiness probes on a fixed interval. Any HTTP
// status is a valid response; only 200 satisfies readiness. Transport-level
// failures and non-200 statuses both consume one attempt.
type Poller struct {
	maxAttempts    int
	interval       time.Duration
	requestTimeout time.Duration
	postReadyDelay time.Duration
}

// NewPoller creates a poller with the given budget.
func NewPoller(maxAttempts int, interval, requestTimeout, postReadyDelay time.Duration) *Poller {
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	if interval <= 0 {
		interval = defaultInterval
	}
	if requestTimeout <= 0 {
		requestTimeout = defaultRequestTimeout
	}
	return &Poller{
		maxAttempts:    maxAttempts,
		interval:       interval,
		requestTimeout: requestTimeout,
		postReadyDelay: postReadyDelay,
	}
}

// WaitUntilReady probes url until the first HTTP 200 or the attempt budget is
// exhausted. On success it sleeps the post-ready delay (static assets settle
// asynchronously after the server starts answering) before returning the
// number of attempts used.
func (p *Poller) WaitUntilReady(ctx context.Context, url string) (int, error) {
	attempts := 0

	client := retryablehttp.NewClient()
	client.RetryMax = p.maxAttempts - 1
	client.RetryWaitMin = p.interval
	client.RetryWaitMax = p.interval
	client.Logger = nil
	client.HTTPClient.Timeout = p.requestTimeout
	client.CheckRetry = func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		if err != nil {
			log.Printf("probe_event=attempt attempt=%d url=%q ok=false error=%q", attempts, url, err.Error())
			return true, nil
		}
		if resp.StatusCode != http.StatusOK {
			log.Printf("probe_event=attempt attempt=%d url=%q ok=false status=%d", attempts, url, resp.StatusCode)
			return true, nil
		}
		return false, nil
	}
	client.RequestLogHook = func(_ retryablehttp.Logger, _ *http.Request, _ int) {
		attempts++
	}
	// Responses that trigger a retry must be drained so connections are reused.
	client.ErrorHandler = func(resp *http.Response, err error, numTries int) (*http.Response, error) {
		if resp != nil {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}
		return nil, &ReadinessTimeout{URL: url, Attempts: numTries}
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("invalid probe url: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return attempts, ctx.Err()
		}
		var timeout *ReadinessTimeout
		if !errors.As(err, &timeout) {
			timeout = &ReadinessTimeout{URL: url, Attempts: attempts}
		}
		log.Printf("probe_event=exhausted url=%q attempts=%d", url, timeout.Attempts)
		return timeout.Attempts, timeout
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	log.Printf("probe_event=ready url=%q attempts=%d", url, attempts)

	// One more fixed delay before declaring overall readiness.
	if p.postReadyDelay > 0 {
		select {
		case <-time.After(p.postReadyDelay):
		case <-ctx.Done():
			return attempts, ctx.Err()
		}
	}

	return attempts, nil
}
