package transcribe

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"
)

// defaultBackoff is the wait before the second attempt; it doubles after that.
const defaultBackoff = time.Second

// doWithRetry sends the request built by newReq up to attempts times and
// returns the body of the first 200 response. Transport errors, 429 and 5xx
// are retried; other statuses fail immediately. Any non-success outcome is
// returned as a single *Failure.
func doWithRetry(ctx context.Context, client *http.Client, provider string, attempts int, backoff time.Duration, newReq func() (*http.Request, error)) ([]byte, error) {
	if attempts < 1 {
		attempts = 1
	}
	if backoff <= 0 {
		backoff = defaultBackoff
	}

	var fail *Failure
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, fail
			case <-time.After(backoff << (attempt - 2)):
			}
		}

		req, err := newReq()
		if err != nil {
			return nil, &Failure{Provider: provider, Message: "create request", Err: err}
		}

		resp, err := client.Do(req)
		if err != nil {
			fail = &Failure{Provider: provider, Err: err}
			if ctx.Err() != nil {
				return nil, fail
			}
			continue
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			fail = &Failure{Provider: provider, Message: "read response", Err: err}
			continue
		}

		if resp.StatusCode == http.StatusOK {
			return body, nil
		}

		fail = &Failure{
			Provider:   provider,
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(body)),
		}
		if !retryableStatus(resp.StatusCode) {
			return nil, fail
		}
	}
	return nil, fail
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}
