package panel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// apiError is a non-2xx panel response. It is not retried; the panel answered,
// it just said no.
type apiError struct {
	Status int
	Body   string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("panel api error: status=%d body=%s", e.Status, truncate(e.Body, 200))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// httpDoer wraps an *http.Client with retry-with-backoff on transport errors
// and 5xx responses. 4xx responses return immediately as *apiError.
type httpDoer struct {
	client          *http.Client
	retryMaxElapsed time.Duration
}

func (d *httpDoer) doJSON(ctx context.Context, method, rawURL string, headers map[string]string, body any, result any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
	}
	return d.do(ctx, method, rawURL, "application/json", headers, payload, result)
}

func (d *httpDoer) doForm(ctx context.Context, method, rawURL string, form url.Values, result any) error {
	return d.do(ctx, method, rawURL, "application/x-www-form-urlencoded", nil, []byte(form.Encode()), result)
}

func (d *httpDoer) do(ctx context.Context, method, rawURL, contentType string, headers map[string]string, payload []byte, result any) error {
	op := func() error {
		var reqBody io.Reader
		if payload != nil {
			reqBody = bytes.NewReader(payload)
		}

		req, err := http.NewRequestWithContext(ctx, method, rawURL, reqBody)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("create request: %w", err))
		}
		if payload != nil {
			req.Header.Set("Content-Type", contentType)
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := d.client.Do(req)
		if err != nil {
			return fmt.Errorf("send request: %w", err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}

		if resp.StatusCode >= 500 {
			return &apiError{Status: resp.StatusCode, Body: string(respBody)}
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return backoff.Permanent(&apiError{Status: resp.StatusCode, Body: string(respBody)})
		}

		if result != nil && len(respBody) > 0 {
			if err := json.Unmarshal(respBody, result); err != nil {
				return backoff.Permanent(fmt.Errorf("decode response: %w: %s", err, truncate(string(respBody), 200)))
			}
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxElapsedTime = d.retryMaxElapsed
	return backoff.Retry(op, backoff.WithContext(bo, ctx))
}

// doText performs a GET and returns the raw response body.
func (d *httpDoer) doText(ctx context.Context, rawURL string) (string, error) {
	var body string
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("create request: %w", err))
		}

		resp, err := d.client.Do(req)
		if err != nil {
			return fmt.Errorf("send request: %w", err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}

		if resp.StatusCode >= 500 {
			return &apiError{Status: resp.StatusCode, Body: string(respBody)}
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return backoff.Permanent(&apiError{Status: resp.StatusCode, Body: string(respBody)})
		}

		body = string(respBody)
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxElapsedTime = d.retryMaxElapsed
	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		return "", err
	}
	return body, nil
}

func joinURL(base string, parts ...string) string {
	u := strings.TrimRight(base, "/")
	for _, p := range parts {
		u += "/" + strings.TrimLeft(p, "/")
	}
	return u
}
