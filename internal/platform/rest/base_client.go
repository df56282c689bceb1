package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/time/rate"

	"gomarketplace_sync/internal/platform"
	"gomarketplace_sync/metrics"
	"gomarketplace_sync/pkg/logger"
)

const (
	maxThrottleRetries = 3
	defaultRetryAfter  = 2 * time.Second
	maxErrorBodyLen    = 512
)

type BaseClient struct {
	ApiURL  string
	log     logger.Logger
	client  *http.Client
	limiter *rate.Limiter
	auth    AuthEngine
	// backOff paces throttled retries that carry no Retry-After header.
	backOff func() backoff.BackOff
}

func NewBaseClient(apiURL string, timeout time.Duration, limiter *rate.Limiter, auth AuthEngine, log logger.Logger) *BaseClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 1)
	}
	return &BaseClient{
		ApiURL:  strings.TrimRight(apiURL, "/"),
		log:     log.WithPrefix("[PlatformClient]"),
		client:  &http.Client{Timeout: timeout},
		limiter: limiter,
		auth:    auth,
		backOff: throttleBackOff,
	}
}

func throttleBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = defaultRetryAfter
	return b
}

// doRequest sends a JSON request and decodes a JSON response into out (when non-nil).
// endpoint is either a path relative to ApiURL or an absolute URL from a pagination link.
// It returns the response headers so callers can follow Link pagination.
// Throttled (429) calls are retried; every other failure is returned at once.
func (c *BaseClient) doRequest(ctx context.Context, op, method, endpoint string, requestBody interface{}, out interface{}) (http.Header, error) {
	var bodyBytes []byte
	if requestBody != nil {
		var err error
		bodyBytes, err = json.Marshal(requestBody)
		if err != nil {
			return nil, &platform.TransportError{Op: op, Err: fmt.Errorf("failed to marshal request body: %w", err)}
		}
	}

	url := endpoint
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		url = c.ApiURL + endpoint
	}

	var header http.Header
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		h, err := c.send(ctx, op, method, url, bodyBytes, out)
		header = h
		return struct{}{}, err
	},
		backoff.WithBackOff(c.backOff()),
		backoff.WithMaxTries(maxThrottleRetries+1),
		backoff.WithNotify(func(err error, wait time.Duration) {
			c.log.Warn("%s throttled, retrying in %s", op, wait)
		}),
	)
	if err == nil {
		return header, nil
	}
	var te *platform.TransportError
	var ue *platform.UserErrors
	if !errors.As(err, &te) && !errors.As(err, &ue) {
		// the context ended while waiting for the next attempt
		err = &platform.TransportError{Op: op, Err: fmt.Errorf("request was cancelled: %w", err)}
	}
	return header, err
}

// send performs one attempt. Only a throttled response comes back retryable; it carries the
// server's Retry-After when there is one.
func (c *BaseClient) send(ctx context.Context, op, method, url string, bodyBytes []byte, out interface{}) (http.Header, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, backoff.Permanent(&platform.TransportError{Op: op, Err: fmt.Errorf("limiter: %w", err)})
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, backoff.Permanent(&platform.TransportError{Op: op, Err: fmt.Errorf("failed to create request: %w", err)})
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.auth != nil {
		c.auth.SetApiKey(req)
	}

	started := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		metrics.RecordRemoteCall(op, 0, time.Since(started))
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, backoff.Permanent(&platform.TransportError{Op: op, Err: fmt.Errorf("request was cancelled: %w", ctxErr)})
		}
		return nil, backoff.Permanent(&platform.TransportError{Op: op, Err: fmt.Errorf("failed to execute request: %w", err)})
	}
	body, readErr := io.ReadAll(resp.Body)
	resp.Body.Close()
	metrics.RecordRemoteCall(op, resp.StatusCode, time.Since(started))

	if resp.StatusCode == http.StatusTooManyRequests {
		throttled := &platform.TransportError{Op: op, StatusCode: resp.StatusCode, Err: errors.New("throttled")}
		if secs, ok := retryAfterSeconds(resp.Header.Get("Retry-After")); ok {
			throttled.Err = backoff.RetryAfter(secs)
		}
		return resp.Header, throttled
	}
	if readErr != nil {
		return nil, backoff.Permanent(&platform.TransportError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to read response body: %w", readErr)})
	}
	if err := checkStatus(op, resp.StatusCode, body); err != nil {
		return resp.Header, backoff.Permanent(err)
	}
	if out != nil && len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, out); err != nil {
			return resp.Header, backoff.Permanent(&platform.TransportError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to unmarshal response: %w", err)})
		}
	}
	return resp.Header, nil
}

func checkStatus(op string, status int, body []byte) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusNotFound:
		return &platform.TransportError{Op: op, StatusCode: status, Err: platform.ErrNotFound}
	case status == http.StatusUnprocessableEntity || status == http.StatusBadRequest:
		if ue := parseUserErrors(op, body); ue != nil {
			return ue
		}
	}
	snippet := string(body)
	if len(snippet) > maxErrorBodyLen {
		snippet = snippet[:maxErrorBodyLen]
	}
	return &platform.TransportError{Op: op, StatusCode: status, Err: errors.New(strings.TrimSpace(snippet))}
}

// parseUserErrors understands the three shapes the admin API uses for "errors":
// a plain string, a list of strings, or an object of field -> messages.
func parseUserErrors(op string, body []byte) *platform.UserErrors {
	var envelope struct {
		Errors json.RawMessage `json:"errors"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || len(envelope.Errors) == 0 {
		return nil
	}
	ue := &platform.UserErrors{Op: op}

	var msg string
	if err := json.Unmarshal(envelope.Errors, &msg); err == nil {
		ue.Errors = append(ue.Errors, platform.UserError{Message: msg})
		return ue
	}
	var list []string
	if err := json.Unmarshal(envelope.Errors, &list); err == nil {
		for _, m := range list {
			ue.Errors = append(ue.Errors, platform.UserError{Message: m})
		}
		return ue
	}
	var byField map[string]json.RawMessage
	if err := json.Unmarshal(envelope.Errors, &byField); err != nil {
		return nil
	}
	for _, field := range sortedKeys(byField) {
		var msgs []string
		if err := json.Unmarshal(byField[field], &msgs); err != nil {
			var one string
			if err := json.Unmarshal(byField[field], &one); err != nil {
				continue
			}
			msgs = []string{one}
		}
		for _, m := range msgs {
			ue.Errors = append(ue.Errors, platform.UserError{Field: []string{field}, Message: m})
		}
	}
	if len(ue.Errors) == 0 {
		return nil
	}
	return ue
}

var linkNext = regexp.MustCompile(`<([^>]+)>;\s*rel="next"`)

// nextPageURL extracts the rel="next" target of a Link header.
func nextPageURL(h http.Header) string {
	if h == nil {
		return ""
	}
	m := linkNext.FindStringSubmatch(h.Get("Link"))
	if len(m) != 2 {
		return ""
	}
	return m[1]
}

// retryAfterSeconds reads a Retry-After header given in (possibly fractional) seconds,
// rounding up so the retry never comes early.
func retryAfterSeconds(v string) (int, bool) {
	if v == "" {
		return 0, false
	}
	secs, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil || secs < 0 {
		return 0, false
	}
	return int(math.Ceil(secs)), true
}
