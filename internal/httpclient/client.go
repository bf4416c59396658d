// Package httpclient wraps outbound GETs with rate limiting, retry with
// exponential backoff, Retry-After handling and per-attempt metrics.
package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/lucashm/pncp-harvester/internal/metrics"
)

const bodyExcerptLimit = 400

// StatusError carries the terminal HTTP status and a body excerpt for a
// failed call, after any retry budget is exhausted.
type StatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http status %d at %s: %s", e.StatusCode, e.URL, e.Body)
}

type Config struct {
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	MaxRetries     int
	RetryAfterMax  time.Duration
	BackoffBase    float64
	BackoffSlope   time.Duration
	JitterMax      time.Duration
	UserAgent      string
	Limiter        *rate.Limiter
	Metrics        *metrics.Collector
	Logger         *log.Logger
	HTTPClient     *http.Client
}

// Client issues GET requests against the portal. Every attempt acquires a
// token from the shared limiter and records its outcome before the retry
// decision is made.
type Client struct {
	httpClient    *http.Client
	limiter       *rate.Limiter
	metrics       *metrics.Collector
	logger        *log.Logger
	maxRetries    int
	retryAfterMax time.Duration
	backoffBase   float64
	backoffSlope  time.Duration
	jitterMax     time.Duration
	readTimeout   time.Duration
	userAgent     string
}

func New(config Config) *Client {
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = 5 * time.Second
	}
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = 25 * time.Second
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 4
	}
	if config.RetryAfterMax <= 0 {
		config.RetryAfterMax = 15 * time.Second
	}
	if config.BackoffBase <= 0 {
		config.BackoffBase = 1.4
	}
	if config.BackoffSlope <= 0 {
		config.BackoffSlope = 250 * time.Millisecond
	}
	if strings.TrimSpace(config.UserAgent) == "" {
		config.UserAgent = "pncp-harvester/1.0"
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   config.ConnectTimeout,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        128,
				MaxIdleConnsPerHost: 128,
				IdleConnTimeout:     60 * time.Second,
			},
		}
	}

	return &Client{
		httpClient:    config.HTTPClient,
		limiter:       config.Limiter,
		metrics:       config.Metrics,
		logger:        config.Logger,
		maxRetries:    config.MaxRetries,
		retryAfterMax: config.RetryAfterMax,
		backoffBase:   config.BackoffBase,
		backoffSlope:  config.BackoffSlope,
		jitterMax:     config.JitterMax,
		readTimeout:   config.ReadTimeout,
		userAgent:     config.UserAgent,
	}
}

// Get fetches rawURL with the given query parameters. Transient failures
// (429, 5xx, transport errors) are retried up to MaxRetries times; any other
// 4xx fails immediately. The returned error wraps a *StatusError whenever an
// HTTP status was observed.
func (c *Client) Get(ctx context.Context, rawURL string, params url.Values) ([]byte, error) {
	target := rawURL
	if len(params) > 0 {
		target = rawURL + "?" + params.Encode()
	}

	attempt := 0
	for {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}
		if c.jitterMax > 0 {
			if err := sleepContext(ctx, time.Duration(rand.Int63n(int64(c.jitterMax)))); err != nil {
				return nil, err
			}
		}

		body, status, retryAfter, err := c.attempt(ctx, target)
		if err == nil && status >= 200 && status < 300 {
			return body, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		statusErr := &StatusError{StatusCode: status, URL: target, Body: excerpt(body, err)}
		transient := status == metrics.StatusTransportError ||
			status == http.StatusTooManyRequests ||
			(status >= 500 && status < 600)
		if !transient {
			return nil, statusErr
		}

		attempt++
		if attempt > c.maxRetries {
			return nil, fmt.Errorf("retries exhausted after %d attempts: %w", attempt, statusErr)
		}

		if status == http.StatusTooManyRequests && retryAfter > 0 {
			if retryAfter > c.retryAfterMax {
				retryAfter = c.retryAfterMax
			}
			if err := sleepContext(ctx, retryAfter); err != nil {
				return nil, err
			}
		}

		wait := time.Duration(math.Pow(c.backoffBase, float64(attempt))*float64(time.Second)) +
			time.Duration(attempt)*c.backoffSlope
		if c.jitterMax > 0 {
			wait += time.Duration(rand.Int63n(int64(c.jitterMax)))
		}
		if c.logger != nil {
			c.logger.Printf("transient failure status=%d url=%s retry=%d/%d wait=%s", status, target, attempt, c.maxRetries, wait)
		}
		if err := sleepContext(ctx, wait); err != nil {
			return nil, err
		}
	}
}

// attempt performs a single request and records its outcome. A transport
// failure yields the synthetic status 599.
func (c *Client) attempt(ctx context.Context, target string) (body []byte, status int, retryAfter time.Duration, err error) {
	requestCtx, cancel := context.WithTimeout(ctx, c.readTimeout)
	defer cancel()

	started := time.Now()
	defer func() {
		if c.metrics != nil {
			c.metrics.Record(time.Since(started), status)
		}
	}()

	request, err := http.NewRequestWithContext(requestCtx, http.MethodGet, target, nil)
	if err != nil {
		status = metrics.StatusTransportError
		return nil, status, 0, fmt.Errorf("create request: %w", err)
	}
	request.Header.Set("Accept", "*/*")
	request.Header.Set("User-Agent", c.userAgent)

	response, err := c.httpClient.Do(request)
	if err != nil {
		status = metrics.StatusTransportError
		return nil, status, 0, fmt.Errorf("transport error: %w", err)
	}
	defer response.Body.Close()

	status = response.StatusCode
	body, readErr := io.ReadAll(response.Body)
	if readErr != nil {
		status = metrics.StatusTransportError
		return nil, status, 0, fmt.Errorf("read body: %w", readErr)
	}
	return body, status, parseRetryAfter(response.Header.Get("Retry-After")), nil
}

// parseRetryAfter accepts both the delta-seconds and the HTTP-date forms.
func parseRetryAfter(raw string) time.Duration {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(trimmed); err == nil {
		if seconds < 0 {
			return 0
		}
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(trimmed); err == nil {
		if wait := time.Until(at); wait > 0 {
			return wait
		}
	}
	return 0
}

func excerpt(body []byte, err error) string {
	text := strings.TrimSpace(string(body))
	if text == "" && err != nil {
		text = err.Error()
	}
	if len(text) > bodyExcerptLimit {
		text = text[:bodyExcerptLimit]
	}
	return text
}

func sleepContext(ctx context.Context, duration time.Duration) error {
	if duration <= 0 {
		return nil
	}
	timer := time.NewTimer(duration)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// IsStatus reports whether err carries the given terminal HTTP status.
func IsStatus(err error, status int) bool {
	var statusErr *StatusError
	return errors.As(err, &statusErr) && statusErr.StatusCode == status
}
