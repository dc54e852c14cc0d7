// Package engine performs one logical upstream HTTP call with retries,
// per-attempt connect timeouts, proxy support, and caller-cancellation
// propagation. Backoff delays are derived from provider error payloads when
// available.
package engine

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"ccrouter/pkg/logger"
)

const (
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries = 2

	// InitialBackoffMS is the exponential backoff base and the floor for
	// every computed delay.
	InitialBackoffMS = 1000

	// connectTimeout bounds each attempt up to the first response headers.
	// Once headers arrive the timer no longer applies and body streaming is
	// unconstrained.
	connectTimeout = 90 * time.Second
)

// Options configures one Send call.
type Options struct {
	// Headers are merged onto the request. An empty value removes the
	// header instead of setting it.
	Headers map[string]string

	// HTTPSProxy, when set, routes the request through that proxy.
	HTTPSProxy string

	// Stream marks the request as streaming. Streaming requests are never
	// retried: the request body may have been partially consumed upstream
	// and a replayed stream cannot be reconciled with the caller.
	Stream bool

	RequestID string
	Logger    *logger.Logger
}

// Send POSTs body to rawURL and returns the upstream response.
//
// Transient network errors and retryable statuses (429, 500-504) are retried
// up to MaxRetries times. A 429 carrying a daily-quota marker is returned
// immediately: waiting seconds cannot help a per-day limit. Caller
// cancellation aborts the current attempt and suppresses further retries.
func Send(ctx context.Context, rawURL string, body []byte, opts *Options) (*http.Response, error) {
	if opts == nil {
		opts = &Options{}
	}
	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}

	client, err := newClient(opts.HTTPSProxy)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 1; attempt <= MaxRetries+1; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		for key, value := range opts.Headers {
			if value == "" {
				req.Header.Del(key)
			} else {
				req.Header.Set(key, value)
			}
		}

		resp, err := client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if !isTransient(err) {
				return nil, err
			}
			lastErr = err
			if opts.Stream || attempt > MaxRetries {
				return nil, lastErr
			}

			delay := withJitter(exponentialBackoff(attempt))
			log.Warn("Upstream request failed, retrying",
				zap.String("request_id", opts.RequestID),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", delay),
				zap.Error(err),
			)
			if err := sleep(ctx, delay); err != nil {
				return nil, err
			}
			continue
		}

		if !isRetryableStatus(resp.StatusCode) {
			return resp, nil
		}
		if opts.Stream || attempt > MaxRetries {
			// Final attempt: the response is handed back unchanged,
			// body intact, for the caller to translate.
			return resp, nil
		}

		// Consume the body to release the connection, extracting the
		// provider's retry hint first.
		data, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			data = nil
		}

		info := ParseRetryInfo(data)
		if resp.StatusCode == http.StatusTooManyRequests && info.IsDailyQuota {
			log.Warn("Daily quota exhausted, not retrying",
				zap.String("request_id", opts.RequestID),
				zap.Int("status", resp.StatusCode),
			)
			resp.Body = io.NopCloser(bytes.NewReader(data))
			return resp, nil
		}

		delay := retryDelay(resp, info, attempt)
		log.Warn("Upstream returned retryable status",
			zap.String("request_id", opts.RequestID),
			zap.Int("status", resp.StatusCode),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
		)
		if err := sleep(ctx, delay); err != nil {
			return nil, err
		}
	}

	return nil, lastErr
}

// newClient builds an HTTP client with per-attempt header timeout and
// optional proxy. No overall timeout: streamed bodies may live arbitrarily
// long after headers arrive.
func newClient(httpsProxy string) (*http.Client, error) {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: connectTimeout,
		}).DialContext,
		ResponseHeaderTimeout: connectTimeout,
		TLSHandshakeTimeout:   connectTimeout,
		ForceAttemptHTTP2:     true,
	}

	if httpsProxy != "" {
		parsed, err := url.Parse(httpsProxy)
		if err != nil {
			return nil, &url.Error{Op: "proxy", URL: httpsProxy, Err: err}
		}
		transport.Proxy = http.ProxyURL(parsed)
	}

	return &http.Client{Transport: transport}, nil
}

// retryDelay picks the backoff for one retry, first match wins:
// Retry-After header, body-derived retryDelay, exponential base. The final
// delay carries 10-30% jitter and never drops below InitialBackoffMS.
func retryDelay(resp *http.Response, info RetryInfo, attempt int) time.Duration {
	var base time.Duration
	switch {
	case retryAfter(resp.Header) > 0:
		base = retryAfter(resp.Header)
	case info.DelayMS > 0:
		base = time.Duration(info.DelayMS) * time.Millisecond
	default:
		base = exponentialBackoff(attempt)
	}
	return withJitter(base)
}

// retryAfter parses a Retry-After header: integer seconds or an HTTP-date.
func retryAfter(header http.Header) time.Duration {
	value := header.Get("Retry-After")
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

func exponentialBackoff(attempt int) time.Duration {
	return time.Duration(InitialBackoffMS<<(attempt-1)) * time.Millisecond
}

// withJitter adds uniform(10%,30%) of the base and floors the result.
func withJitter(base time.Duration) time.Duration {
	jitter := time.Duration((0.1 + 0.2*rand.Float64()) * float64(base))
	delay := base + jitter
	if delay < InitialBackoffMS*time.Millisecond {
		delay = InitialBackoffMS * time.Millisecond
	}
	return delay
}

func isRetryableStatus(status int) bool {
	return status == http.StatusTooManyRequests || (status >= 500 && status <= 504)
}

// isTransient reports whether a network error is worth retrying: connect and
// header timeouts, socket resets, refused connections, socket I/O failures.
func isTransient(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"connection reset",
		"connection refused",
		"broken pipe",
		"timeout",
		"unexpected eof",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
