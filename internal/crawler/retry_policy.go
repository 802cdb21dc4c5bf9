package crawler

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"math/rand/v2"
	"net"
	"syscall"
	"time"
)

// ExponentialRetryPolicy implements RetryPolicy for page fetches. It is tuned
// for documentation sites: hosts behind CDNs shed load with resets and
// timeouts that clear within seconds, while DNS misses and certificate
// failures never do.
type ExponentialRetryPolicy struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
}

// NewExponentialRetryPolicy builds a policy with crawl defaults: up to three
// attempts per URL, delays capped below the page fetch timeout.
func NewExponentialRetryPolicy() *ExponentialRetryPolicy {
	return &ExponentialRetryPolicy{
		maxAttempts: 3,
		baseDelay:   250 * time.Millisecond,
		maxDelay:    5 * time.Second,
	}
}

// ShouldRetry reports whether the fetch error is worth another attempt.
func (p *ExponentialRetryPolicy) ShouldRetry(err error, attempt int) bool {
	if err == nil || attempt >= p.maxAttempts {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	// Hard failures: the URL will not start working between attempts.
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
		return false
	}
	var certErr *tls.CertificateVerificationError
	if errors.As(err, &certErr) {
		return false
	}

	// Connection churn from rate limiting proxies and CDN edges.
	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	// Anything else the transport surfaces is assumed transient.
	return true
}

// Backoff returns the wait before the next attempt: exponential growth with
// half-window jitter.
func (p *ExponentialRetryPolicy) Backoff(attempt int) time.Duration {
	delay := p.baseDelay << attempt
	if delay > p.maxDelay || delay <= 0 {
		delay = p.maxDelay
	}
	half := delay / 2
	return half + rand.N(half+1)
}
