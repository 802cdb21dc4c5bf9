package crawler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type timeoutErr struct{ timeout bool }

func (e *timeoutErr) Error() string   { return "net fault" }
func (e *timeoutErr) Timeout() bool   { return e.timeout }
func (e *timeoutErr) Temporary() bool { return false }

func TestShouldRetry(t *testing.T) {
	p := NewExponentialRetryPolicy()

	require.False(t, p.ShouldRetry(nil, 0))
	require.False(t, p.ShouldRetry(errors.New("boom"), 3))
	require.False(t, p.ShouldRetry(context.Canceled, 0))
	require.False(t, p.ShouldRetry(context.DeadlineExceeded, 1))
	require.True(t, p.ShouldRetry(&timeoutErr{timeout: true}, 0))
	require.False(t, p.ShouldRetry(&timeoutErr{timeout: false}, 0))
	require.True(t, p.ShouldRetry(errors.New("stream error"), 1))
}

func TestShouldRetryConnectionChurn(t *testing.T) {
	p := NewExponentialRetryPolicy()

	require.True(t, p.ShouldRetry(fmt.Errorf("fetch page: %w", syscall.ECONNRESET), 0))
	require.True(t, p.ShouldRetry(&net.OpError{Op: "dial", Err: syscall.ECONNREFUSED}, 0))
	require.True(t, p.ShouldRetry(fmt.Errorf("read body: %w", io.ErrUnexpectedEOF), 1))
}

func TestShouldRetryHardFailures(t *testing.T) {
	p := NewExponentialRetryPolicy()

	require.False(t, p.ShouldRetry(&net.DNSError{Name: "docs.nowhere.invalid", IsNotFound: true}, 0))
	require.True(t, p.ShouldRetry(&net.DNSError{Name: "docs.example.com", IsTimeout: true}, 0))
}

func TestBackoffBounds(t *testing.T) {
	p := NewExponentialRetryPolicy()
	for attempt := 0; attempt < 64; attempt++ {
		d := p.Backoff(attempt)
		require.GreaterOrEqual(t, d, time.Duration(0))
		require.LessOrEqual(t, d, 5*time.Second)
	}
}

func TestBackoffGrows(t *testing.T) {
	p := NewExponentialRetryPolicy()
	// Minimum possible delay at attempt 2 exceeds maximum at attempt 0.
	require.Greater(t, p.Backoff(2), p.Backoff(0))
}
