package crawler

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"
)

const (
	robotsCacheTTL     = time.Hour
	robotsMaxBodyBytes = 1 << 20
	robotsFetchTimeout = 10 * time.Second
)

// RobotsEnforcer answers robots.txt queries for crawled hosts. Each host's
// rules are fetched once and cached with a TTL, since a crawl hits the same
// documentation host hundreds of times.
type RobotsEnforcer struct {
	client     *http.Client
	userAgent  string
	agentToken string
	logger     *zap.Logger

	mu      sync.RWMutex
	entries map[string]robotsEntry
}

type robotsEntry struct {
	data    *robotstxt.RobotsData
	fetched time.Time
}

// NewRobotsEnforcer builds a RobotsPolicy. With respect disabled every URL
// is allowed, which some internal documentation hosts require.
func NewRobotsEnforcer(respect bool, userAgent string, logger *zap.Logger) RobotsPolicy {
	if !respect {
		return &allowAllPolicy{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RobotsEnforcer{
		client:     &http.Client{Timeout: robotsFetchTimeout},
		userAgent:  userAgent,
		agentToken: agentToken(userAgent),
		logger:     logger,
		entries:    make(map[string]robotsEntry),
	}
}

// Allowed implements RobotsPolicy. Fetch failures fail open: an unreachable
// robots.txt must not stall the whole crawl.
func (r *RobotsEnforcer) Allowed(ctx context.Context, rawURL string) bool {
	if r == nil {
		return true
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	data, err := r.rules(ctx, parsed)
	if err != nil {
		r.logger.Warn("robots fetch failed; allowing access", zap.String("host", parsed.Host), zap.Error(err))
		return true
	}
	group := data.FindGroup(r.agentToken)
	if group == nil {
		return true
	}
	return group.Test(parsed.Path)
}

// rules returns the cached ruleset for the URL's host, refreshing it once the
// TTL lapses.
func (r *RobotsEnforcer) rules(ctx context.Context, parsed *url.URL) (*robotstxt.RobotsData, error) {
	host := strings.ToLower(parsed.Host)

	r.mu.RLock()
	entry, ok := r.entries[host]
	r.mu.RUnlock()
	if ok && time.Since(entry.fetched) < robotsCacheTTL {
		return entry.data, nil
	}

	data, err := r.fetch(ctx, parsed)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.entries[host] = robotsEntry{data: data, fetched: time.Now()}
	r.mu.Unlock()
	return data, nil
}

func (r *RobotsEnforcer) fetch(ctx context.Context, parsed *url.URL) (*robotstxt.RobotsData, error) {
	robotsURL := url.URL{Scheme: parsed.Scheme, Host: parsed.Host, Path: "/robots.txt"}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("new robots request: %w", err)
	}
	req.Header.Set("User-Agent", r.userAgent)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch robots: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			r.logger.Debug("failed to close robots response body", zap.Error(cerr))
		}
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, robotsMaxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read robots body: %w", err)
	}
	// FromStatusAndBytes encodes the conventional status semantics: 4xx means
	// everything is allowed, 5xx means everything is disallowed.
	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		return nil, fmt.Errorf("parse robots: %w", err)
	}
	return data, nil
}

// agentToken reduces a full User-Agent string like "docpress/1.2 (+https://…)"
// to the product token robots.txt groups are declared against.
func agentToken(userAgent string) string {
	token := strings.TrimSpace(userAgent)
	if idx := strings.IndexAny(token, "/ ("); idx > 0 {
		token = token[:idx]
	}
	if token == "" {
		return "*"
	}
	return token
}

type allowAllPolicy struct{}

func (a *allowAllPolicy) Allowed(context.Context, string) bool { return true }
