package crawler

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"
)

const robotsMaxBody = 1 << 20

// RobotsCache enforces robots.txt per origin. Entries live for the process
// lifetime and a failed or missing robots.txt is cached as a permissive
// sentinel so an unreachable file never halts crawling (fail-open). The
// cache is shared by all concurrent sessions.
type RobotsCache struct {
	client    *http.Client
	userAgent string
	logger    *zap.Logger

	mu    sync.RWMutex
	cache map[string]*robotstxt.RobotsData // origin -> rules; nil = allow all
}

// NewRobotsCache builds a robots cache fetching with the given timeout.
func NewRobotsCache(userAgent string, timeout time.Duration, logger *zap.Logger) *RobotsCache {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &RobotsCache{
		client:    &http.Client{Timeout: timeout},
		userAgent: userAgent,
		logger:    logger,
		cache:     make(map[string]*robotstxt.RobotsData),
	}
}

// Allowed implements RobotsPolicy.
func (r *RobotsCache) Allowed(ctx context.Context, rawURL string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return false
	}
	origin := strings.ToLower(parsed.Scheme + "://" + parsed.Host)

	r.mu.RLock()
	data, ok := r.cache[origin]
	r.mu.RUnlock()

	if !ok {
		// Fetch outside the lock so one slow origin does not serialize
		// every session; a concurrent double-fetch is harmless.
		data = r.fetch(ctx, origin)
		r.mu.Lock()
		if cached, exists := r.cache[origin]; exists {
			data = cached
		} else {
			r.cache[origin] = data
		}
		r.mu.Unlock()
	}

	if data == nil {
		return true
	}
	group := data.FindGroup(r.userAgent)
	if group == nil {
		return true
	}
	return group.Test(parsed.Path)
}

// fetch retrieves and parses robots.txt for origin, returning nil (allow
// all) on any failure.
func (r *RobotsCache) fetch(ctx context.Context, origin string) *robotstxt.RobotsData {
	robotsURL := origin + "/robots.txt"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return nil
	}
	req.Header.Set("User-Agent", r.userAgent)

	resp, err := r.client.Do(req)
	if err != nil {
		r.logger.Debug("robots fetch failed; allowing origin",
			zap.String("origin", origin), zap.Error(err))
		return nil
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			r.logger.Debug("close robots body", zap.Error(cerr))
		}
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, robotsMaxBody))
	if err != nil {
		r.logger.Debug("robots read failed; allowing origin",
			zap.String("origin", origin), zap.Error(err))
		return nil
	}
	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		r.logger.Debug("robots parse failed; allowing origin",
			zap.String("origin", origin), zap.Error(err))
		return nil
	}
	r.logger.Debug("loaded robots.txt", zap.String("origin", origin))
	return data
}

// cachedOrigins is exposed for tests.
func (r *RobotsCache) cachedOrigins() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.cache)
}

// AllowAllPolicy ignores robots.txt entirely.
type AllowAllPolicy struct{}

// Allowed always returns true.
func (AllowAllPolicy) Allowed(context.Context, string) bool { return true }

var _ RobotsPolicy = (*RobotsCache)(nil)
var _ RobotsPolicy = AllowAllPolicy{}
