package crawler

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

// ClientConfig controls the per-session HTTP client.
type ClientConfig struct {
	UserAgent  string
	Timeout    time.Duration
	MaxRetries int
	BaseDelay  time.Duration
}

// retryableStatus lists the response codes worth a retry. Other 4xx codes
// are final.
var retryableStatus = map[int]bool{
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// NewHTTPClient produces a connection-pooled client with bounded retry and
// exponential backoff for transient failures. One client is created per
// session and released when the session ends so a stuck pool cannot outlive
// its session.
func NewHTTPClient(cfg ClientConfig) *http.Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	return &http.Client{
		Timeout: cfg.Timeout,
		Transport: &retryTransport{
			base:       newPooledTransport(),
			userAgent:  cfg.UserAgent,
			maxRetries: cfg.MaxRetries,
			baseDelay:  cfg.BaseDelay,
		},
	}
}

func newPooledTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   20,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

// retryTransport retries idempotent requests on connection failures and on
// 429/5xx responses, with exponential backoff.
type retryTransport struct {
	base       http.RoundTripper
	userAgent  string
	maxRetries int
	baseDelay  time.Duration
}

// RoundTrip implements http.RoundTripper.
func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.userAgent != "" && req.Header.Get("User-Agent") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", t.userAgent)
	}

	idempotent := req.Method == http.MethodGet || req.Method == http.MethodHead

	var resp *http.Response
	var err error
	for attempt := 0; ; attempt++ {
		resp, err = t.base.RoundTrip(req)
		if !idempotent {
			return resp, err
		}

		retry := err != nil || retryableStatus[resp.StatusCode]
		if !retry || attempt >= t.maxRetries {
			return resp, err
		}

		if resp != nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			if cerr := resp.Body.Close(); cerr != nil {
				return nil, fmt.Errorf("close retried response body: %w", cerr)
			}
		}

		if werr := t.wait(req, attempt); werr != nil {
			return nil, werr
		}
	}
}

func (t *retryTransport) wait(req *http.Request, attempt int) error {
	delay := t.baseDelay << attempt
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-req.Context().Done():
		return fmt.Errorf("retry wait canceled: %w", req.Context().Err())
	case <-timer.C:
		return nil
	}
}
