package crawler

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
)

// Backpressure caps tied to MaxPages. The frontier queue may hold at most
// queueCapFactor*MaxPages pending URLs and the visited set at most
// visitedCapFactor*MaxPages entries; past either cap the walker stops
// enqueueing new candidates but keeps draining what it already holds, so
// per-session memory stays bounded.
const (
	queueCapFactor   = 3
	visitedCapFactor = 2
)

// WalkConfig bounds one traversal of a seed domain.
type WalkConfig struct {
	MaxPages int
	Delay    time.Duration
	Deadline time.Time
	Filter   DocumentFilter
}

// Walker performs the bounded breadth-first traversal of one seed domain,
// producing validated PDF candidates. It does not mutate shared session
// state; the orchestrator aggregates results across seeds.
type Walker struct {
	client     *http.Client
	robots     RobotsPolicy
	normalizer *URLNormalizer
	clock      Clock
	logger     *zap.Logger
}

// NewWalker builds a Walker around a per-session HTTP client.
func NewWalker(client *http.Client, robots RobotsPolicy, normalizer *URLNormalizer, clock Clock, logger *zap.Logger) *Walker {
	return &Walker{
		client:     client,
		robots:     robots,
		normalizer: normalizer,
		clock:      clock,
		logger:     logger,
	}
}

// Walk crawls outward from seed in BFS order until the page budget, the
// deadline, or the frontier is exhausted. Per-page failures are logged and
// skipped; they never abort the walk.
func (w *Walker) Walk(ctx context.Context, seed string, cfg WalkConfig) (candidates []PDFCandidate, pagesScanned int) {
	// A seed that is itself a PDF needs no traversal.
	if IsPDFURL(seed) {
		normalized, err := w.normalizer.Normalize(seed)
		if err != nil {
			w.logger.Warn("unparseable pdf seed", zap.String("seed", seed), zap.Error(err))
			return nil, 0
		}
		if ok, policyType := cfg.Filter.Match(normalized); ok {
			w.logger.Info("direct pdf seed accepted", zap.String("url", normalized))
			return []PDFCandidate{{URL: normalized, PolicyType: policyType}}, 0
		}
		return nil, 0
	}

	queue := []string{seed}
	visited := make(map[string]struct{})
	found := make(map[string]struct{})
	queueCap := queueCapFactor * cfg.MaxPages
	visitedCap := visitedCapFactor * cfg.MaxPages

	for len(queue) > 0 && pagesScanned < cfg.MaxPages {
		if !cfg.Deadline.IsZero() && w.clock.Now().After(cfg.Deadline) {
			w.logger.Warn("walk deadline reached",
				zap.String("seed", seed),
				zap.Int("pages_scanned", pagesScanned),
				zap.Int("pdfs_found", len(found)))
			break
		}

		current := queue[0]
		queue = queue[1:]

		if _, seen := visited[current]; seen {
			continue
		}
		visited[current] = struct{}{}

		// A robots-disallowed URL stays marked visited so it is never retried.
		if !w.robots.Allowed(ctx, current) {
			w.logger.Debug("blocked by robots.txt", zap.String("url", current))
			continue
		}

		if !SameDomain(seed, current) {
			continue
		}

		if pagesScanned > 0 {
			if err := sleepCtx(ctx, cfg.Delay); err != nil {
				break
			}
		}
		pagesScanned++

		links, err := w.fetchPageLinks(ctx, current)
		if err != nil {
			w.logger.Debug("page fetch skipped", zap.String("url", current), zap.Error(err))
			continue
		}

		for _, link := range links {
			if IsPDFURL(link) {
				normalized, nerr := w.normalizer.Normalize(link)
				if nerr != nil {
					continue
				}
				ok, policyType := cfg.Filter.Match(normalized)
				if !ok {
					continue
				}
				if _, dup := found[normalized]; dup {
					continue
				}
				found[normalized] = struct{}{}
				candidates = append(candidates, PDFCandidate{URL: normalized, PolicyType: policyType})
				w.logger.Debug("found valid pdf",
					zap.String("url", normalized),
					zap.Int("total", len(candidates)))
				continue
			}

			if !SameDomain(seed, link) {
				continue
			}
			if _, seen := visited[link]; seen {
				continue
			}
			if len(queue) >= queueCap || len(visited) >= visitedCap {
				continue
			}
			queue = append(queue, link)
		}
	}

	w.logger.Info("walk complete",
		zap.String("seed", seed),
		zap.Int("pages_scanned", pagesScanned),
		zap.Int("pdfs_found", len(candidates)),
		zap.Int("urls_visited", len(visited)))

	return candidates, pagesScanned
}

// fetchPageLinks retrieves one HTML page and returns its anchor hrefs
// resolved to absolute URLs. Non-200 responses and non-HTML content types
// are skipped quietly.
func (w *Walker) fetchPageLinks(ctx context.Context, pageURL string) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			w.logger.Debug("close page body", zap.Error(cerr))
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, nil
	}
	contentType := strings.ToLower(resp.Header.Get("Content-Type"))
	if !strings.Contains(contentType, "text/html") {
		return nil, nil
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, err
	}

	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, err
	}

	var links []string
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href := strings.TrimSpace(sel.AttrOr("href", ""))
		if href == "" {
			return
		}
		ref, perr := url.Parse(href)
		if perr != nil {
			return
		}
		links = append(links, base.ResolveReference(ref).String())
	})
	return links, nil
}

// sleepCtx pauses for the inter-request delay, returning early if the
// context ends.
func sleepCtx(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
