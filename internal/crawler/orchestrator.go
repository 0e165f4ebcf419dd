package crawler

import (
	"context"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/policycheck/crawler/internal/metrics"
)

// OrchestratorConfig carries the engine knobs shared by every session run.
type OrchestratorConfig struct {
	UserAgent       string
	RequestTimeout  time.Duration
	RequestDelay    time.Duration
	MaxRetries      int
	MaxFileBytes    int64
	MaxDownloadTime time.Duration
	StorageRoot     string
	Topic           string
	TrackingParams  []string
}

// seedWalker lets tests substitute the traversal without a live server.
type seedWalker interface {
	Walk(ctx context.Context, seed string, cfg WalkConfig) ([]PDFCandidate, int)
}

// Orchestrator runs one crawl session end to end: queued -> running, seed
// traversal, PDF downloads with dedup-aware persistence, then a terminal
// status. It reports progress only through the session store; the invoker
// gets no return value.
type Orchestrator struct {
	sessions  SessionStore
	documents DocumentStore
	files     FileStore
	robots    RobotsPolicy
	publisher Publisher
	idGen     IDGenerator
	clock     Clock
	cfg       OrchestratorConfig
	logger    *zap.Logger

	// test seams; default to the real walker and fetcher
	newWalker  func(client *http.Client) seedWalker
	newFetcher func(client *http.Client) Fetcher
}

// NewOrchestrator wires the engine together.
func NewOrchestrator(
	sessions SessionStore,
	documents DocumentStore,
	files FileStore,
	robots RobotsPolicy,
	publisher Publisher,
	idGen IDGenerator,
	clock Clock,
	cfg OrchestratorConfig,
	logger *zap.Logger,
) *Orchestrator {
	o := &Orchestrator{
		sessions:  sessions,
		documents: documents,
		files:     files,
		robots:    robots,
		publisher: publisher,
		idGen:     idGen,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
	}
	normalizer := NewURLNormalizer(cfg.TrackingParams)
	o.newWalker = func(client *http.Client) seedWalker {
		return NewWalker(client, o.robots, normalizer, o.clock, o.logger)
	}
	o.newFetcher = func(client *http.Client) Fetcher {
		return NewPDFFetcher(client, cfg.StorageRoot, cfg.MaxFileBytes, cfg.MaxDownloadTime, o.clock, o.logger)
	}
	return o
}

// Run executes the session with the given id. Per-URL and per-download
// failures are counted and skipped; only the inability to read or update
// the session record itself ends the run early, with a best-effort
// transition to failed.
func (o *Orchestrator) Run(ctx context.Context, sessionID string) {
	logger := o.logger.With(zap.String("session_id", sessionID))
	logger.Info("starting crawl session")

	session, err := o.sessions.GetSession(ctx, sessionID)
	if err != nil {
		logger.Error("crawl session not found; aborting run", zap.Error(err))
		return
	}

	progress := SessionProgress{}
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("unexpected panic during crawl run", zap.Any("panic", rec))
			o.markFailed(ctx, sessionID, progress, logger)
		}
	}()

	// One client per session bounds the blast radius of a stuck pool.
	client := NewHTTPClient(ClientConfig{
		UserAgent:  o.cfg.UserAgent,
		Timeout:    o.cfg.RequestTimeout,
		MaxRetries: o.cfg.MaxRetries,
	})
	defer client.CloseIdleConnections()

	startedAt := o.clock.Now()
	if err := o.sessions.MarkRunning(ctx, sessionID, startedAt); err != nil {
		logger.Error("mark running failed", zap.Error(err))
		o.markFailed(ctx, sessionID, progress, logger)
		return
	}
	deadline := startedAt.Add(time.Duration(session.MaxMinutes) * time.Minute)

	logger.Info("session configuration",
		zap.String("country", session.Country),
		zap.Int("max_pages", session.MaxPages),
		zap.Int("max_minutes", session.MaxMinutes),
		zap.Int("seeds", len(session.SeedURLs)),
		zap.Int("keyword_filters", len(session.KeywordFilters)))

	filter := DocumentFilter{Keywords: session.KeywordFilters, PolicyTypes: session.PolicyTypes}

	candidates, ok := o.discover(ctx, session, filter, client, deadline, &progress, logger)
	if !ok {
		o.markFailed(ctx, sessionID, progress, logger)
		return
	}

	o.download(ctx, session, filter, client, deadline, candidates, &progress, logger)

	progress.ProgressPct = 100
	completedAt := o.clock.Now()
	if err := o.sessions.FinishSession(ctx, sessionID, SessionStatusCompleted, progress, completedAt); err != nil {
		logger.Error("final status update failed", zap.Error(err))
		o.markFailed(ctx, sessionID, progress, logger)
		return
	}
	metrics.ObserveSessionFinished(string(SessionStatusCompleted))
	o.publishEvent(ctx, sessionID, SessionStatusCompleted, progress, logger)

	logger.Info("crawl session completed",
		zap.Int("pages_scanned", progress.PagesScanned),
		zap.Int("pdfs_downloaded", progress.PdfsDownloaded),
		zap.Int("pdfs_filtered", progress.PdfsFiltered),
		zap.Int("errors", progress.ErrorsCount),
		zap.Duration("duration", completedAt.Sub(startedAt)))
}

// discover walks every seed sequentially and aggregates the unique PDF
// candidates. Returns ok=false only on a session-level persistence error.
func (o *Orchestrator) discover(
	ctx context.Context,
	session CrawlSession,
	filter DocumentFilter,
	client *http.Client,
	deadline time.Time,
	progress *SessionProgress,
	logger *zap.Logger,
) ([]PDFCandidate, bool) {
	walker := o.newWalker(client)
	seen := make(map[string]struct{})
	var all []PDFCandidate

	for idx, seed := range session.SeedURLs {
		if o.clock.Now().After(deadline) {
			logger.Warn("time limit reached before seed", zap.Int("seed_index", idx+1))
			break
		}

		logger.Info("crawling seed",
			zap.Int("seed_index", idx+1),
			zap.Int("seed_total", len(session.SeedURLs)),
			zap.String("seed", seed))

		found, pages := walker.Walk(ctx, seed, WalkConfig{
			MaxPages: session.MaxPages,
			Delay:    o.cfg.RequestDelay,
			Deadline: deadline,
			Filter:   filter,
		})
		progress.PagesScanned += pages
		metrics.AddPagesScanned(pages)

		for _, cand := range found {
			if _, dup := seen[cand.URL]; dup {
				continue
			}
			seen[cand.URL] = struct{}{}
			all = append(all, cand)
		}
		progress.PdfsFound = len(all)
		progress.ProgressPct = min(50, 50*(idx+1)/len(session.SeedURLs))

		if err := o.sessions.UpdateProgress(ctx, session.ID, *progress); err != nil {
			logger.Error("progress update failed", zap.Error(err))
			return nil, false
		}

		logger.Info("seed complete",
			zap.Int("seed_index", idx+1),
			zap.Int("pdfs_found", len(found)),
			zap.Int("total_unique", len(all)))
	}

	return all, true
}

// download fetches and persists each candidate, deduplicating by content
// hash. Per-item failures never abort the loop.
func (o *Orchestrator) download(
	ctx context.Context,
	session CrawlSession,
	filter DocumentFilter,
	client *http.Client,
	deadline time.Time,
	candidates []PDFCandidate,
	progress *SessionProgress,
	logger *zap.Logger,
) {
	fetcher := o.newFetcher(client)
	logger.Info("starting pdf downloads", zap.Int("candidates", len(candidates)))

	for idx, cand := range candidates {
		if o.clock.Now().After(deadline) {
			logger.Warn("time limit reached during downloads",
				zap.Int("processed", idx),
				zap.Int("candidates", len(candidates)))
			break
		}

		// Filters are fixed at session creation; re-checking here is
		// deliberate redundancy in case that ever changes.
		ok, policyType := filter.Match(cand.URL)
		if !ok {
			progress.PdfsFiltered++
			metrics.ObserveFiltered()
			continue
		}

		insurer := ExtractInsurer(cand.URL)
		destPath, err := o.files.DocumentPath(insurer, documentFilename(cand.URL))
		if err != nil {
			logger.Warn("document path rejected", zap.String("url", cand.URL), zap.Error(err))
			progress.ErrorsCount++
			metrics.ObserveDownloadError()
			continue
		}

		result, err := fetcher.Fetch(ctx, cand.URL, destPath)
		if err != nil {
			logger.Warn("pdf download failed", zap.String("url", cand.URL), zap.Error(err))
			progress.ErrorsCount++
			metrics.ObserveDownloadError()
			o.commitProgress(ctx, session.ID, *progress, logger)
			continue
		}

		docID, err := o.idGen.NewID()
		if err != nil {
			logger.Error("generate document id failed", zap.Error(err))
			progress.ErrorsCount++
			continue
		}

		created, existingURL, err := o.documents.CreateIfAbsent(ctx, Document{
			ID:             docID,
			SessionID:      session.ID,
			SourceURL:      cand.URL,
			Insurer:        insurer,
			LocalPath:      destPath,
			FileSize:       result.Size,
			ContentHash:    result.SHA256,
			Country:        session.Country,
			PolicyType:     policyType,
			DocumentType:   "PDF",
			Classification: ClassificationUnclassified,
			Confidence:     0.0,
			Status:         DocumentStatusPending,
			CreatedAt:      o.clock.Now(),
		})
		if err != nil {
			logger.Error("document insert failed", zap.String("url", cand.URL), zap.Error(err))
			progress.ErrorsCount++
			metrics.ObserveDownloadError()
			o.commitProgress(ctx, session.ID, *progress, logger)
			continue
		}

		if !created {
			logger.Info("duplicate pdf detected",
				zap.String("url", cand.URL),
				zap.String("existing_url", existingURL))
			if rerr := o.files.Remove(destPath); rerr != nil {
				logger.Error("delete duplicate file failed",
					zap.String("path", destPath), zap.Error(rerr))
			}
			progress.PdfsFiltered++
			metrics.ObserveDuplicate()
			continue
		}

		progress.PdfsDownloaded++
		progress.ProgressPct = 50 + min(50, 50*(idx+1)/len(candidates))
		metrics.ObserveDownload(result.Size)
		o.commitProgress(ctx, session.ID, *progress, logger)

		if progress.PdfsDownloaded%10 == 0 {
			logger.Info("download progress",
				zap.Int("downloaded", progress.PdfsDownloaded),
				zap.Int("candidates", len(candidates)),
				zap.Int("filtered", progress.PdfsFiltered))
		}
	}
}

// commitProgress persists counters mid-run; a failure here is per-item, not
// session-fatal.
func (o *Orchestrator) commitProgress(ctx context.Context, sessionID string, progress SessionProgress, logger *zap.Logger) {
	if err := o.sessions.UpdateProgress(ctx, sessionID, progress); err != nil {
		logger.Warn("progress commit failed", zap.Error(err))
	}
}

// markFailed attempts the best-effort transition to failed. If that write
// also fails it is only logged, never retried.
func (o *Orchestrator) markFailed(ctx context.Context, sessionID string, progress SessionProgress, logger *zap.Logger) {
	progress.ErrorsCount++
	bg := context.WithoutCancel(ctx)
	if err := o.sessions.FinishSession(bg, sessionID, SessionStatusFailed, progress, o.clock.Now()); err != nil {
		logger.Error("failed to mark session as failed", zap.Error(err))
		return
	}
	metrics.ObserveSessionFinished(string(SessionStatusFailed))
	o.publishEvent(bg, sessionID, SessionStatusFailed, progress, logger)
}

// publishEvent pushes a lifecycle event when a topic is configured;
// publish failures are only logged.
func (o *Orchestrator) publishEvent(ctx context.Context, sessionID string, status SessionStatus, progress SessionProgress, logger *zap.Logger) {
	if o.cfg.Topic == "" || o.publisher == nil {
		return
	}
	payload := map[string]any{
		"session_id":      sessionID,
		"status":          string(status),
		"pages_scanned":   progress.PagesScanned,
		"pdfs_found":      progress.PdfsFound,
		"pdfs_downloaded": progress.PdfsDownloaded,
		"pdfs_filtered":   progress.PdfsFiltered,
		"errors_count":    progress.ErrorsCount,
		"timestamp":       o.clock.Now().Format(time.RFC3339),
	}
	if _, err := o.publisher.Publish(ctx, o.cfg.Topic, payload); err != nil {
		logger.Warn("publish session event failed", zap.Error(err))
	}
}

// documentFilename derives a safe filename from the URL path, defaulting
// and suffixing so the result is always a .pdf name.
func documentFilename(rawURL string) string {
	name := "document.pdf"
	if u, err := url.Parse(rawURL); err == nil {
		if base := path.Base(strings.TrimRight(u.Path, "/")); base != "" && base != "." && base != "/" {
			name = base
		}
	}
	name = SanitizeFilename(name)
	if !strings.HasSuffix(strings.ToLower(name), ".pdf") {
		name += ".pdf"
	}
	return name
}
