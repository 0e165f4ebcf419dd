// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/policycheck/crawler/internal/crawler"
)

// pgxPool is the subset of pgxpool.Pool the stores need (mockable).
type pgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// SessionStoreConfig controls the Postgres connection pool and the absolute
// per-session ceilings applied at creation time.
type SessionStoreConfig struct {
	DSN               string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxPagesCeiling   int
	MaxMinutesCeiling int
}

// SessionStore implements crawler.SessionStore on Postgres.
type SessionStore struct {
	pool              pgxPool
	maxPagesCeiling   int
	maxMinutesCeiling int
}

// NewSessionStore creates a Postgres-backed SessionStore using the provided config.
func NewSessionStore(ctx context.Context, cfg SessionStoreConfig) (*SessionStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &SessionStore{
		pool:              pool,
		maxPagesCeiling:   cfg.MaxPagesCeiling,
		maxMinutesCeiling: cfg.MaxMinutesCeiling,
	}, nil
}

// NewSessionStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewSessionStoreWithPool(pool pgxPool, maxPagesCeiling, maxMinutesCeiling int) (*SessionStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &SessionStore{
		pool:              pool,
		maxPagesCeiling:   maxPagesCeiling,
		maxMinutesCeiling: maxMinutesCeiling,
	}, nil
}

// Close closes the underlying connection pool.
func (s *SessionStore) Close() {
	s.pool.Close()
}

// CreateSession validates and persists a new session in queued state. The
// requested limits are silently clamped to the configured ceilings.
func (s *SessionStore) CreateSession(ctx context.Context, session crawler.CrawlSession) (crawler.CrawlSession, error) {
	if len(session.SeedURLs) == 0 {
		return crawler.CrawlSession{}, fmt.Errorf("at least one seed URL is required")
	}
	if s.maxPagesCeiling > 0 && session.MaxPages > s.maxPagesCeiling {
		session.MaxPages = s.maxPagesCeiling
	}
	if s.maxMinutesCeiling > 0 && session.MaxMinutes > s.maxMinutesCeiling {
		session.MaxMinutes = s.maxMinutesCeiling
	}
	session.Status = crawler.SessionStatusQueued
	session.UpdatedAt = session.CreatedAt

	seeds, err := json.Marshal(session.SeedURLs)
	if err != nil {
		return crawler.CrawlSession{}, fmt.Errorf("marshal seed urls: %w", err)
	}
	policyTypes, err := json.Marshal(session.PolicyTypes)
	if err != nil {
		return crawler.CrawlSession{}, fmt.Errorf("marshal policy types: %w", err)
	}
	keywords, err := json.Marshal(session.KeywordFilters)
	if err != nil {
		return crawler.CrawlSession{}, fmt.Errorf("marshal keyword filters: %w", err)
	}

	query := `
		INSERT INTO crawl_sessions (
			id, user_id, country, max_pages, max_minutes,
			seed_urls, policy_types, keyword_filters,
			status, progress_pct, pages_scanned, pdfs_found,
			pdfs_downloaded, pdfs_filtered, errors_count,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 0, 0, 0, 0, 0, 0, $10, $10)
	`
	_, err = s.pool.Exec(ctx, query,
		session.ID,
		session.UserID,
		session.Country,
		session.MaxPages,
		session.MaxMinutes,
		seeds,
		policyTypes,
		keywords,
		session.Status,
		session.CreatedAt,
	)
	if err != nil {
		return crawler.CrawlSession{}, fmt.Errorf("insert crawl session: %w", err)
	}
	return session, nil
}

const sessionColumns = `
	id, user_id, country, max_pages, max_minutes,
	seed_urls, policy_types, keyword_filters,
	status, progress_pct, pages_scanned, pdfs_found,
	pdfs_downloaded, pdfs_filtered, errors_count,
	started_at, completed_at, created_at, updated_at
`

// GetSession loads one session or returns crawler.ErrNotFound.
func (s *SessionStore) GetSession(ctx context.Context, id string) (crawler.CrawlSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM crawl_sessions WHERE id = $1`
	session, err := scanSession(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return crawler.CrawlSession{}, crawler.ErrNotFound
		}
		return crawler.CrawlSession{}, fmt.Errorf("get crawl session: %w", err)
	}
	return session, nil
}

// MarkRunning transitions the session to running and records the start time.
func (s *SessionStore) MarkRunning(ctx context.Context, id string, startedAt time.Time) error {
	query := `
		UPDATE crawl_sessions
		SET status = $2, started_at = $3, updated_at = $3
		WHERE id = $1
	`
	tag, err := s.pool.Exec(ctx, query, id, crawler.SessionStatusRunning, startedAt)
	if err != nil {
		return fmt.Errorf("mark session running: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return crawler.ErrNotFound
	}
	return nil
}

// UpdateProgress persists the live counters for a running session.
func (s *SessionStore) UpdateProgress(ctx context.Context, id string, progress crawler.SessionProgress) error {
	query := `
		UPDATE crawl_sessions
		SET progress_pct = $2, pages_scanned = $3, pdfs_found = $4,
		    pdfs_downloaded = $5, pdfs_filtered = $6, errors_count = $7,
		    updated_at = NOW()
		WHERE id = $1
	`
	tag, err := s.pool.Exec(ctx, query, id,
		progress.ProgressPct,
		progress.PagesScanned,
		progress.PdfsFound,
		progress.PdfsDownloaded,
		progress.PdfsFiltered,
		progress.ErrorsCount,
	)
	if err != nil {
		return fmt.Errorf("update session progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return crawler.ErrNotFound
	}
	return nil
}

// FinishSession writes the terminal status, final counters, and completion time.
func (s *SessionStore) FinishSession(
	ctx context.Context,
	id string,
	status crawler.SessionStatus,
	progress crawler.SessionProgress,
	completedAt time.Time,
) error {
	if !status.Terminal() {
		return fmt.Errorf("status %q is not terminal", status)
	}
	query := `
		UPDATE crawl_sessions
		SET status = $2, progress_pct = $3, pages_scanned = $4, pdfs_found = $5,
		    pdfs_downloaded = $6, pdfs_filtered = $7, errors_count = $8,
		    completed_at = $9, updated_at = $9
		WHERE id = $1
	`
	tag, err := s.pool.Exec(ctx, query, id,
		status,
		progress.ProgressPct,
		progress.PagesScanned,
		progress.PdfsFound,
		progress.PdfsDownloaded,
		progress.PdfsFiltered,
		progress.ErrorsCount,
		completedAt,
	)
	if err != nil {
		return fmt.Errorf("finish session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return crawler.ErrNotFound
	}
	return nil
}

// ListSessions returns the most recently created sessions.
func (s *SessionStore) ListSessions(ctx context.Context, limit int) ([]crawler.CrawlSession, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + sessionColumns + ` FROM crawl_sessions ORDER BY created_at DESC LIMIT $1`
	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list crawl sessions: %w", err)
	}
	defer rows.Close()

	var sessions []crawler.CrawlSession
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan crawl session row: %w", err)
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate crawl sessions: %w", err)
	}
	return sessions, nil
}

func scanSession(row pgx.Row) (crawler.CrawlSession, error) {
	var (
		session  crawler.CrawlSession
		seeds    []byte
		policies []byte
		keywords []byte
	)
	err := row.Scan(
		&session.ID,
		&session.UserID,
		&session.Country,
		&session.MaxPages,
		&session.MaxMinutes,
		&seeds,
		&policies,
		&keywords,
		&session.Status,
		&session.Progress.ProgressPct,
		&session.Progress.PagesScanned,
		&session.Progress.PdfsFound,
		&session.Progress.PdfsDownloaded,
		&session.Progress.PdfsFiltered,
		&session.Progress.ErrorsCount,
		&session.StartedAt,
		&session.CompletedAt,
		&session.CreatedAt,
		&session.UpdatedAt,
	)
	if err != nil {
		return crawler.CrawlSession{}, err
	}
	if err := json.Unmarshal(seeds, &session.SeedURLs); err != nil {
		return crawler.CrawlSession{}, fmt.Errorf("unmarshal seed urls: %w", err)
	}
	if err := json.Unmarshal(policies, &session.PolicyTypes); err != nil {
		return crawler.CrawlSession{}, fmt.Errorf("unmarshal policy types: %w", err)
	}
	if err := json.Unmarshal(keywords, &session.KeywordFilters); err != nil {
		return crawler.CrawlSession{}, fmt.Errorf("unmarshal keyword filters: %w", err)
	}
	return session, nil
}

var _ crawler.SessionStore = (*SessionStore)(nil)
