package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/policycheck/crawler/internal/crawler"
)

// DocumentStore implements crawler.DocumentStore on Postgres. Content-hash
// dedup runs inside one transaction with a row lock, so two sessions
// downloading the same bytes concurrently cannot both insert.
type DocumentStore struct {
	pool pgxPool
}

// NewDocumentStore creates a Postgres-backed DocumentStore.
func NewDocumentStore(ctx context.Context, dsn string) (*DocumentStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &DocumentStore{pool: pool}, nil
}

// NewDocumentStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewDocumentStoreWithPool(pool pgxPool) (*DocumentStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &DocumentStore{pool: pool}, nil
}

// Close closes the underlying connection pool.
func (s *DocumentStore) Close() {
	s.pool.Close()
}

// CreateIfAbsent inserts the document unless another row already carries the
// same content hash. The existing row is locked for the duration of the
// transaction; on a hash match the store reports created=false together with
// the source URL of the earlier document.
func (s *DocumentStore) CreateIfAbsent(ctx context.Context, doc crawler.Document) (bool, string, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, "", fmt.Errorf("begin dedup transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var existingID, existingURL string
	err = tx.QueryRow(ctx,
		`SELECT id, source_url FROM documents WHERE content_hash = $1 FOR UPDATE`,
		doc.ContentHash,
	).Scan(&existingID, &existingURL)
	switch {
	case err == nil:
		if err := tx.Commit(ctx); err != nil {
			return false, "", fmt.Errorf("commit dedup transaction: %w", err)
		}
		return false, existingURL, nil
	case errors.Is(err, pgx.ErrNoRows):
		// fall through to insert
	default:
		return false, "", fmt.Errorf("lookup content hash: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO documents (
			id, session_id, source_url, insurer, local_path, file_size,
			content_hash, country, policy_type, document_type,
			classification, confidence, status, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`,
		doc.ID,
		doc.SessionID,
		doc.SourceURL,
		doc.Insurer,
		doc.LocalPath,
		doc.FileSize,
		doc.ContentHash,
		doc.Country,
		doc.PolicyType,
		doc.DocumentType,
		doc.Classification,
		doc.Confidence,
		doc.Status,
		doc.CreatedAt,
	)
	if err != nil {
		return false, "", fmt.Errorf("insert document: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, "", fmt.Errorf("commit document insert: %w", err)
	}
	return true, "", nil
}

var _ crawler.DocumentStore = (*DocumentStore)(nil)
