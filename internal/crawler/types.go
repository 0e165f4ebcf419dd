// Package crawler defines core types shared across subsystems.
package crawler

import (
	"time"
)

// SessionStatus represents the lifecycle state of a crawl session.
type SessionStatus string

// Session status values persisted in the session store. Transitions are
// monotonic: queued -> running -> completed|failed.
const (
	SessionStatusQueued    SessionStatus = "queued"
	SessionStatusRunning   SessionStatus = "running"
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusFailed    SessionStatus = "failed"
)

// Terminal reports whether the status is absorbing.
func (s SessionStatus) Terminal() bool {
	return s == SessionStatusCompleted || s == SessionStatusFailed
}

// CrawlSession is one user-initiated crawl run with a fixed configuration.
type CrawlSession struct {
	ID             string          `json:"id"`
	UserID         string          `json:"user_id"`
	Country        string          `json:"country"`
	MaxPages       int             `json:"max_pages"`
	MaxMinutes     int             `json:"max_minutes"`
	SeedURLs       []string        `json:"seed_urls"`
	PolicyTypes    []string        `json:"policy_types"`
	KeywordFilters []string        `json:"keyword_filters"`
	Status         SessionStatus   `json:"status"`
	Progress       SessionProgress `json:"progress"`
	StartedAt      *time.Time      `json:"started_at,omitempty"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// SessionProgress tracks the running counters for one session.
type SessionProgress struct {
	ProgressPct    int `json:"progress_pct"`
	PagesScanned   int `json:"pages_scanned"`
	PdfsFound      int `json:"pdfs_found"`
	PdfsDownloaded int `json:"pdfs_downloaded"`
	PdfsFiltered   int `json:"pdfs_filtered"`
	ErrorsCount    int `json:"errors_count"`
}

// DocumentStatus is the review state of a downloaded document.
type DocumentStatus string

// Document status values. The engine only ever writes "pending"; validation
// and rejection happen in the review interface.
const (
	DocumentStatusPending   DocumentStatus = "pending"
	DocumentStatusValidated DocumentStatus = "validated"
	DocumentStatusRejected  DocumentStatus = "rejected"
)

// ClassificationUnclassified is the sentinel classification written for every
// new document; a downstream process overwrites it later.
const ClassificationUnclassified = "Unclassified"

// Document is one discovered, downloaded PDF. Rows are owned by their crawl
// session and cascade-deleted with it.
type Document struct {
	ID             string         `json:"id"`
	SessionID      string         `json:"crawl_session_id"`
	SourceURL      string         `json:"source_url"`
	Insurer        string         `json:"insurer"`
	LocalPath      string         `json:"local_file_path"`
	FileSize       int64          `json:"file_size"`
	ContentHash    string         `json:"file_hash"`
	Country        string         `json:"country"`
	PolicyType     string         `json:"policy_type"`
	DocumentType   string         `json:"document_type"`
	Classification string         `json:"classification"`
	Confidence     float64        `json:"confidence"`
	Status         DocumentStatus `json:"status"`
	CreatedAt      time.Time      `json:"created_at"`
}

// PDFCandidate is a validated PDF URL produced by the walker, tagged with the
// policy type that matched at discovery time.
type PDFCandidate struct {
	URL        string
	PolicyType string
}

// FetchResult describes a successfully downloaded file.
type FetchResult struct {
	Size   int64
	SHA256 string
}
