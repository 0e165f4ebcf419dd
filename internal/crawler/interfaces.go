package crawler

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("record not found")

// SessionStore persists crawl sessions. Writes made during one session's run
// must be visible to that session's subsequent reads.
type SessionStore interface {
	CreateSession(ctx context.Context, session CrawlSession) (CrawlSession, error)
	GetSession(ctx context.Context, id string) (CrawlSession, error)
	MarkRunning(ctx context.Context, id string, startedAt time.Time) error
	UpdateProgress(ctx context.Context, id string, progress SessionProgress) error
	FinishSession(ctx context.Context, id string, status SessionStatus, progress SessionProgress, completedAt time.Time) error
	ListSessions(ctx context.Context, limit int) ([]CrawlSession, error)
}

// DocumentStore persists downloaded documents. CreateIfAbsent must perform
// the content-hash lookup and the insert atomically with respect to other
// sessions (row-level lock or equivalent); on a hash match it returns
// created=false and the source URL of the existing document.
type DocumentStore interface {
	CreateIfAbsent(ctx context.Context, doc Document) (created bool, existingURL string, err error)
}

// FileStore maps documents onto the storage root.
type FileStore interface {
	// DocumentPath returns an unused destination path for insurer/filename,
	// suffixing the name numerically when it would collide.
	DocumentPath(insurer, filename string) (string, error)
	// Remove deletes a previously written file (used for duplicates).
	Remove(path string) error
}

// RobotsPolicy answers whether a URL may be fetched under robots.txt. It is
// shared read/write across concurrent sessions and must be safe for that.
type RobotsPolicy interface {
	Allowed(ctx context.Context, rawURL string) bool
}

// Fetcher streams a candidate URL to disk with simultaneous hashing.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL, destPath string) (FetchResult, error)
}

// Publisher pushes session lifecycle events to a message topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (injectable for deadline tests).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces session and document IDs.
type IDGenerator interface {
	NewID() (string, error)
}
