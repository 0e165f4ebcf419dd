package crawler

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// stubClock is a manually advanced clock for deadline tests.
type stubClock struct {
	mu  sync.Mutex
	now time.Time
}

func newStubClock(start time.Time) *stubClock {
	return &stubClock{now: start}
}

func (c *stubClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stubClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// realClock wraps time.Now for tests that need wall time to pass.
type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// fakeSessionStore keeps sessions in memory and records transitions.
type fakeSessionStore struct {
	mu       sync.Mutex
	sessions map[string]CrawlSession

	markRunningErr    error
	updateProgressErr error
	finishErr         error

	progressUpdates []SessionProgress
}

func newFakeSessionStore(sessions ...CrawlSession) *fakeSessionStore {
	s := &fakeSessionStore{sessions: make(map[string]CrawlSession)}
	for _, session := range sessions {
		s.sessions[session.ID] = session
	}
	return s
}

func (s *fakeSessionStore) CreateSession(_ context.Context, session CrawlSession) (CrawlSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session.Status = SessionStatusQueued
	s.sessions[session.ID] = session
	return session, nil
}

func (s *fakeSessionStore) GetSession(_ context.Context, id string) (CrawlSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return CrawlSession{}, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return session, nil
}

func (s *fakeSessionStore) MarkRunning(_ context.Context, id string, startedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.markRunningErr != nil {
		return s.markRunningErr
	}
	session := s.sessions[id]
	session.Status = SessionStatusRunning
	session.StartedAt = &startedAt
	s.sessions[id] = session
	return nil
}

func (s *fakeSessionStore) UpdateProgress(_ context.Context, id string, progress SessionProgress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateProgressErr != nil {
		return s.updateProgressErr
	}
	session := s.sessions[id]
	session.Progress = progress
	s.sessions[id] = session
	s.progressUpdates = append(s.progressUpdates, progress)
	return nil
}

func (s *fakeSessionStore) FinishSession(_ context.Context, id string, status SessionStatus, progress SessionProgress, completedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finishErr != nil {
		return s.finishErr
	}
	session := s.sessions[id]
	session.Status = status
	session.Progress = progress
	session.CompletedAt = &completedAt
	s.sessions[id] = session
	return nil
}

func (s *fakeSessionStore) ListSessions(_ context.Context, _ int) ([]CrawlSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]CrawlSession, 0, len(s.sessions))
	for _, session := range s.sessions {
		out = append(out, session)
	}
	return out, nil
}

func (s *fakeSessionStore) get(id string) CrawlSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[id]
}

// fakeDocumentStore simulates content-hash dedup on a set of known hashes.
type fakeDocumentStore struct {
	mu        sync.Mutex
	known     map[string]string // content hash -> source url
	createErr error
	created   []Document
}

func newFakeDocumentStore() *fakeDocumentStore {
	return &fakeDocumentStore{known: make(map[string]string)}
}

func (s *fakeDocumentStore) CreateIfAbsent(_ context.Context, doc Document) (bool, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return false, "", s.createErr
	}
	if existing, dup := s.known[doc.ContentHash]; dup {
		return false, existing, nil
	}
	s.known[doc.ContentHash] = doc.SourceURL
	s.created = append(s.created, doc)
	return true, "", nil
}

// fakeFileStore hands out deterministic paths and records removals.
type fakeFileStore struct {
	mu      sync.Mutex
	base    string
	removed []string
}

func (s *fakeFileStore) DocumentPath(insurer, filename string) (string, error) {
	return s.base + "/" + insurer + "/" + filename, nil
}

func (s *fakeFileStore) Remove(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removed = append(s.removed, path)
	return nil
}

// fakeWalker returns canned candidates per seed.
type fakeWalker struct {
	mu        sync.Mutex
	bySeeds   map[string][]PDFCandidate
	pages     map[string]int
	walkCount int
}

func (w *fakeWalker) Walk(_ context.Context, seed string, _ WalkConfig) ([]PDFCandidate, int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.walkCount++
	return w.bySeeds[seed], w.pages[seed]
}

// fakeFetcher hashes by URL so distinct URLs read as distinct content unless
// overridden, and can fail for selected URLs.
type fakeFetcher struct {
	mu      sync.Mutex
	hashes  map[string]string // url -> content hash override
	failing map[string]error
	fetched []string
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		hashes:  make(map[string]string),
		failing: make(map[string]error),
	}
}

func (f *fakeFetcher) Fetch(_ context.Context, rawURL, _ string) (FetchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, bad := f.failing[rawURL]; bad {
		return FetchResult{}, err
	}
	f.fetched = append(f.fetched, rawURL)
	hash := f.hashes[rawURL]
	if hash == "" {
		hash = "sha-" + rawURL
	}
	return FetchResult{Size: 1024, SHA256: hash}, nil
}

// fakePublisher records events.
type fakePublisher struct {
	mu     sync.Mutex
	events []map[string]any
}

func (p *fakePublisher) Publish(_ context.Context, _ string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if event, ok := payload.(map[string]any); ok {
		p.events = append(p.events, event)
	}
	return fmt.Sprintf("msg-%d", len(p.events)), nil
}

// seqIDGen issues doc-1, doc-2, ...
type seqIDGen struct {
	mu sync.Mutex
	n  int
}

func (g *seqIDGen) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("doc-%d", g.n), nil
}

var _ SessionStore = (*fakeSessionStore)(nil)
var _ DocumentStore = (*fakeDocumentStore)(nil)
var _ FileStore = (*fakeFileStore)(nil)
var _ seedWalker = (*fakeWalker)(nil)
var _ Fetcher = (*fakeFetcher)(nil)
var _ Publisher = (*fakePublisher)(nil)
var _ IDGenerator = (*seqIDGen)(nil)
var _ Clock = (*stubClock)(nil)
var _ Clock = realClock{}
