package crawler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const downloadChunkSize = 32 * 1024

// PDFFetcher streams candidate URLs to disk, hashing as it goes and
// enforcing the size and per-download time ceilings. Writes are atomic:
// bytes land in a temp file next to the destination and are renamed into
// place only on success.
type PDFFetcher struct {
	client      *http.Client
	root        string
	maxBytes    int64
	maxDuration time.Duration
	clock       Clock
	logger      *zap.Logger
}

// NewPDFFetcher builds a fetcher sharing the session client's connection
// pool. The page-level request timeout is replaced by the per-download
// budget, which the streaming loop also enforces.
func NewPDFFetcher(client *http.Client, root string, maxBytes int64, maxDuration time.Duration, clock Clock, logger *zap.Logger) *PDFFetcher {
	return &PDFFetcher{
		client: &http.Client{
			Transport: client.Transport,
			Timeout:   maxDuration,
		},
		root:        root,
		maxBytes:    maxBytes,
		maxDuration: maxDuration,
		clock:       clock,
		logger:      logger,
	}
}

// Fetch downloads rawURL into destPath and returns its size and SHA-256.
// Every failure cleans up after itself and comes back as an error; nothing
// here panics or leaves partial files behind.
func (f *PDFFetcher) Fetch(ctx context.Context, rawURL, destPath string) (FetchResult, error) {
	if !pathWithinRoot(f.root, destPath) {
		return FetchResult{}, fmt.Errorf("destination %s escapes storage root", destPath)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return FetchResult{}, fmt.Errorf("build request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return FetchResult{}, fmt.Errorf("get %s: %w", rawURL, err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			f.logger.Debug("close download body", zap.Error(cerr))
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return FetchResult{}, fmt.Errorf("get %s: status %d", rawURL, resp.StatusCode)
	}

	contentType := strings.ToLower(resp.Header.Get("Content-Type"))
	if !strings.Contains(contentType, "application/pdf") && !IsPDFURL(rawURL) {
		return FetchResult{}, fmt.Errorf("get %s: not a pdf (content-type %q)", rawURL, contentType)
	}

	if declared := resp.Header.Get("Content-Length"); declared != "" {
		if length, perr := strconv.ParseInt(declared, 10, 64); perr == nil && length > f.maxBytes {
			return FetchResult{}, fmt.Errorf("get %s: declared size %d exceeds limit %d", rawURL, length, f.maxBytes)
		}
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0o750); err != nil {
		return FetchResult{}, fmt.Errorf("create document dir: %w", err)
	}

	result, err := f.streamToFile(resp.Body, destPath, rawURL)
	if err != nil {
		return FetchResult{}, err
	}

	f.logger.Info("downloaded pdf",
		zap.String("url", rawURL),
		zap.String("path", destPath),
		zap.Int64("bytes", result.Size),
		zap.String("sha256", result.SHA256[:8]))
	return result, nil
}

// streamToFile copies the body into a temp file while hashing, then renames
// it over destPath. The rename stays on one filesystem because the temp
// file lives in the destination directory.
func (f *PDFFetcher) streamToFile(body io.Reader, destPath, rawURL string) (FetchResult, error) {
	tmp, err := os.CreateTemp(filepath.Dir(destPath), ".download-*.tmp")
	if err != nil {
		return FetchResult{}, fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if cerr := tmp.Close(); cerr != nil && !committed {
			f.logger.Debug("close temp file", zap.Error(cerr))
		}
		if !committed {
			if rerr := os.Remove(tmpPath); rerr != nil && !errors.Is(rerr, os.ErrNotExist) {
				f.logger.Warn("remove temp file failed", zap.String("path", tmpPath), zap.Error(rerr))
			}
		}
	}()

	hasher := sha256.New()
	start := f.clock.Now()
	var written int64
	buf := make([]byte, downloadChunkSize)

	for {
		n, rerr := body.Read(buf)
		if n > 0 {
			written += int64(n)
			if written > f.maxBytes {
				return FetchResult{}, fmt.Errorf("get %s: exceeded size limit %d mid-stream", rawURL, f.maxBytes)
			}
			if f.clock.Now().Sub(start) > f.maxDuration {
				return FetchResult{}, fmt.Errorf("get %s: exceeded download time limit %s", rawURL, f.maxDuration)
			}
			if _, werr := tmp.Write(buf[:n]); werr != nil {
				return FetchResult{}, fmt.Errorf("write temp file: %w", werr)
			}
			hasher.Write(buf[:n])
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return FetchResult{}, fmt.Errorf("read %s: %w", rawURL, rerr)
		}
	}

	if err := tmp.Close(); err != nil {
		return FetchResult{}, fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		return FetchResult{}, fmt.Errorf("commit %s: %w", destPath, err)
	}
	committed = true

	return FetchResult{
		Size:   written,
		SHA256: hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

// pathWithinRoot resolves the deepest existing ancestor of dest (following
// symlinks) and checks it falls strictly inside root. This is the traversal
// defense for crafted filenames.
func pathWithinRoot(root, dest string) bool {
	resolvedRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return false
	}
	current := filepath.Clean(dest)
	for {
		resolved, rerr := filepath.EvalSymlinks(current)
		if rerr == nil {
			rel, relErr := filepath.Rel(resolvedRoot, resolved)
			if relErr != nil {
				return false
			}
			return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
		}
		parent := filepath.Dir(current)
		if parent == current {
			return false
		}
		current = parent
	}
}

var _ Fetcher = (*PDFFetcher)(nil)
