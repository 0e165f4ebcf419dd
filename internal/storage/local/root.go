// Package local implements the local filesystem document root.
package local

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/policycheck/crawler/internal/crawler"
)

// Config captures the parameters for the local document root.
type Config struct {
	// BaseDir is the root directory where downloaded documents are stored.
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
}

// Root maps insurer/filename pairs onto directories under a base path. All
// returned paths stay inside the base directory.
type Root struct {
	baseDir string
}

// New creates a document root, creating the base directory if needed and
// verifying it is writable.
func New(cfg Config) (*Root, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}

	info, err := os.Stat(cfg.BaseDir)
	if err != nil {
		if os.IsNotExist(err) {
			if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
				return nil, fmt.Errorf("failed to create base directory: %w", mkErr)
			}
		} else {
			return nil, fmt.Errorf("failed to stat base directory: %w", err)
		}
	} else if !info.IsDir() {
		return nil, fmt.Errorf("base directory path is not a directory")
	}

	testFile := filepath.Join(cfg.BaseDir, ".writable_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	if err := os.Remove(testFile); err != nil {
		return nil, fmt.Errorf("failed to clean up test file: %w", err)
	}

	abs, err := filepath.Abs(cfg.BaseDir)
	if err != nil {
		return nil, fmt.Errorf("resolve base directory: %w", err)
	}

	return &Root{baseDir: abs}, nil
}

// BaseDir returns the absolute root directory.
func (r *Root) BaseDir() string {
	return r.baseDir
}

// DocumentPath returns an unused destination path for insurer/filename. When
// the name is already taken, a numeric suffix is appended before the
// extension until a free name is found.
func (r *Root) DocumentPath(insurer, filename string) (string, error) {
	insurer = crawler.SanitizeFilename(insurer)
	filename = crawler.SanitizeFilename(filename)

	dir := filepath.Join(r.baseDir, insurer)
	full := filepath.Join(dir, filename)
	if err := r.checkWithinRoot(full); err != nil {
		return "", err
	}

	ext := filepath.Ext(filename)
	stem := strings.TrimSuffix(filename, ext)
	for n := 1; ; n++ {
		if _, err := os.Stat(full); os.IsNotExist(err) {
			return full, nil
		}
		full = filepath.Join(dir, fmt.Sprintf("%s_%d%s", stem, n, ext))
		if err := r.checkWithinRoot(full); err != nil {
			return "", err
		}
	}
}

// Remove deletes a previously written file. Paths outside the root are
// rejected rather than removed.
func (r *Root) Remove(path string) error {
	if err := r.checkWithinRoot(path); err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("remove document: %w", err)
	}
	return nil
}

func (r *Root) checkWithinRoot(path string) error {
	clean := filepath.Clean(path)
	if clean != r.baseDir && !strings.HasPrefix(clean, r.baseDir+string(filepath.Separator)) {
		return fmt.Errorf("path %q escapes document root", path)
	}
	return nil
}

var _ crawler.FileStore = (*Root)(nil)
