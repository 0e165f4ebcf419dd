package local

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewRequiresBaseDir(t *testing.T) {
	t.Parallel()

	_, err := New(Config{BaseDir: "  "})
	require.Error(t, err)
}

func TestNewCreatesMissingBaseDir(t *testing.T) {
	t.Parallel()

	base := filepath.Join(t.TempDir(), "documents")
	root, err := New(Config{BaseDir: base})
	require.NoError(t, err)

	info, err := os.Stat(base)
	require.NoError(t, err)
	require.True(t, info.IsDir())
	require.True(t, filepath.IsAbs(root.BaseDir()))
}

func TestDocumentPathSanitizesComponents(t *testing.T) {
	t.Parallel()

	root, err := New(Config{BaseDir: t.TempDir()})
	require.NoError(t, err)

	path, err := root.DocumentPath("Acme", "../../etc/passwd")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(path, root.BaseDir()))
	require.NotContains(t, path, "..")
}

func TestDocumentPathAddsCollisionSuffix(t *testing.T) {
	t.Parallel()

	root, err := New(Config{BaseDir: t.TempDir()})
	require.NoError(t, err)

	first, err := root.DocumentPath("Acme", "policy.pdf")
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Dir(first), 0o750))
	require.NoError(t, os.WriteFile(first, []byte("pdf"), 0o600))

	second, err := root.DocumentPath("Acme", "policy.pdf")
	require.NoError(t, err)
	require.NotEqual(t, first, second)
	require.Equal(t, "policy_1.pdf", filepath.Base(second))
}

func TestRemoveRejectsPathsOutsideRoot(t *testing.T) {
	t.Parallel()

	root, err := New(Config{BaseDir: t.TempDir()})
	require.NoError(t, err)

	outside := filepath.Join(t.TempDir(), "other.pdf")
	require.NoError(t, os.WriteFile(outside, []byte("pdf"), 0o600))

	err = root.Remove(outside)
	require.Error(t, err)
	require.FileExists(t, outside)
}

func TestRemoveDeletesManagedFile(t *testing.T) {
	t.Parallel()

	root, err := New(Config{BaseDir: t.TempDir()})
	require.NoError(t, err)

	path, err := root.DocumentPath("Acme", "dup.pdf")
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte("pdf"), 0o600))

	require.NoError(t, root.Remove(path))
	require.NoFileExists(t, path)
}
