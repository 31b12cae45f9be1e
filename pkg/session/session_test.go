package session

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestDiscoverFailsOnEmptyDirectory verifies the fail-fast precondition:
// a directory without models must error rather than yield an empty pool.
func TestDiscoverFailsOnEmptyDirectory(t *testing.T) {
	dir := t.TempDir()
	_, err := Discover(dir)
	assert.ErrorIs(t, err, ErrNoModels)

	// Non-model files do not count.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "readme.txt"), []byte("x"), 0644))
	_, err = Discover(dir)
	assert.ErrorIs(t, err, ErrNoModels)
}

// TestDiscoverSortsModels verifies deterministic pool ordering.
func TestDiscoverSortsModels(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.onnx", "a.onnx", "c.onnx", "notes.md"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("m"), 0644))
	}

	paths, err := Discover(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "a.onnx"),
		filepath.Join(dir, "b.onnx"),
		filepath.Join(dir, "c.onnx"),
	}, paths)
}

// TestDiscoverMissingDirectory verifies the error from an unreadable
// models path.
func TestDiscoverMissingDirectory(t *testing.T) {
	_, err := Discover(filepath.Join(t.TempDir(), "absent"))
	assert.Error(t, err)
}

// TestLoadPoolRejectsEmpty verifies the pool cannot be built from zero
// artifacts.
func TestLoadPoolRejectsEmpty(t *testing.T) {
	_, err := LoadPool(nil, Options{})
	assert.ErrorIs(t, err, ErrNoModels)
}
