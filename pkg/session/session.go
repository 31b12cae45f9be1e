// Package session manages the pool of pre-trained segmentation models.
// Each model is wrapped behind the narrow Session interface the ensemble
// depends on: a pure function from a single-channel padded volume to a
// 6-channel logits volume of the same spatial shape.
package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"hipposeg/pkg/volume"
)

// ErrNoModels is returned when model discovery finds nothing. A pool
// must never be empty: an ensemble over zero models would silently
// produce an all-background segmentation.
var ErrNoModels = errors.New("no models found")

// Session is an opaque handle to one loaded model. Run is stateless
// across calls. Implementations serialize Run internally when the
// underlying runtime is not safe for concurrent invocation, so distinct
// sessions may always be driven in parallel.
type Session interface {
	// Run maps a single-channel input volume to a logits volume with
	// one channel per subfield class and identical spatial shape.
	Run(in *volume.Volume) (*volume.Volume, error)

	// Source identifies the model artifact, for logs and ordering.
	Source() string

	// Close releases the model's native resources.
	Close() error
}

// Discover returns the sorted paths of all *.onnx model artifacts in
// dir. It fails with ErrNoModels when the directory yields none.
func Discover(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading models directory: %w", err)
	}
	var paths []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.EqualFold(filepath.Ext(entry.Name()), ".onnx") {
			paths = append(paths, filepath.Join(dir, entry.Name()))
		}
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no .onnx models in %s: %w", dir, ErrNoModels)
	}
	sort.Strings(paths)
	return paths, nil
}

// ClosePool closes every session, returning the first error seen.
func ClosePool(pool []Session) error {
	var first error
	for _, s := range pool {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
