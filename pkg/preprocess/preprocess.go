// Package preprocess builds the canonical network-ready Subject from a
// raw scan volume: intensities are standardized and the grid is padded so
// every spatial dimension divides by the factor the network's
// downsampling path requires. Both steps are recorded on the Subject's
// transform stack so the final prediction can be mapped back exactly.
package preprocess

import (
	"fmt"

	"hipposeg/pkg/transform"
	"hipposeg/pkg/volume"
)

// ShapeMultiple is the divisor every spatial dimension must satisfy
// before a volume may enter the network.
const ShapeMultiple = 8

// Run preprocesses a raw single-channel scan into a Subject whose stack
// holds exactly the z-normalization and pad records, in that order. The
// input volume is not modified.
func Run(raw *volume.Volume) (*transform.Subject, error) {
	if raw == nil {
		return nil, fmt.Errorf("nil input volume")
	}
	if raw.Channels != 1 {
		return nil, fmt.Errorf("expected a single-channel scan, got %d channels", raw.Channels)
	}
	if raw.Nx < 1 || raw.Ny < 1 || raw.Nz < 1 {
		return nil, fmt.Errorf("scan must have 3 spatial dimensions, got shape (%d,%d,%d)", raw.Nx, raw.Ny, raw.Nz)
	}

	subject := transform.NewSubject(raw.Clone())
	if err := subject.Apply(transform.NewZNormalization()); err != nil {
		return nil, err
	}
	if err := subject.Apply(transform.NewPadToMultiple(ShapeMultiple)); err != nil {
		return nil, err
	}
	return subject, nil
}
