package transform

import (
	"hipposeg/pkg/volume"
)

// Flip mirrors the volume along the recorded axes. Flipping is its own
// inverse, so Invert reapplies the identical mirroring.
type Flip struct {
	// Axes marks which of X, Y, Z are mirrored. A record with no axes
	// set is a recorded no-op (the random draw chose not to flip).
	Axes [3]bool
}

// NewFlip returns a flip record for the given axes.
func NewFlip(axes [3]bool) *Flip {
	return &Flip{Axes: axes}
}

// Kind implements Transform.
func (f *Flip) Kind() string { return "flip" }

// Geometric implements Transform.
func (f *Flip) Geometric() bool { return true }

// ExactInverse implements Transform.
func (f *Flip) ExactInverse() bool { return true }

// Apply returns a mirrored copy of the volume.
func (f *Flip) Apply(v *volume.Volume) (*volume.Volume, error) {
	return f.mirror(v), nil
}

// Invert mirrors again along the same axes, restoring the original.
func (f *Flip) Invert(v *volume.Volume) (*volume.Volume, error) {
	return f.mirror(v), nil
}

func (f *Flip) mirror(v *volume.Volume) *volume.Volume {
	out := v.Clone()
	if f.Axes == [3]bool{} {
		return out
	}
	for c := 0; c < v.Channels; c++ {
		for x := 0; x < v.Nx; x++ {
			sx := x
			if f.Axes[0] {
				sx = v.Nx - 1 - x
			}
			for y := 0; y < v.Ny; y++ {
				sy := y
				if f.Axes[1] {
					sy = v.Ny - 1 - y
				}
				for z := 0; z < v.Nz; z++ {
					sz := z
					if f.Axes[2] {
						sz = v.Nz - 1 - z
					}
					out.Set(c, x, y, z, v.At(c, sx, sy, sz))
				}
			}
		}
	}
	return out
}
