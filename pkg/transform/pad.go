package transform

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"hipposeg/pkg/volume"
)

// PadToMultiple zero-pads every spatial dimension up to the next multiple
// of Factor, as required by the network's downsampling path. An odd
// remainder puts the extra voxel on the high side. The exact split is
// recorded so Invert can crop the padding away again.
type PadToMultiple struct {
	// Factor is the required divisor for every spatial dimension.
	Factor int

	// Before and After are the voxels added on each side, per axis.
	// Populated by Apply.
	Before, After [3]int

	// InShape and OutShape are the spatial shapes before and after
	// padding. Populated by Apply.
	InShape, OutShape [3]int

	origAffine *mat.Dense
}

// NewPadToMultiple returns a pad record for the given divisor.
func NewPadToMultiple(factor int) *PadToMultiple {
	return &PadToMultiple{Factor: factor}
}

// Kind implements Transform.
func (p *PadToMultiple) Kind() string { return "pad" }

// Geometric implements Transform.
func (p *PadToMultiple) Geometric() bool { return true }

// ExactInverse implements Transform. Cropping undoes padding exactly.
func (p *PadToMultiple) ExactInverse() bool { return true }

// Apply returns a zero-padded copy of the volume. The affine is shifted
// so that the world coordinates of the original voxels are unchanged.
func (p *PadToMultiple) Apply(v *volume.Volume) (*volume.Volume, error) {
	if p.Factor < 1 {
		return nil, fmt.Errorf("invalid pad factor %d", p.Factor)
	}
	in := [3]int{v.Nx, v.Ny, v.Nz}
	var out [3]int
	for i, n := range in {
		extra := (p.Factor - n%p.Factor) % p.Factor
		p.Before[i] = extra / 2
		p.After[i] = extra - p.Before[i]
		out[i] = n + extra
	}
	p.InShape = in
	p.OutShape = out
	p.origAffine = mat.DenseCopyOf(v.Affine)

	affine := mat.DenseCopyOf(v.Affine)
	for i := 0; i < 3; i++ {
		origin := affine.At(i, 3)
		for j := 0; j < 3; j++ {
			origin -= affine.At(i, j) * float64(p.Before[j])
		}
		affine.Set(i, 3, origin)
	}

	padded := volume.New(v.Channels, out[0], out[1], out[2], affine)
	for c := 0; c < v.Channels; c++ {
		for x := 0; x < v.Nx; x++ {
			for y := 0; y < v.Ny; y++ {
				for z := 0; z < v.Nz; z++ {
					padded.Set(c, x+p.Before[0], y+p.Before[1], z+p.Before[2], v.At(c, x, y, z))
				}
			}
		}
	}
	return padded, nil
}

// Invert crops the padded margins away, restoring the original shape and
// affine. It fails if the volume does not have the padded shape.
func (p *PadToMultiple) Invert(v *volume.Volume) (*volume.Volume, error) {
	if p.origAffine == nil {
		return nil, fmt.Errorf("pad has not been applied")
	}
	if [3]int{v.Nx, v.Ny, v.Nz} != p.OutShape {
		return nil, fmt.Errorf("volume shape (%d,%d,%d) inconsistent with padded shape (%d,%d,%d)",
			v.Nx, v.Ny, v.Nz, p.OutShape[0], p.OutShape[1], p.OutShape[2])
	}
	out := volume.New(v.Channels, p.InShape[0], p.InShape[1], p.InShape[2], mat.DenseCopyOf(p.origAffine))
	for c := 0; c < v.Channels; c++ {
		for x := 0; x < out.Nx; x++ {
			for y := 0; y < out.Ny; y++ {
				for z := 0; z < out.Nz; z++ {
					out.Set(c, x, y, z, v.At(c, x+p.Before[0], y+p.Before[1], z+p.Before[2]))
				}
			}
		}
	}
	return out, nil
}
