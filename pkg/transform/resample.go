package transform

import (
	"gonum.org/v1/gonum/mat"

	"hipposeg/pkg/volume"
)

// resampleMapped builds a volume of the same shape as v where the voxel
// at (x, y, z) takes the trilinearly interpolated value of v at the
// fractional source coordinate returned by source. Coordinates falling
// outside v contribute zero.
func resampleMapped(v *volume.Volume, source func(x, y, z int) (float64, float64, float64)) *volume.Volume {
	out := volume.New(v.Channels, v.Nx, v.Ny, v.Nz, mat.DenseCopyOf(v.Affine))
	for x := 0; x < v.Nx; x++ {
		for y := 0; y < v.Ny; y++ {
			for z := 0; z < v.Nz; z++ {
				fx, fy, fz := source(x, y, z)
				for c := 0; c < v.Channels; c++ {
					out.Set(c, x, y, z, v.SampleTrilinear(c, fx, fy, fz))
				}
			}
		}
	}
	return out
}
