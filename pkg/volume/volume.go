// Package volume provides the 4D voxel container shared by every stage of
// the segmentation pipeline. A Volume couples raw intensity or logit data
// with the affine mapping from voxel indices to physical (world)
// coordinates, so spatial bookkeeping survives preprocessing, augmentation
// and inverse mapping.
package volume

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Volume is a channels-first 4D tensor (C, X, Y, Z) over a regular voxel
// grid. Intensity inputs carry a single channel; network logits carry one
// channel per class.
type Volume struct {
	// Data holds the voxel values in C-major, then X, Y, Z order:
	// Data[((c*Nx+x)*Ny+y)*Nz+z].
	Data []float32

	// Channels is the number of channels (1 for intensities).
	Channels int

	// Nx, Ny, Nz are the spatial dimensions in voxels.
	Nx, Ny, Nz int

	// Affine is the 4x4 voxel-to-world matrix. Column j of its upper 3x3
	// block is the world step taken by incrementing voxel index j.
	Affine *mat.Dense
}

// New allocates a zero-filled volume with the given shape and affine.
// A nil affine defaults to the identity (1mm isotropic, origin at voxel 0).
func New(channels, nx, ny, nz int, affine *mat.Dense) *Volume {
	if affine == nil {
		affine = IdentityAffine()
	}
	return &Volume{
		Data:     make([]float32, channels*nx*ny*nz),
		Channels: channels,
		Nx:       nx,
		Ny:       ny,
		Nz:       nz,
		Affine:   affine,
	}
}

// IdentityAffine returns a fresh 4x4 identity matrix.
func IdentityAffine() *mat.Dense {
	a := mat.NewDense(4, 4, nil)
	for i := 0; i < 4; i++ {
		a.Set(i, i, 1)
	}
	return a
}

// Clone returns a deep copy of the volume, including its affine.
func (v *Volume) Clone() *Volume {
	out := &Volume{
		Data:     make([]float32, len(v.Data)),
		Channels: v.Channels,
		Nx:       v.Nx,
		Ny:       v.Ny,
		Nz:       v.Nz,
		Affine:   mat.DenseCopyOf(v.Affine),
	}
	copy(out.Data, v.Data)
	return out
}

// Index returns the flat Data index of voxel (c, x, y, z).
func (v *Volume) Index(c, x, y, z int) int {
	return ((c*v.Nx+x)*v.Ny+y)*v.Nz + z
}

// At returns the value stored at voxel (c, x, y, z).
func (v *Volume) At(c, x, y, z int) float32 {
	return v.Data[v.Index(c, x, y, z)]
}

// Set stores a value at voxel (c, x, y, z).
func (v *Volume) Set(c, x, y, z int, val float32) {
	v.Data[v.Index(c, x, y, z)] = val
}

// SpatialShape returns the spatial dimensions (Nx, Ny, Nz).
func (v *Volume) SpatialShape() [3]int {
	return [3]int{v.Nx, v.Ny, v.Nz}
}

// NumVoxels returns the number of voxels per channel.
func (v *Volume) NumVoxels() int {
	return v.Nx * v.Ny * v.Nz
}

// SameSpatialShape reports whether the two volumes cover identical grids.
func (v *Volume) SameSpatialShape(o *Volume) bool {
	return v.Nx == o.Nx && v.Ny == o.Ny && v.Nz == o.Nz
}

// Spacing returns the physical voxel size along each axis, derived from
// the column norms of the affine's upper 3x3 block.
func (v *Volume) Spacing() [3]float64 {
	var s [3]float64
	for j := 0; j < 3; j++ {
		var sum float64
		for i := 0; i < 3; i++ {
			e := v.Affine.At(i, j)
			sum += e * e
		}
		s[j] = math.Sqrt(sum)
	}
	return s
}

// SampleTrilinear evaluates channel c at the fractional voxel coordinate
// (fx, fy, fz) by trilinear interpolation. Coordinates outside the grid
// contribute zero, which matches the zero-padding used throughout the
// pipeline.
func (v *Volume) SampleTrilinear(c int, fx, fy, fz float64) float32 {
	x0 := int(math.Floor(fx))
	y0 := int(math.Floor(fy))
	z0 := int(math.Floor(fz))
	dx := fx - float64(x0)
	dy := fy - float64(y0)
	dz := fz - float64(z0)

	var acc float64
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			for k := 0; k < 2; k++ {
				x, y, z := x0+i, y0+j, z0+k
				if x < 0 || x >= v.Nx || y < 0 || y >= v.Ny || z < 0 || z >= v.Nz {
					continue
				}
				wx := dx
				if i == 0 {
					wx = 1 - dx
				}
				wy := dy
				if j == 0 {
					wy = 1 - dy
				}
				wz := dz
				if k == 0 {
					wz = 1 - dz
				}
				acc += wx * wy * wz * float64(v.At(c, x, y, z))
			}
		}
	}
	return float32(acc)
}

// CheckShape verifies that the volume matches the expected channel count
// and spatial shape, returning a descriptive error on mismatch.
func (v *Volume) CheckShape(channels, nx, ny, nz int) error {
	if v.Channels != channels || v.Nx != nx || v.Ny != ny || v.Nz != nz {
		return fmt.Errorf("volume shape (%d,%d,%d,%d) does not match expected (%d,%d,%d,%d)",
			v.Channels, v.Nx, v.Ny, v.Nz, channels, nx, ny, nz)
	}
	return nil
}
