package transform

import (
	"fmt"

	"hipposeg/pkg/volume"
)

// ElasticDeformation warps the volume through a smooth displacement
// field interpolated from a coarse grid of control-point displacements.
// The inverse negates the field, which undoes the warp only to first
// order; the stack therefore reports the inverse as approximate.
type ElasticDeformation struct {
	// Grid is the number of control points per axis (at least 2 each).
	Grid [3]int

	// Disp holds one displacement vector per control point, in voxel
	// units, in X-major, then Y, Z order. Border control points are
	// expected to be zero so the volume boundary stays fixed.
	Disp [][3]float64

	shape [3]int
}

// NewElasticDeformation returns an elastic record over the given control
// grid with the given drawn displacements.
func NewElasticDeformation(grid [3]int, disp [][3]float64) *ElasticDeformation {
	return &ElasticDeformation{Grid: grid, Disp: disp}
}

// Kind implements Transform.
func (e *ElasticDeformation) Kind() string { return "elastic" }

// Geometric implements Transform.
func (e *ElasticDeformation) Geometric() bool { return true }

// ExactInverse implements Transform.
func (e *ElasticDeformation) ExactInverse() bool { return false }

// Apply warps the volume along the displacement field.
func (e *ElasticDeformation) Apply(v *volume.Volume) (*volume.Volume, error) {
	if err := e.validate(v); err != nil {
		return nil, err
	}
	e.shape = [3]int{v.Nx, v.Ny, v.Nz}
	return resampleMapped(v, func(x, y, z int) (float64, float64, float64) {
		dx, dy, dz := e.displacementAt(v, x, y, z)
		return float64(x) + dx, float64(y) + dy, float64(z) + dz
	}), nil
}

// Invert warps along the negated field.
func (e *ElasticDeformation) Invert(v *volume.Volume) (*volume.Volume, error) {
	if err := e.validate(v); err != nil {
		return nil, err
	}
	if e.shape != [3]int{} && [3]int{v.Nx, v.Ny, v.Nz} != e.shape {
		return nil, fmt.Errorf("volume shape (%d,%d,%d) inconsistent with applied shape (%d,%d,%d)",
			v.Nx, v.Ny, v.Nz, e.shape[0], e.shape[1], e.shape[2])
	}
	return resampleMapped(v, func(x, y, z int) (float64, float64, float64) {
		dx, dy, dz := e.displacementAt(v, x, y, z)
		return float64(x) - dx, float64(y) - dy, float64(z) - dz
	}), nil
}

func (e *ElasticDeformation) validate(v *volume.Volume) error {
	for i, g := range e.Grid {
		if g < 2 {
			return fmt.Errorf("elastic control grid axis %d has %d points, need at least 2", i, g)
		}
	}
	if want := e.Grid[0] * e.Grid[1] * e.Grid[2]; len(e.Disp) != want {
		return fmt.Errorf("elastic field has %d control displacements, grid needs %d", len(e.Disp), want)
	}
	return nil
}

// displacementAt interpolates the control-point field at a voxel. The
// control grid spans the full volume extent.
func (e *ElasticDeformation) displacementAt(v *volume.Volume, x, y, z int) (float64, float64, float64) {
	gx := gridCoord(x, v.Nx, e.Grid[0])
	gy := gridCoord(y, v.Ny, e.Grid[1])
	gz := gridCoord(z, v.Nz, e.Grid[2])

	x0, wx := splitCoord(gx, e.Grid[0])
	y0, wy := splitCoord(gy, e.Grid[1])
	z0, wz := splitCoord(gz, e.Grid[2])

	var d [3]float64
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			for k := 0; k < 2; k++ {
				cx := min(x0+i, e.Grid[0]-1)
				cy := min(y0+j, e.Grid[1]-1)
				cz := min(z0+k, e.Grid[2]-1)
				w := weight(wx, i) * weight(wy, j) * weight(wz, k)
				cp := e.Disp[(cx*e.Grid[1]+cy)*e.Grid[2]+cz]
				for a := 0; a < 3; a++ {
					d[a] += w * cp[a]
				}
			}
		}
	}
	return d[0], d[1], d[2]
}

// gridCoord maps voxel index i of an axis with n voxels onto the
// continuous control-grid coordinate [0, points-1].
func gridCoord(i, n, points int) float64 {
	if n <= 1 {
		return 0
	}
	return float64(i) / float64(n-1) * float64(points-1)
}

// splitCoord splits a continuous grid coordinate into its base control
// index and interpolation weight.
func splitCoord(g float64, points int) (int, float64) {
	i := int(g)
	if i > points-2 {
		i = points - 2
	}
	return i, g - float64(i)
}

func weight(frac float64, side int) float64 {
	if side == 0 {
		return 1 - frac
	}
	return frac
}
