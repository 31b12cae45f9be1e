package transform

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"hipposeg/pkg/volume"
)

// AffineDeformation resamples the volume through a rigid-plus-scale
// transform about the grid center. The record stores the parameters the
// augmentation drew; the sampling matrices are derived on first Apply and
// reused by Invert so the two directions share one geometry.
type AffineDeformation struct {
	// Scales is the multiplicative scale per axis (1 = unchanged).
	Scales [3]float64

	// RotationDeg is the rotation about each axis in degrees, composed
	// in Z·Y·X order.
	RotationDeg [3]float64

	// TranslationMM is the translation per axis in millimetres,
	// converted to voxels using the volume's spacing at apply time.
	TranslationMM [3]float64

	fwd, inv *mat.Dense
	shape    [3]int
}

// NewAffineDeformation returns an affine record with the given drawn
// parameters.
func NewAffineDeformation(scales, rotationDeg, translationMM [3]float64) *AffineDeformation {
	return &AffineDeformation{Scales: scales, RotationDeg: rotationDeg, TranslationMM: translationMM}
}

// Kind implements Transform.
func (a *AffineDeformation) Kind() string { return "affine" }

// Geometric implements Transform.
func (a *AffineDeformation) Geometric() bool { return true }

// ExactInverse implements Transform. Both directions resample, so the
// round trip carries interpolation tolerance.
func (a *AffineDeformation) ExactInverse() bool { return false }

// Apply resamples the volume through the forward transform.
func (a *AffineDeformation) Apply(v *volume.Volume) (*volume.Volume, error) {
	if err := a.buildMatrices(v); err != nil {
		return nil, err
	}
	return resampleMapped(v, a.mapper(a.fwd)), nil
}

// Invert resamples the volume through the inverse transform. It fails if
// the record has not been applied or the shape differs from apply time.
func (a *AffineDeformation) Invert(v *volume.Volume) (*volume.Volume, error) {
	if a.inv == nil {
		return nil, errors.New("affine deformation has not been applied")
	}
	if [3]int{v.Nx, v.Ny, v.Nz} != a.shape {
		return nil, fmt.Errorf("volume shape (%d,%d,%d) inconsistent with applied shape (%d,%d,%d)",
			v.Nx, v.Ny, v.Nz, a.shape[0], a.shape[1], a.shape[2])
	}
	return resampleMapped(v, a.mapper(a.inv)), nil
}

// mapper adapts a homogeneous 4x4 matrix into a voxel coordinate mapping.
func (a *AffineDeformation) mapper(m *mat.Dense) func(x, y, z int) (float64, float64, float64) {
	return func(x, y, z int) (float64, float64, float64) {
		fx := m.At(0, 0)*float64(x) + m.At(0, 1)*float64(y) + m.At(0, 2)*float64(z) + m.At(0, 3)
		fy := m.At(1, 0)*float64(x) + m.At(1, 1)*float64(y) + m.At(1, 2)*float64(z) + m.At(1, 3)
		fz := m.At(2, 0)*float64(x) + m.At(2, 1)*float64(y) + m.At(2, 2)*float64(z) + m.At(2, 3)
		return fx, fy, fz
	}
}

// buildMatrices derives the forward and inverse voxel-space sampling
// matrices from the drawn parameters and the volume geometry.
func (a *AffineDeformation) buildMatrices(v *volume.Volume) error {
	if a.fwd != nil {
		return nil
	}
	for i, s := range a.Scales {
		if s == 0 {
			return fmt.Errorf("affine scale along axis %d is zero", i)
		}
	}

	rx := a.RotationDeg[0] * math.Pi / 180
	ry := a.RotationDeg[1] * math.Pi / 180
	rz := a.RotationDeg[2] * math.Pi / 180

	rotX := mat.NewDense(3, 3, []float64{
		1, 0, 0,
		0, math.Cos(rx), -math.Sin(rx),
		0, math.Sin(rx), math.Cos(rx),
	})
	rotY := mat.NewDense(3, 3, []float64{
		math.Cos(ry), 0, math.Sin(ry),
		0, 1, 0,
		-math.Sin(ry), 0, math.Cos(ry),
	})
	rotZ := mat.NewDense(3, 3, []float64{
		math.Cos(rz), -math.Sin(rz), 0,
		math.Sin(rz), math.Cos(rz), 0,
		0, 0, 1,
	})
	scale := mat.NewDense(3, 3, []float64{
		a.Scales[0], 0, 0,
		0, a.Scales[1], 0,
		0, 0, a.Scales[2],
	})

	var linear mat.Dense
	linear.Mul(rotZ, rotY)
	linear.Mul(&linear, rotX)
	linear.Mul(&linear, scale)

	spacing := v.Spacing()
	center := [3]float64{float64(v.Nx-1) / 2, float64(v.Ny-1) / 2, float64(v.Nz-1) / 2}

	// Sampling matrix: source = center + L·(p − center) − t, with t in
	// voxels. Written homogeneous so both directions are plain 4x4s.
	fwd := mat.NewDense(4, 4, nil)
	fwd.Set(3, 3, 1)
	for i := 0; i < 3; i++ {
		offset := center[i]
		for j := 0; j < 3; j++ {
			fwd.Set(i, j, linear.At(i, j))
			offset -= linear.At(i, j) * center[j]
		}
		if spacing[i] > 0 {
			offset -= a.TranslationMM[i] / spacing[i]
		}
		fwd.Set(i, 3, offset)
	}

	inv := mat.NewDense(4, 4, nil)
	if err := inv.Inverse(fwd); err != nil {
		return fmt.Errorf("affine transform is not invertible: %w", err)
	}

	a.fwd = fwd
	a.inv = inv
	a.shape = [3]int{v.Nx, v.Ny, v.Nz}
	return nil
}
