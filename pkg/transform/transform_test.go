package transform

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"hipposeg/pkg/volume"
)

// rampVolume builds a single-channel volume with a distinct value per
// voxel so spatial rearrangements are observable.
func rampVolume(nx, ny, nz int) *volume.Volume {
	v := volume.New(1, nx, ny, nz, nil)
	for i := range v.Data {
		v.Data[i] = float32(i)
	}
	return v
}

func affineData(a *mat.Dense) []float64 {
	out := make([]float64, 16)
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			out[i*4+j] = a.At(i, j)
		}
	}
	return out
}

// TestZNormalization verifies standardization to zero mean, unit
// variance, and rejection of constant volumes.
func TestZNormalization(t *testing.T) {
	v := rampVolume(4, 4, 4)
	z := NewZNormalization()
	out, err := z.Apply(v)
	require.NoError(t, err)

	var mean float64
	for _, d := range out.Data {
		mean += float64(d)
	}
	mean /= float64(len(out.Data))
	var variance float64
	for _, d := range out.Data {
		variance += (float64(d) - mean) * (float64(d) - mean)
	}
	variance /= float64(len(out.Data) - 1)

	assert.InDelta(t, 0, mean, 1e-5)
	assert.InDelta(t, 1, variance, 1e-4)
	assert.False(t, z.Geometric())

	constant := volume.New(1, 2, 2, 2, nil)
	_, err = NewZNormalization().Apply(constant)
	assert.Error(t, err)
}

// TestPadRoundTrip verifies that padding to a multiple of 8 and
// inverting reproduces the original shape, data and affine.
func TestPadRoundTrip(t *testing.T) {
	v := rampVolume(13, 16, 7)
	v.Affine.Set(0, 3, -12.5)
	orig := affineData(v.Affine)

	p := NewPadToMultiple(8)
	padded, err := p.Apply(v)
	require.NoError(t, err)
	assert.Equal(t, [3]int{16, 16, 8}, padded.SpatialShape())

	// Low side gets the floor of the split.
	assert.Equal(t, [3]int{1, 0, 0}, p.Before)
	assert.Equal(t, [3]int{2, 0, 1}, p.After)

	back, err := p.Invert(padded)
	require.NoError(t, err)
	assert.Equal(t, v.SpatialShape(), back.SpatialShape())
	assert.Equal(t, v.Data, back.Data)
	assert.Empty(t, cmp.Diff(orig, affineData(back.Affine)))
}

// TestPadAlreadyMultiple verifies that compliant shapes pad by zero
// voxels and invert to an identical volume.
func TestPadAlreadyMultiple(t *testing.T) {
	v := rampVolume(16, 16, 16)
	p := NewPadToMultiple(8)
	padded, err := p.Apply(v)
	require.NoError(t, err)
	assert.Equal(t, [3]int{16, 16, 16}, padded.SpatialShape())
	assert.Equal(t, v.Data, padded.Data)
}

// TestPadInvertShapeMismatch verifies the shape-consistency guard.
func TestPadInvertShapeMismatch(t *testing.T) {
	p := NewPadToMultiple(8)
	_, err := p.Apply(rampVolume(13, 16, 7))
	require.NoError(t, err)

	_, err = p.Invert(rampVolume(8, 8, 8))
	assert.ErrorContains(t, err, "inconsistent")
}

// TestFlipRoundTrip verifies that flipping is its own inverse and that
// a no-axis flip is a recorded no-op.
func TestFlipRoundTrip(t *testing.T) {
	v := rampVolume(3, 4, 5)

	f := NewFlip([3]bool{true, false, true})
	flipped, err := f.Apply(v)
	require.NoError(t, err)
	assert.NotEqual(t, v.Data, flipped.Data)
	assert.Equal(t, v.At(0, 2, 0, 4), flipped.At(0, 0, 0, 0))

	back, err := f.Invert(flipped)
	require.NoError(t, err)
	assert.Equal(t, v.Data, back.Data)

	noop, err := NewFlip([3]bool{}).Apply(v)
	require.NoError(t, err)
	assert.Equal(t, v.Data, noop.Data)
}

// TestAffineRoundTrip verifies that a small affine perturbation inverts
// back to the original within resampling tolerance, away from borders.
func TestAffineRoundTrip(t *testing.T) {
	nx, ny, nz := 12, 12, 12
	v := volume.New(1, nx, ny, nz, nil)
	for x := 0; x < nx; x++ {
		for y := 0; y < ny; y++ {
			for z := 0; z < nz; z++ {
				v.Set(0, x, y, z, float32(math.Sin(float64(x)*0.4)+math.Cos(float64(y)*0.3)+float64(z)*0.1))
			}
		}
	}

	a := NewAffineDeformation([3]float64{1.05, 0.95, 1}, [3]float64{5, -3, 2}, [3]float64{0.5, -0.5, 0})
	fwd, err := a.Apply(v)
	require.NoError(t, err)
	back, err := a.Invert(fwd)
	require.NoError(t, err)
	assert.False(t, a.ExactInverse())

	for x := 3; x < nx-3; x++ {
		for y := 3; y < ny-3; y++ {
			for z := 3; z < nz-3; z++ {
				assert.InDelta(t, float64(v.At(0, x, y, z)), float64(back.At(0, x, y, z)), 0.15,
					"voxel (%d,%d,%d)", x, y, z)
			}
		}
	}
}

// TestAffineInvertBeforeApply verifies the derived-matrix guard.
func TestAffineInvertBeforeApply(t *testing.T) {
	a := NewAffineDeformation([3]float64{1, 1, 1}, [3]float64{}, [3]float64{})
	_, err := a.Invert(rampVolume(4, 4, 4))
	assert.ErrorContains(t, err, "not been applied")
}

// TestElasticValidation verifies grid and displacement-count checks.
func TestElasticValidation(t *testing.T) {
	_, err := NewElasticDeformation([3]int{1, 4, 4}, nil).Apply(rampVolume(8, 8, 8))
	assert.Error(t, err)

	_, err = NewElasticDeformation([3]int{2, 2, 2}, make([][3]float64, 7)).Apply(rampVolume(8, 8, 8))
	assert.Error(t, err)
}

// TestStackInvertVolume verifies that inverse mapping replays geometric
// records in reverse, skips intensity records, and surfaces tolerance
// warnings for approximate inverses.
func TestStackInvertVolume(t *testing.T) {
	subject := NewSubject(rampVolume(6, 6, 6))
	require.NoError(t, subject.Apply(NewZNormalization()))
	require.NoError(t, subject.Apply(NewPadToMultiple(8)))
	require.NoError(t, subject.Apply(NewFlip([3]bool{true, false, false})))
	require.Len(t, subject.Stack, 3)

	pred := subject.Primary().Clone()
	back, warnings, err := subject.Stack.InvertVolume(pred)
	require.NoError(t, err)
	assert.Empty(t, warnings, "pad and flip invert exactly")
	assert.Equal(t, [3]int{6, 6, 6}, back.SpatialShape())

	// An approximate record produces a warning but not an error.
	disp := make([][3]float64, 8)
	require.NoError(t, subject.Apply(NewElasticDeformation([3]int{2, 2, 2}, disp)))
	back, warnings, err = subject.Stack.InvertVolume(subject.Primary().Clone())
	require.NoError(t, err)
	assert.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "elastic")
	assert.Equal(t, [3]int{6, 6, 6}, back.SpatialShape())
}

// TestStackEmptyInvert verifies the fail-fast on an empty stack.
func TestStackEmptyInvert(t *testing.T) {
	var s Stack
	_, _, err := s.InvertVolume(rampVolume(2, 2, 2))
	assert.ErrorIs(t, err, ErrEmptyStack)
}

// TestSubjectCloneIsolation verifies that transforming a clone leaves
// the original subject's stack and volumes untouched.
func TestSubjectCloneIsolation(t *testing.T) {
	subject := NewSubject(rampVolume(8, 8, 8))
	require.NoError(t, subject.Apply(NewZNormalization()))

	clone := subject.Clone()
	require.NoError(t, clone.Apply(NewFlip([3]bool{true, false, false})))
	clone.AddVolume(LabelVolume, rampVolume(8, 8, 8))

	assert.Len(t, subject.Stack, 1)
	assert.Len(t, clone.Stack, 2)
	assert.Nil(t, subject.Volume(LabelVolume))
}
