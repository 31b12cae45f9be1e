package nifti

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"hipposeg/pkg/volume"
)

func labelFixture() *volume.Volume {
	affine := mat.NewDense(4, 4, []float64{
		0.8, 0, 0, -12,
		0, 0.8, 0, 7,
		0, 0, 1.2, -3,
		0, 0, 0, 1,
	})
	v := volume.New(1, 5, 4, 3, affine)
	for i := range v.Data {
		v.Data[i] = float32(i % 6)
	}
	return v
}

// TestSaveLoadRoundTrip verifies that a written label volume reads back
// with identical shape, values and sform affine.
func TestSaveLoadRoundTrip(t *testing.T) {
	for _, name := range []string{"seg.nii", "seg.nii.gz"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			in := labelFixture()
			require.NoError(t, SaveUint8(path, in))

			out, err := Load(path)
			require.NoError(t, err)
			assert.Equal(t, 1, out.Channels)
			assert.Equal(t, in.SpatialShape(), out.SpatialShape())
			assert.Equal(t, in.Data, out.Data)

			for i := 0; i < 4; i++ {
				for j := 0; j < 4; j++ {
					assert.InDelta(t, in.Affine.At(i, j), out.Affine.At(i, j), 1e-5)
				}
			}
		})
	}
}

// TestSaveClampsRange verifies uint8 casting clamps out-of-range labels.
func TestSaveClampsRange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clamp.nii")
	v := volume.New(1, 2, 1, 1, nil)
	v.Data[0] = -4
	v.Data[1] = 300

	require.NoError(t, SaveUint8(path, v))
	out, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, float32(0), out.Data[0])
	assert.Equal(t, float32(255), out.Data[1])
}

// TestSaveRejectsMultiChannel verifies the single-channel contract.
func TestSaveRejectsMultiChannel(t *testing.T) {
	err := SaveUint8(filepath.Join(t.TempDir(), "bad.nii"), volume.New(2, 2, 2, 2, nil))
	assert.Error(t, err)
}

// TestLoadRejectsGarbage verifies non-NIfTI input errors cleanly.
func TestLoadRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "junk.nii")
	require.NoError(t, os.WriteFile(path, []byte("definitely not a scan"), 0644))
	_, err := Load(path)
	assert.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "absent.nii"))
	assert.Error(t, err)
}

// TestScaledIntensities verifies scl_slope/scl_inter are applied on load.
func TestScaledIntensities(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scaled.nii")
	in := labelFixture()
	require.NoError(t, SaveUint8(path, in))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	// Patch scl_slope (offset 112) from 1.0 to 2.0 in the header.
	raw[112] = 0
	raw[113] = 0
	raw[114] = 0
	raw[115] = 0x40
	require.NoError(t, os.WriteFile(path, raw, 0644))

	out, err := Load(path)
	require.NoError(t, err)
	for i := range in.Data {
		assert.Equal(t, in.Data[i]*2, out.Data[i])
	}
}
