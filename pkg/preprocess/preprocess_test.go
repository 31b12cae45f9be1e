package preprocess

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hipposeg/pkg/volume"
)

func rampVolume(nx, ny, nz int) *volume.Volume {
	v := volume.New(1, nx, ny, nz, nil)
	for i := range v.Data {
		v.Data[i] = float32(i % 97)
	}
	return v
}

// TestRunRecordsPipeline verifies the Subject carries exactly the
// normalization and padding records, in application order.
func TestRunRecordsPipeline(t *testing.T) {
	subject, err := Run(rampVolume(13, 16, 7))
	require.NoError(t, err)

	require.Len(t, subject.Stack, 2)
	assert.Equal(t, "znorm", subject.Stack[0].Kind())
	assert.Equal(t, "pad", subject.Stack[1].Kind())

	shape := subject.Primary().SpatialShape()
	for i, n := range shape {
		assert.Zerof(t, n%ShapeMultiple, "axis %d: %d not a multiple of %d", i, n, ShapeMultiple)
	}
	assert.Equal(t, [3]int{16, 16, 8}, shape)
}

// TestRunNormalizes verifies the preprocessed intensities are
// standardized before padding (padding then adds zeros).
func TestRunNormalizes(t *testing.T) {
	subject, err := Run(rampVolume(16, 16, 16))
	require.NoError(t, err)

	data := subject.Primary().Data
	var mean float64
	for _, d := range data {
		mean += float64(d)
	}
	mean /= float64(len(data))
	assert.InDelta(t, 0, mean, 1e-5)
}

// TestRunLeavesInputUntouched verifies the raw scan is not modified.
func TestRunLeavesInputUntouched(t *testing.T) {
	raw := rampVolume(8, 8, 8)
	before := make([]float32, len(raw.Data))
	copy(before, raw.Data)

	_, err := Run(raw)
	require.NoError(t, err)
	assert.Equal(t, before, raw.Data)
}

// TestRunRejectsBadInput verifies channel and dimensionality checks.
func TestRunRejectsBadInput(t *testing.T) {
	_, err := Run(nil)
	assert.Error(t, err)

	multi := volume.New(2, 8, 8, 8, nil)
	_, err = Run(multi)
	assert.Error(t, err)

	flat := volume.New(1, 8, 8, 0, nil)
	_, err = Run(flat)
	assert.Error(t, err)
}
