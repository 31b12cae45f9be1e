package remap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hipposeg/pkg/volume"
)

// logitsFixture builds a 6-channel volume where every voxel of channel c
// holds base+c, so channel arithmetic is easy to verify.
func logitsFixture(t *testing.T) *volume.Volume {
	t.Helper()
	v := volume.New(6, 2, 3, 4, nil)
	voxels := v.NumVoxels()
	for c := 0; c < 6; c++ {
		for i := 0; i < voxels; i++ {
			v.Data[c*voxels+i] = float32(10*c + i%7)
		}
	}
	return v
}

// TestIdentityMode verifies that "1/2/3" returns the input unchanged.
func TestIdentityMode(t *testing.T) {
	in := logitsFixture(t)
	out, err := ToCAMode(in, "1/2/3")
	require.NoError(t, err)
	assert.Same(t, in, out, "identity mode must not copy or modify the logits")
}

// TestMerge123Mode verifies that "1/23" sums CA2+CA3 into one channel
// and copies every other channel unchanged.
func TestMerge123Mode(t *testing.T) {
	in := logitsFixture(t)
	out, err := ToCAMode(in, "1/23")
	require.NoError(t, err)
	require.Equal(t, 5, out.Channels)

	voxels := in.NumVoxels()
	for i := 0; i < voxels; i++ {
		assert.Equal(t, in.Data[0*voxels+i], out.Data[0*voxels+i])
		assert.Equal(t, in.Data[1*voxels+i], out.Data[1*voxels+i])
		assert.Equal(t, in.Data[2*voxels+i], out.Data[2*voxels+i])
		assert.Equal(t, in.Data[3*voxels+i]+in.Data[4*voxels+i], out.Data[3*voxels+i],
			"merged channel must be the raw sum of CA2 and CA3")
		assert.Equal(t, in.Data[5*voxels+i], out.Data[4*voxels+i])
	}
}

// TestMergeAllCAMode verifies that "123" sums CA1+CA2+CA3.
func TestMergeAllCAMode(t *testing.T) {
	in := logitsFixture(t)
	out, err := ToCAMode(in, "123")
	require.NoError(t, err)
	require.Equal(t, 4, out.Channels)

	voxels := in.NumVoxels()
	for i := 0; i < voxels; i++ {
		assert.Equal(t, in.Data[0*voxels+i], out.Data[0*voxels+i])
		assert.Equal(t, in.Data[1*voxels+i], out.Data[1*voxels+i])
		assert.Equal(t, in.Data[2*voxels+i]+in.Data[3*voxels+i]+in.Data[4*voxels+i], out.Data[2*voxels+i])
		assert.Equal(t, in.Data[5*voxels+i], out.Data[3*voxels+i])
	}
}

// TestUnknownMode verifies that an unrecognized ca_mode is rejected with
// an error naming the offending value.
func TestUnknownMode(t *testing.T) {
	in := logitsFixture(t)
	_, err := ToCAMode(in, "2/3")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"2/3"`)
	assert.Contains(t, err.Error(), "1/2/3")

	assert.Error(t, Validate("bogus"))
	assert.NoError(t, Validate("1/23"))
}

// TestClasses verifies the class count per mode.
func TestClasses(t *testing.T) {
	for mode, want := range map[string]int{"1/2/3": 6, "1/23": 5, "123": 4} {
		got, err := Classes(mode)
		require.NoError(t, err)
		assert.Equal(t, want, got, "mode %s", mode)
	}
	_, err := Classes("")
	assert.Error(t, err)
}

// TestWrongChannelCount verifies that remapping rejects volumes that do
// not carry the six raw logit channels.
func TestWrongChannelCount(t *testing.T) {
	v := volume.New(4, 2, 2, 2, nil)
	_, err := ToCAMode(v, "1/23")
	assert.Error(t, err)
}
