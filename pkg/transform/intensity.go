package transform

import (
	"errors"

	"gonum.org/v1/gonum/stat"

	"hipposeg/pkg/volume"
)

// ZNormalization rescales intensities to zero mean and unit variance over
// the whole volume. The mean and standard deviation measured at apply
// time are kept on the record; the operation is never inverted because
// the pipeline's final output is a discrete label map, not intensities.
type ZNormalization struct {
	// Mean and Std are populated by Apply.
	Mean float64
	Std  float64
}

// NewZNormalization returns a z-normalization record whose statistics
// are measured from the volume it is applied to.
func NewZNormalization() *ZNormalization {
	return &ZNormalization{}
}

// Kind implements Transform.
func (z *ZNormalization) Kind() string { return "znorm" }

// Geometric implements Transform. Intensity scaling moves no voxels.
func (z *ZNormalization) Geometric() bool { return false }

// ExactInverse implements Transform.
func (z *ZNormalization) ExactInverse() bool { return true }

// Apply measures the volume's mean and standard deviation and returns a
// standardized copy. It fails on constant volumes, which carry no
// anatomical signal and would divide by zero.
func (z *ZNormalization) Apply(v *volume.Volume) (*volume.Volume, error) {
	vals := make([]float64, len(v.Data))
	for i, d := range v.Data {
		vals[i] = float64(d)
	}
	mean, std := stat.MeanStdDev(vals, nil)
	if std == 0 {
		return nil, errors.New("cannot z-normalize a constant volume (zero standard deviation)")
	}
	z.Mean = mean
	z.Std = std

	out := v.Clone()
	for i, d := range out.Data {
		out.Data[i] = float32((float64(d) - mean) / std)
	}
	return out, nil
}

// Invert restores the original intensity scale. It exists to satisfy the
// Transform contract; inverse mapping of label volumes skips it.
func (z *ZNormalization) Invert(v *volume.Volume) (*volume.Volume, error) {
	out := v.Clone()
	for i, d := range out.Data {
		out.Data[i] = float32(float64(d)*z.Std + z.Mean)
	}
	return out, nil
}
