// Package remap merges the network's cornu ammonis output channels
// according to a named grouping mode. Merged channels are the raw
// elementwise sum of the source logits and are deliberately not
// re-normalized: downstream voting compares the summed values
// positionally, and the models were calibrated against exactly this
// behavior.
package remap

import (
	"fmt"

	"hipposeg/internal/models"
	"hipposeg/pkg/volume"
)

// UnknownModeError reports a ca_mode outside the recognized set.
type UnknownModeError struct {
	Mode string
}

func (e *UnknownModeError) Error() string {
	return fmt.Sprintf("unknown ca_mode %q: must be one of \"1/2/3\", \"1/23\" or \"123\"", e.Mode)
}

// Validate checks a ca_mode before any inference starts.
func Validate(caMode string) error {
	switch caMode {
	case "1/2/3", "1/23", "123":
		return nil
	}
	return &UnknownModeError{Mode: caMode}
}

// Classes returns the number of output classes for a ca_mode, or an
// error for an unrecognized mode.
func Classes(caMode string) (int, error) {
	if err := Validate(caMode); err != nil {
		return 0, err
	}
	return len(models.ClassNames(caMode)), nil
}

// ToCAMode regroups a 6-channel logits volume per the ca_mode:
//
//	"1/2/3"  identity                         -> 6 channels
//	"1/23"   [bg, dg, ca1, ca2+ca3, sub]      -> 5 channels
//	"123"    [bg, dg, ca1+ca2+ca3, sub]       -> 4 channels
func ToCAMode(logits *volume.Volume, caMode string) (*volume.Volume, error) {
	if logits.Channels != models.NumRawChannels {
		return nil, fmt.Errorf("ca_mode remapping expects %d logit channels, got %d",
			models.NumRawChannels, logits.Channels)
	}
	switch caMode {
	case "1/2/3":
		return logits, nil
	case "1/23":
		return mergeChannels(logits, [][]int{
			{int(models.Background)},
			{int(models.DentateGyrus)},
			{int(models.CA1)},
			{int(models.CA2), int(models.CA3)},
			{int(models.Subiculum)},
		}), nil
	case "123":
		return mergeChannels(logits, [][]int{
			{int(models.Background)},
			{int(models.DentateGyrus)},
			{int(models.CA1), int(models.CA2), int(models.CA3)},
			{int(models.Subiculum)},
		}), nil
	}
	return nil, &UnknownModeError{Mode: caMode}
}

// mergeChannels builds a volume whose channel i is the elementwise sum
// of the listed source channels.
func mergeChannels(v *volume.Volume, groups [][]int) *volume.Volume {
	out := volume.New(len(groups), v.Nx, v.Ny, v.Nz, v.Affine)
	voxels := v.NumVoxels()
	for i, group := range groups {
		dst := out.Data[i*voxels : (i+1)*voxels]
		for _, c := range group {
			src := v.Data[c*voxels : (c+1)*voxels]
			for j, s := range src {
				dst[j] += s
			}
		}
	}
	return out
}
