// Package output persists the final segmentation next to the scan it
// was computed from. The prediction is re-embedded into the raw scan's
// grid so viewers overlay it without resampling, cast to unsigned 8-bit
// labels, and written as compressed NIfTI.
package output

import (
	"fmt"
	"path/filepath"
	"strings"

	"gonum.org/v1/gonum/mat"

	"hipposeg/pkg/nifti"
	"hipposeg/pkg/volume"
)

// DefaultSuffix is appended to the input stem when none is configured.
const DefaultSuffix = "seg"

// SegmentationPath derives the output filename for a scan: the input's
// full extension chain is replaced by "_<suffix>.nii.gz", in the same
// directory.
func SegmentationPath(scanPath, suffix string) string {
	if suffix == "" {
		suffix = DefaultSuffix
	}
	name := filepath.Base(scanPath)
	for {
		ext := filepath.Ext(name)
		if ext == "" {
			break
		}
		name = strings.TrimSuffix(name, ext)
	}
	return filepath.Join(filepath.Dir(scanPath), name+"_"+suffix+".nii.gz")
}

// SavePrediction re-embeds a hard prediction into the raw scan's grid
// and writes it as a uint8 compressed NIfTI. The prediction must already
// be in original-scan space. It returns the written path and the label
// volume as persisted.
func SavePrediction(scanPath string, raw, prediction *volume.Volume, suffix string) (string, *volume.Volume, error) {
	if prediction.Channels != 1 {
		return "", nil, fmt.Errorf("hard prediction must have a single channel, got %d", prediction.Channels)
	}
	if !prediction.SameSpatialShape(raw) {
		return "", nil, fmt.Errorf("prediction shape (%d,%d,%d) does not match scan (%d,%d,%d)",
			prediction.Nx, prediction.Ny, prediction.Nz, raw.Nx, raw.Ny, raw.Nz)
	}

	label := volume.New(1, raw.Nx, raw.Ny, raw.Nz, mat.DenseCopyOf(raw.Affine))
	copy(label.Data, prediction.Data)

	path := SegmentationPath(scanPath, suffix)
	if err := nifti.SaveUint8(path, label); err != nil {
		return "", nil, err
	}
	return path, label, nil
}
