// Package nifti reads and writes NIfTI-1 volumes (.nii and .nii.gz).
// Loading produces a single-channel Volume with the scan's voxel-to-world
// affine; saving re-embeds a label volume into a reference grid as
// unsigned 8-bit voxels. Both byte orders are handled on input; output
// is little-endian with the standard 352-byte data offset.
package nifti

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"gonum.org/v1/gonum/mat"

	"hipposeg/pkg/volume"
)

// NIfTI-1 datatype codes.
const (
	dtUint8   = 2
	dtInt16   = 4
	dtInt32   = 8
	dtFloat32 = 16
	dtFloat64 = 64
)

const (
	headerSize = 348
	dataOffset = 352
)

// header is the fixed 348-byte NIfTI-1 header.
type header struct {
	SizeofHdr     int32
	DataType      [10]byte
	DbName        [18]byte
	Extents       int32
	SessionError  int16
	Regular       byte
	DimInfo       byte
	Dim           [8]int16
	IntentP1      float32
	IntentP2      float32
	IntentP3      float32
	IntentCode    int16
	Datatype      int16
	Bitpix        int16
	SliceStart    int16
	Pixdim        [8]float32
	VoxOffset     float32
	SclSlope      float32
	SclInter      float32
	SliceEnd      int16
	SliceCode     byte
	XyztUnits     byte
	CalMax        float32
	CalMin        float32
	SliceDuration float32
	Toffset       float32
	Glmax         int32
	Glmin         int32
	Descrip       [80]byte
	AuxFile       [24]byte
	QformCode     int16
	SformCode     int16
	QuaternB      float32
	QuaternC      float32
	QuaternD      float32
	QoffsetX      float32
	QoffsetY      float32
	QoffsetZ      float32
	SrowX         [4]float32
	SrowY         [4]float32
	SrowZ         [4]float32
	IntentName    [16]byte
	Magic         [4]byte
}

// Load reads a NIfTI-1 scan into a single-channel volume.
func Load(path string) (*volume.Volume, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	if len(raw) >= 2 && raw[0] == 0x1f && raw[1] == 0x8b {
		zr, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("decompressing %s: %w", path, err)
		}
		raw, err = io.ReadAll(zr)
		zr.Close()
		if err != nil {
			return nil, fmt.Errorf("decompressing %s: %w", path, err)
		}
	}
	if len(raw) < headerSize {
		return nil, fmt.Errorf("%s: file shorter than a NIfTI-1 header", path)
	}

	var order binary.ByteOrder = binary.LittleEndian
	if binary.LittleEndian.Uint32(raw[:4]) != headerSize {
		if binary.BigEndian.Uint32(raw[:4]) != headerSize {
			return nil, fmt.Errorf("%s: not a NIfTI-1 file", path)
		}
		order = binary.BigEndian
	}

	var hdr header
	if err := binary.Read(bytes.NewReader(raw), order, &hdr); err != nil {
		return nil, fmt.Errorf("%s: parsing header: %w", path, err)
	}
	if magic := string(hdr.Magic[:3]); magic != "n+1" {
		if magic == "ni1" {
			return nil, fmt.Errorf("%s: detached .hdr/.img pairs are not supported", path)
		}
		return nil, fmt.Errorf("%s: bad NIfTI magic %q", path, magic)
	}
	if hdr.Dim[0] < 3 || hdr.Dim[0] > 7 {
		return nil, fmt.Errorf("%s: scan has %d dimensions, need 3 to 7 with 3 spatial", path, hdr.Dim[0])
	}
	for d := int16(4); d <= hdr.Dim[0]; d++ {
		if hdr.Dim[d] > 1 {
			return nil, fmt.Errorf("%s: multi-volume scans are not supported (dim[%d]=%d)", path, d, hdr.Dim[d])
		}
	}

	nx, ny, nz := int(hdr.Dim[1]), int(hdr.Dim[2]), int(hdr.Dim[3])
	if nx < 1 || ny < 1 || nz < 1 {
		return nil, fmt.Errorf("%s: degenerate shape (%d,%d,%d)", path, nx, ny, nz)
	}

	values, err := decodeVoxels(raw, &hdr, order, nx*ny*nz, path)
	if err != nil {
		return nil, err
	}

	vol := volume.New(1, nx, ny, nz, affineFromHeader(&hdr))
	// NIfTI stores x fastest; Volume stores z fastest.
	for z := 0; z < nz; z++ {
		for y := 0; y < ny; y++ {
			for x := 0; x < nx; x++ {
				vol.Set(0, x, y, z, values[x+nx*(y+ny*z)])
			}
		}
	}
	return vol, nil
}

// decodeVoxels extracts and scales the voxel payload.
func decodeVoxels(raw []byte, hdr *header, order binary.ByteOrder, n int, path string) ([]float32, error) {
	offset := int(hdr.VoxOffset)
	if offset < headerSize || offset > len(raw) {
		return nil, fmt.Errorf("%s: bad voxel offset %d", path, offset)
	}
	data := raw[offset:]
	elem := int(hdr.Bitpix) / 8
	if len(data) < n*elem {
		return nil, fmt.Errorf("%s: truncated voxel data (%d bytes, need %d)", path, len(data), n*elem)
	}

	slope := float64(hdr.SclSlope)
	if slope == 0 {
		slope = 1
	}
	inter := float64(hdr.SclInter)

	values := make([]float32, n)
	for i := 0; i < n; i++ {
		var v float64
		switch hdr.Datatype {
		case dtUint8:
			v = float64(data[i])
		case dtInt16:
			v = float64(int16(order.Uint16(data[i*2:])))
		case dtInt32:
			v = float64(int32(order.Uint32(data[i*4:])))
		case dtFloat32:
			v = float64(math.Float32frombits(order.Uint32(data[i*4:])))
		case dtFloat64:
			v = math.Float64frombits(order.Uint64(data[i*8:]))
		default:
			return nil, fmt.Errorf("%s: unsupported NIfTI datatype %d", path, hdr.Datatype)
		}
		values[i] = float32(v*slope + inter)
	}
	return values, nil
}

// affineFromHeader builds the voxel-to-world matrix, preferring the
// sform, then the qform, then a plain pixdim scaling.
func affineFromHeader(hdr *header) *mat.Dense {
	a := volume.IdentityAffine()
	switch {
	case hdr.SformCode > 0:
		for j := 0; j < 4; j++ {
			a.Set(0, j, float64(hdr.SrowX[j]))
			a.Set(1, j, float64(hdr.SrowY[j]))
			a.Set(2, j, float64(hdr.SrowZ[j]))
		}
	case hdr.QformCode > 0:
		b := float64(hdr.QuaternB)
		c := float64(hdr.QuaternC)
		d := float64(hdr.QuaternD)
		aa := 1 - b*b - c*c - d*d
		if aa < 0 {
			aa = 0
		}
		q := math.Sqrt(aa)
		r := [3][3]float64{
			{q*q + b*b - c*c - d*d, 2*b*c - 2*q*d, 2*b*d + 2*q*c},
			{2*b*c + 2*q*d, q*q + c*c - b*b - d*d, 2*c*d - 2*q*b},
			{2*b*d - 2*q*c, 2*c*d + 2*q*b, q*q + d*d - c*c - b*b},
		}
		qfac := 1.0
		if hdr.Pixdim[0] < 0 {
			qfac = -1
		}
		for i := 0; i < 3; i++ {
			a.Set(i, 0, r[i][0]*float64(hdr.Pixdim[1]))
			a.Set(i, 1, r[i][1]*float64(hdr.Pixdim[2]))
			a.Set(i, 2, r[i][2]*float64(hdr.Pixdim[3])*qfac)
		}
		a.Set(0, 3, float64(hdr.QoffsetX))
		a.Set(1, 3, float64(hdr.QoffsetY))
		a.Set(2, 3, float64(hdr.QoffsetZ))
	default:
		a.Set(0, 0, float64(hdr.Pixdim[1]))
		a.Set(1, 1, float64(hdr.Pixdim[2]))
		a.Set(2, 2, float64(hdr.Pixdim[3]))
	}
	return a
}

// SaveUint8 writes a single-channel volume as an unsigned 8-bit NIfTI-1
// image. Voxel values are truncated to [0, 255]. A path ending in .gz is
// gzip-compressed.
func SaveUint8(path string, v *volume.Volume) error {
	if v.Channels != 1 {
		return fmt.Errorf("label image must have a single channel, got %d", v.Channels)
	}

	spacing := v.Spacing()
	hdr := header{
		SizeofHdr: headerSize,
		Dim:       [8]int16{3, int16(v.Nx), int16(v.Ny), int16(v.Nz), 1, 1, 1, 1},
		Datatype:  dtUint8,
		Bitpix:    8,
		Pixdim:    [8]float32{1, float32(spacing[0]), float32(spacing[1]), float32(spacing[2]), 0, 0, 0, 0},
		VoxOffset: dataOffset,
		SclSlope:  1,
		XyztUnits: 2, // millimetres
		SformCode: 1,
		Magic:     [4]byte{'n', '+', '1', 0},
	}
	for j := 0; j < 4; j++ {
		hdr.SrowX[j] = float32(v.Affine.At(0, j))
		hdr.SrowY[j] = float32(v.Affine.At(1, j))
		hdr.SrowZ[j] = float32(v.Affine.At(2, j))
	}

	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, &hdr); err != nil {
		return fmt.Errorf("encoding header: %w", err)
	}
	buf.Write(make([]byte, dataOffset-headerSize))

	// NIfTI stores x fastest; Volume stores z fastest.
	for z := 0; z < v.Nz; z++ {
		for y := 0; y < v.Ny; y++ {
			for x := 0; x < v.Nx; x++ {
				val := v.At(0, x, y, z)
				switch {
				case val < 0:
					val = 0
				case val > 255:
					val = 255
				}
				buf.WriteByte(byte(val))
			}
		}
	}

	out := buf.Bytes()
	if strings.HasSuffix(path, ".gz") {
		var zbuf bytes.Buffer
		zw := gzip.NewWriter(&zbuf)
		if _, err := zw.Write(out); err != nil {
			return fmt.Errorf("compressing %s: %w", path, err)
		}
		if err := zw.Close(); err != nil {
			return fmt.Errorf("compressing %s: %w", path, err)
		}
		out = zbuf.Bytes()
	}
	if err := os.WriteFile(path, out, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
