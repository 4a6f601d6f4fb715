package volume

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"math/bits"
	"os"
	"strings"

	"github.com/henghuang/nifti"
	"github.com/klauspost/compress/gzip"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/Onset-lab/nii2dcm/internal/geometry"
)

const (
	headerSize = 348
	voxOffset  = 352
)

// NIfTI-1 datatype codes.
const (
	DTUint8   int16 = 2
	DTInt16   int16 = 4
	DTInt32   int16 = 8
	DTFloat32 int16 = 16
	DTFloat64 int16 = 64
	DTInt8    int16 = 256
	DTUint16  int16 = 512
	DTUint32  int16 = 768
	DTInt64   int16 = 1024
	DTUint64  int16 = 1280
)

// sampleType reads and writes one NIfTI datatype.
type sampleType struct {
	name string
	size int
	// fromLibrary recovers the stored value from nifti's GetAt, which decodes
	// by bitpix only. nil when GetAt loses information for the type.
	fromLibrary func(float32) float64
	decode      func([]byte) float64
	encode      func([]byte, float64)
}

var le = binary.LittleEndian

var sampleTypes = map[int16]sampleType{
	DTUint8: {
		name: "uint8", size: 1,
		fromLibrary: func(v float32) float64 { return float64(v) },
		decode:      func(b []byte) float64 { return float64(b[0]) },
		encode:      func(b []byte, v float64) { b[0] = uint8(v) },
	},
	DTInt8: {
		name: "int8", size: 1,
		fromLibrary: func(v float32) float64 { return float64(int8(uint8(v))) },
		decode:      func(b []byte) float64 { return float64(int8(b[0])) },
		encode:      func(b []byte, v float64) { b[0] = byte(int8(v)) },
	},
	DTUint16: {
		name: "uint16", size: 2,
		fromLibrary: func(v float32) float64 { return float64(v) },
		decode:      func(b []byte) float64 { return float64(le.Uint16(b)) },
		encode:      func(b []byte, v float64) { le.PutUint16(b, uint16(v)) },
	},
	DTInt16: {
		name: "int16", size: 2,
		fromLibrary: func(v float32) float64 { return float64(int16(uint16(v))) },
		decode:      func(b []byte) float64 { return float64(int16(le.Uint16(b))) },
		encode:      func(b []byte, v float64) { le.PutUint16(b, uint16(int16(v))) },
	},
	DTFloat32: {
		name: "float32", size: 4,
		fromLibrary: func(v float32) float64 { return float64(v) },
		decode:      func(b []byte) float64 { return float64(math.Float32frombits(le.Uint32(b))) },
		encode:      func(b []byte, v float64) { le.PutUint32(b, math.Float32bits(float32(v))) },
	},
	DTInt32: {
		name: "int32", size: 4,
		decode: func(b []byte) float64 { return float64(int32(le.Uint32(b))) },
		encode: func(b []byte, v float64) { le.PutUint32(b, uint32(int32(v))) },
	},
	DTUint32: {
		name: "uint32", size: 4,
		decode: func(b []byte) float64 { return float64(le.Uint32(b)) },
		encode: func(b []byte, v float64) { le.PutUint32(b, uint32(v)) },
	},
	DTFloat64: {
		name: "float64", size: 8,
		decode: func(b []byte) float64 { return math.Float64frombits(le.Uint64(b)) },
		encode: func(b []byte, v float64) { le.PutUint64(b, math.Float64bits(v)) },
	},
	DTInt64: {
		name: "int64", size: 8,
		decode: func(b []byte) float64 { return float64(int64(le.Uint64(b))) },
		encode: func(b []byte, v float64) { le.PutUint64(b, uint64(int64(v))) },
	},
	DTUint64: {
		name: "uint64", size: 8,
		decode: func(b []byte) float64 { return float64(le.Uint64(b)) },
		encode: func(b []byte, v float64) { le.PutUint64(b, uint64(v)) },
	},
}

// Header is a NIfTI-1 header as read by the nifti library.
type Header struct {
	nifti.Nifti1Header
}

// ReadHeader reads the header of a .nii or .nii.gz file.
func ReadHeader(path string) (Header, error) {
	if _, err := os.Stat(path); err != nil {
		return Header{}, err
	}
	raw, err := safelyLoadHeader(path)
	if err != nil {
		return Header{}, err
	}
	h := Header{raw}
	if err := h.validate(); err != nil {
		return Header{}, err
	}
	return h, nil
}

// safelyLoadHeader turns panics raised by the nifti library into errors.
func safelyLoadHeader(path string) (hdr nifti.Nifti1Header, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("parse nifti header: %v", r)
		}
	}()
	hdr.LoadHeader(path)
	return hdr, nil
}

func (h Header) validate() error {
	switch {
	case h.SizeofHdr == headerSize:
	case bits.ReverseBytes32(uint32(h.SizeofHdr)) == headerSize:
		return errors.New("big-endian NIfTI files are not supported")
	default:
		return fmt.Errorf("not a NIfTI-1 file: sizeof_hdr is %d, want %d", h.SizeofHdr, headerSize)
	}
	if m := string(h.Magic[:3]); m != "n+1" && m != "ni1" {
		return fmt.Errorf("bad NIfTI magic %q", m)
	}
	return nil
}

// Description returns the descrip field without trailing NULs.
func (h Header) Description() string {
	return strings.TrimRight(string(h.Descrip[:]), "\x00 ")
}

// DatatypeName returns the name of the sample type.
func (h Header) DatatypeName() string {
	if st, ok := sampleTypes[h.Datatype]; ok {
		return st.name
	}
	return fmt.Sprintf("unsupported (%d)", h.Datatype)
}

func (h Header) sampleType() (sampleType, error) {
	st, ok := sampleTypes[h.Datatype]
	if !ok {
		return sampleType{}, fmt.Errorf("unsupported NIfTI datatype %d", h.Datatype)
	}
	if int(h.Bitpix) != 8*st.size {
		return sampleType{}, fmt.Errorf("bitpix %d does not match datatype %s", h.Bitpix, st.name)
	}
	return st, nil
}

// Scaling returns scl_slope and scl_inter. ok is false when the header
// leaves samples unscaled.
func (h Header) Scaling() (slope, inter float64, ok bool) {
	slope, inter = float64(h.SclSlope), float64(h.SclInter)
	if slope == 0 || math.IsNaN(slope) || math.IsInf(slope, 0) {
		return 1, 0, false
	}
	if math.IsNaN(inter) || math.IsInf(inter, 0) {
		inter = 0
	}
	if slope == 1 && inter == 0 {
		return 1, 0, false
	}
	return slope, inter, true
}

// Dims returns (nx, ny, nz, nt). Volumes with more than four dimensions
// are rejected.
func (h Header) Dims() ([4]int, error) {
	rank := int(h.Dim[0])
	if rank < 1 || rank > 7 {
		return [4]int{}, fmt.Errorf("dim[0] is %d, want 1..7", rank)
	}
	dims := [4]int{1, 1, 1, 1}
	for n := 1; n <= rank; n++ {
		d := int(h.Dim[n])
		if d <= 0 {
			return [4]int{}, fmt.Errorf("dimension %d is %d", n-1, d)
		}
		if n > 4 {
			if d > 1 {
				return [4]int{}, fmt.Errorf("%dD volumes are not supported", rank)
			}
			continue
		}
		dims[n-1] = d
	}
	return dims, nil
}

// Affine returns the voxel-to-world transform in RAS, preferring the sform,
// then the qform, then the pixdim scaling.
func (h Header) Affine() geometry.Affine {
	switch {
	case h.SformCode > 0:
		var a geometry.Affine
		for c := 0; c < 4; c++ {
			a[0][c] = float64(h.SrowX[c])
			a[1][c] = float64(h.SrowY[c])
			a[2][c] = float64(h.SrowZ[c])
		}
		a[3][3] = 1
		return a
	case h.QformCode > 0:
		return h.qformAffine()
	default:
		return geometry.DiagonalAffine(h.spacing(), [3]float64{})
	}
}

func (h Header) spacing() [3]float64 {
	var s [3]float64
	for n := 0; n < 3; n++ {
		s[n] = math.Abs(float64(h.Pixdim[n+1]))
		if s[n] == 0 {
			s[n] = 1
		}
	}
	return s
}

func (h Header) qformAffine() geometry.Affine {
	b, c, d := float64(h.QuaternB), float64(h.QuaternC), float64(h.QuaternD)
	a := 1 - (b*b + c*c + d*d)
	if a < 1e-7 {
		// 180 degree rotation: renormalize (b, c, d)
		n := 1 / math.Sqrt(b*b+c*c+d*d)
		b, c, d, a = b*n, c*n, d*n, 0
	} else {
		a = math.Sqrt(a)
	}

	r := [3][3]float64{
		{a*a + b*b - c*c - d*d, 2 * (b*c - a*d), 2 * (b*d + a*c)},
		{2 * (b*c + a*d), a*a + c*c - b*b - d*d, 2 * (c*d - a*b)},
		{2 * (b*d - a*c), 2 * (c*d + a*b), a*a + d*d - c*c - b*b},
	}

	s := h.spacing()
	if h.Pixdim[0] < 0 {
		s[2] = -s[2]
	}
	var m geometry.Affine
	for row := 0; row < 3; row++ {
		for col := 0; col < 3; col++ {
			m[row][col] = r[row][col] * s[col]
		}
	}
	m[0][3], m[1][3], m[2][3] = float64(h.QoffsetX), float64(h.QoffsetY), float64(h.QoffsetZ)
	m[3][3] = 1
	return m
}

// Encoding selects how WriteFile stores samples.
type Encoding struct {
	Datatype int16 // default DTFloat32
	// SclSlope of 0 leaves samples unscaled.
	SclSlope float32
	SclInter float32
}

// WriteFile writes a single-file NIfTI-1 volume with the given RAS affine
// as sform, gzip-compressed when path ends in .gz.
func WriteFile(path string, dims [4]int, data []float64, affine geometry.Affine, enc Encoding) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	var w io.Writer = f
	var zw *gzip.Writer
	if strings.HasSuffix(path, ".gz") {
		zw = gzip.NewWriter(f)
		w = zw
	}
	err = Encode(w, dims, data, affine, enc)
	if zw != nil {
		err = errors.Join(err, zw.Close())
	}
	return errors.Join(err, f.Close())
}

// Encode writes an uncompressed NIfTI-1 stream to w. See WriteFile.
func Encode(w io.Writer, dims [4]int, data []float64, affine geometry.Affine, enc Encoding) error {
	if enc.Datatype == 0 {
		enc.Datatype = DTFloat32
	}
	st, ok := sampleTypes[enc.Datatype]
	if !ok {
		return fmt.Errorf("unsupported NIfTI datatype %d", enc.Datatype)
	}
	ndim := 3
	if dims[3] > 1 {
		ndim = 4
	} else {
		dims[3] = 1
	}
	if len(data) != dims[0]*dims[1]*dims[2]*dims[3] {
		return fmt.Errorf("expected %d samples, got %d", dims[0]*dims[1]*dims[2]*dims[3], len(data))
	}

	h := nifti.Nifti1Header{
		SizeofHdr: headerSize,
		Datatype:  enc.Datatype,
		Bitpix:    int16(8 * st.size),
		VoxOffset: voxOffset,
		SclSlope:  enc.SclSlope,
		SclInter:  enc.SclInter,
		SformCode: 1,
		Magic:     [4]byte{'n', '+', '1', 0},
	}
	h.Dim[0] = int16(ndim)
	h.Pixdim[0] = 1
	for n := 0; n < 4; n++ {
		h.Dim[n+1] = int16(dims[n])
		h.Pixdim[n+1] = 1
	}
	for n := 0; n < 3; n++ {
		h.Pixdim[n+1] = float32(r3.Norm(affine.Column(n)))
	}
	for c := 0; c < 4; c++ {
		h.SrowX[c] = float32(affine[0][c])
		h.SrowY[c] = float32(affine[1][c])
		h.SrowZ[c] = float32(affine[2][c])
	}

	if err := binary.Write(w, binary.LittleEndian, &h); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	// empty extension block up to vox_offset
	if _, err := w.Write([]byte{0, 0, 0, 0}); err != nil {
		return err
	}
	buf := make([]byte, len(data)*st.size)
	for i, v := range data {
		st.encode(buf[i*st.size:], v)
	}
	_, err := w.Write(buf)
	return err
}
