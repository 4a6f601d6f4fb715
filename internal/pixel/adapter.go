package pixel

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/Onset-lab/nii2dcm/internal/volume"
)

// PixelRangeWarning reports samples that did not fit the output format and
// were clamped. One warning covers a whole slice.
type PixelRangeWarning struct {
	Slice   int
	Clamped int
	Low     int64
	High    int64
}

func (w *PixelRangeWarning) Error() string {
	return fmt.Sprintf("slice %d: %d samples outside [%d, %d] were clamped", w.Slice, w.Clamped, w.Low, w.High)
}

// Slice is one extracted image plane. Data is row-major: row r holds voxels
// j=r, and column c holds voxels i=c.
type Slice struct {
	Index   int
	Rows    int
	Columns int
	Format  Format
	Data    []byte
	// Min and Max are the smallest and largest stored values written.
	Min int64
	Max int64
}

// Value decodes the stored value at row r, column c.
func (s Slice) Value(r, c int) int64 {
	n := r*s.Columns + c
	if s.Format.BitsAllocated == 8 {
		if s.Format.Signed {
			return int64(int8(s.Data[n]))
		}
		return int64(s.Data[n])
	}
	u := binary.LittleEndian.Uint16(s.Data[2*n:])
	if s.Format.Signed {
		return int64(int16(u))
	}
	return int64(u)
}

// Adapter extracts slices of one time point with a fixed format and rescale.
type Adapter struct {
	Format  Format
	Rescale Rescale
	Frame   int
}

// Extract converts slice k of v. Out-of-range samples are clamped and
// reported through the returned warning, which is nil when none were.
func (a Adapter) Extract(v *volume.Volume, k int) (Slice, *PixelRangeWarning, error) {
	dims := v.Dims()
	if k < 0 || k >= dims[2] {
		return Slice{}, nil, fmt.Errorf("slice index %d out of range [0, %d)", k, dims[2])
	}
	if a.Frame < 0 || a.Frame >= v.Frames() {
		return Slice{}, nil, fmt.Errorf("frame %d out of range [0, %d)", a.Frame, v.Frames())
	}
	if err := a.Rescale.Validate(); err != nil {
		return Slice{}, nil, err
	}
	bps := a.Format.BytesPerSample()
	if bps != 1 && bps != 2 {
		return Slice{}, nil, fmt.Errorf("unsupported pixel format %s", a.Format)
	}

	lo, hi := a.Format.Range()
	out := Slice{
		Index:   k,
		Rows:    dims[1],
		Columns: dims[0],
		Format:  a.Format,
		Data:    make([]byte, dims[0]*dims[1]*bps),
		Min:     hi,
		Max:     lo,
	}

	clamped := 0
	for j := 0; j < dims[1]; j++ {
		for i := 0; i < dims[0]; i++ {
			stored := math.Round(a.Rescale.Stored(v.At(i, j, k, a.Frame)))
			var s int64
			switch {
			case math.IsNaN(stored):
				s = max(lo, min(hi, 0))
				clamped++
			case stored < float64(lo):
				s = lo
				clamped++
			case stored > float64(hi):
				s = hi
				clamped++
			default:
				s = int64(stored)
			}
			out.Min = min(out.Min, s)
			out.Max = max(out.Max, s)

			n := j*dims[0] + i
			if bps == 1 {
				out.Data[n] = byte(s)
			} else {
				binary.LittleEndian.PutUint16(out.Data[2*n:], uint16(s))
			}
		}
	}

	if clamped == 0 {
		return out, nil, nil
	}
	return out, &PixelRangeWarning{Slice: k, Clamped: clamped, Low: lo, High: hi}, nil
}
