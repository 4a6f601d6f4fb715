// Package pixel converts volume slices into DICOM native pixel buffers.
package pixel

import (
	"fmt"
	"math"
)

// Format describes the stored pixel representation of a series.
type Format struct {
	BitsAllocated uint16
	BitsStored    uint16
	Signed        bool
}

// NewFormat returns the format for a stored bit depth of 1..16. Depths up to
// 8 are allocated in one byte, the rest in two.
func NewFormat(bitsStored int, signed bool) (Format, error) {
	if bitsStored < 1 || bitsStored > 16 {
		return Format{}, fmt.Errorf("output bit depth must be between 1 and 16, got %d", bitsStored)
	}
	if signed && bitsStored < 2 {
		return Format{}, fmt.Errorf("signed output needs at least 2 bits, got %d", bitsStored)
	}
	allocated := uint16(16)
	if bitsStored <= 8 {
		allocated = 8
	}
	return Format{BitsAllocated: allocated, BitsStored: uint16(bitsStored), Signed: signed}, nil
}

// HighBit is the most significant stored bit.
func (f Format) HighBit() uint16 { return f.BitsStored - 1 }

// PixelRepresentation is 1 for two's complement samples, 0 otherwise.
func (f Format) PixelRepresentation() uint16 {
	if f.Signed {
		return 1
	}
	return 0
}

// BytesPerSample is the allocated size of one sample.
func (f Format) BytesPerSample() int { return int(f.BitsAllocated / 8) }

// Range returns the smallest and largest representable stored values.
func (f Format) Range() (lo, hi int64) {
	if f.Signed {
		return -(1 << (f.BitsStored - 1)), 1<<(f.BitsStored-1) - 1
	}
	return 0, 1<<f.BitsStored - 1
}

func (f Format) String() string {
	sign := "unsigned"
	if f.Signed {
		sign = "signed"
	}
	return fmt.Sprintf("%d/%d bit %s", f.BitsStored, f.BitsAllocated, sign)
}

// Rescale is the linear map from stored values to physical values,
// written as RescaleSlope and RescaleIntercept.
type Rescale struct {
	Slope     float64
	Intercept float64
}

// Identity leaves values unchanged.
var Identity = Rescale{Slope: 1}

// Validate rejects a zero or non-finite slope.
func (r Rescale) Validate() error {
	if r.Slope == 0 || math.IsNaN(r.Slope) || math.IsInf(r.Slope, 0) {
		return fmt.Errorf("rescale slope must be finite and non-zero, got %g", r.Slope)
	}
	if math.IsNaN(r.Intercept) || math.IsInf(r.Intercept, 0) {
		return fmt.Errorf("rescale intercept must be finite, got %g", r.Intercept)
	}
	return nil
}

// Stored maps a physical value to its stored value before rounding.
func (r Rescale) Stored(v float64) float64 {
	return (v - r.Intercept) / r.Slope
}

// Physical maps a stored value back to physical units.
func (r Rescale) Physical(s float64) float64 {
	return s*r.Slope + r.Intercept
}
