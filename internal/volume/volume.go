// Package volume holds the in-memory source volume and reads it from NIfTI
// files.
package volume

import (
	"fmt"
	"math"

	"github.com/Onset-lab/nii2dcm/internal/geometry"
)

// Volume is an immutable 3D or 4D sample array with its voxel-to-world
// affine. Samples are stored with i varying fastest, then j, k and t.
type Volume struct {
	dims       [4]int
	data       []float64
	affine     geometry.Affine
	convention geometry.Convention
	source     string
}

// New builds a Volume from dims (nx, ny, nz, nt) and samples in i-fastest
// order. nt of 0 is treated as 1. data is owned by the Volume afterwards.
func New(dims [4]int, data []float64, affine geometry.Affine, convention geometry.Convention) (*Volume, error) {
	if dims[3] == 0 {
		dims[3] = 1
	}
	for n, d := range dims {
		if d <= 0 {
			return nil, fmt.Errorf("dimension %d must be > 0, got %d", n, d)
		}
	}
	if want := dims[0] * dims[1] * dims[2] * dims[3]; len(data) != want {
		return nil, fmt.Errorf("volume of %dx%dx%dx%d needs %d samples, got %d",
			dims[0], dims[1], dims[2], dims[3], want, len(data))
	}
	if _, err := convention.Signs(); err != nil {
		return nil, err
	}
	return &Volume{dims: dims, data: data, affine: affine, convention: convention}, nil
}

// Dims returns the spatial extent (nx, ny, nz).
func (v *Volume) Dims() [3]int { return [3]int{v.dims[0], v.dims[1], v.dims[2]} }

// Frames returns the number of time points.
func (v *Volume) Frames() int { return v.dims[3] }

// Slices returns the number of slices along the k axis.
func (v *Volume) Slices() int { return v.dims[2] }

// Affine returns the voxel-to-world affine in the volume's convention.
func (v *Volume) Affine() geometry.Affine { return v.affine }

// Convention returns the coordinate convention of the affine.
func (v *Volume) Convention() geometry.Convention { return v.convention }

// Source returns the path the volume was read from, if any.
func (v *Volume) Source() string { return v.source }

// At returns the sample at voxel (i, j, k) of time point t.
func (v *Volume) At(i, j, k, t int) float64 {
	return v.data[i+v.dims[0]*(j+v.dims[1]*(k+v.dims[2]*t))]
}

// Range returns the smallest and largest finite sample of time point t.
// Both are 0 when the frame holds no finite sample.
func (v *Volume) Range(t int) (lo, hi float64) {
	n := v.dims[0] * v.dims[1] * v.dims[2]
	seen := false
	for _, s := range v.data[t*n : (t+1)*n] {
		if math.IsNaN(s) || math.IsInf(s, 0) {
			continue
		}
		if !seen {
			lo, hi, seen = s, s, true
			continue
		}
		lo = min(lo, s)
		hi = max(hi, s)
	}
	return lo, hi
}

// WithConvention returns a volume sharing v's samples whose affine is
// declared in convention c instead.
func (v *Volume) WithConvention(c geometry.Convention) (*Volume, error) {
	if _, err := c.Signs(); err != nil {
		return nil, err
	}
	out := *v
	out.convention = c
	return &out, nil
}
