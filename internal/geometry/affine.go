// Package geometry turns voxel-to-world affines into the image plane
// attributes a DICOM series carries: direction cosines, pixel spacing,
// slice spacing and per-slice patient positions.
//
// All decompositions are expressed in the patient coordinate system used by
// DICOM (LPS). Source volumes declare their own convention and are converted
// through a per-axis sign table.
package geometry

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

const (
	// DeterminantTolerance is the smallest accepted |det| of the linear part,
	// relative to the product of the axis spacings.
	DeterminantTolerance = 1e-9
	// OrthogonalityTolerance bounds |cos| between two axes before the
	// geometry is reported as oblique.
	OrthogonalityTolerance = 1e-4
	// minSpacing is the smallest axis length treated as non-zero.
	minSpacing = 1e-12
)

// Convention names a physical coordinate convention by the direction each
// positive axis points to.
type Convention string

const (
	// RAS is used by NIfTI: +X right, +Y anterior, +Z superior.
	RAS Convention = "RAS"
	// LAS is the radiological variant used by some Analyze-era tools.
	LAS Convention = "LAS"
	// LPS is the DICOM patient coordinate system.
	LPS Convention = "LPS"
)

// conventionSigns maps each convention to the per-axis sign that takes its
// coordinates into LPS.
var conventionSigns = map[Convention][3]float64{
	RAS: {-1, -1, 1},
	LAS: {1, -1, 1},
	LPS: {1, 1, 1},
}

// Conventions returns the supported conventions.
func Conventions() []Convention {
	return []Convention{RAS, LAS, LPS}
}

// ParseConvention returns the Convention for s, ignoring case.
func ParseConvention(s string) (Convention, error) {
	c := Convention(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := conventionSigns[c]; !ok {
		return "", fmt.Errorf("unknown coordinate convention %q, valid options: %v", s, Conventions())
	}
	return c, nil
}

// Signs returns the sign applied to each axis when converting c to LPS.
func (c Convention) Signs() ([3]float64, error) {
	s, ok := conventionSigns[c]
	if !ok {
		return [3]float64{}, fmt.Errorf("unknown coordinate convention %q", string(c))
	}
	return s, nil
}

// Affine maps voxel indices (i, j, k, 1) to physical coordinates.
// Rows are physical axes, columns are voxel axes plus the translation.
type Affine [4][4]float64

// DiagonalAffine returns an axis-aligned affine with the given voxel sizes
// and origin.
func DiagonalAffine(spacing [3]float64, origin [3]float64) Affine {
	var a Affine
	for i := 0; i < 3; i++ {
		a[i][i] = spacing[i]
		a[i][3] = origin[i]
	}
	a[3][3] = 1
	return a
}

// Column returns voxel axis n (0..2) of the linear part.
func (a Affine) Column(n int) r3.Vec {
	return r3.Vec{X: a[0][n], Y: a[1][n], Z: a[2][n]}
}

// Translation returns the physical position of voxel (0,0,0).
func (a Affine) Translation() r3.Vec {
	return r3.Vec{X: a[0][3], Y: a[1][3], Z: a[2][3]}
}

// linear returns the 3x3 linear part as a gonum matrix.
func (a Affine) linear() *mat.Dense {
	data := make([]float64, 0, 9)
	for r := 0; r < 3; r++ {
		data = append(data, a[r][0], a[r][1], a[r][2])
	}
	return mat.NewDense(3, 3, data)
}

// Equal reports whether a and b agree within tol in every element.
func (a Affine) Equal(b Affine, tol float64) bool {
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			if math.Abs(a[r][c]-b[r][c]) > tol {
				return false
			}
		}
	}
	return true
}

// InvalidGeometryError reports an affine that cannot describe a slice series.
type InvalidGeometryError struct {
	Reason string
}

func (e *InvalidGeometryError) Error() string {
	return "invalid geometry: " + e.Reason
}

// Decomposition is an affine split into unit direction vectors, spacings and
// an origin, all in LPS.
type Decomposition struct {
	// Row is the direction of increasing i (along a DICOM row).
	Row r3.Vec
	// Column is the direction of increasing j (down a DICOM column).
	Column r3.Vec
	// Slice is the direction of increasing k.
	Slice r3.Vec
	// Spacing holds the length of the i, j and k voxel axes in mm.
	Spacing [3]float64
	// Origin is the position of voxel (0,0,0).
	Origin r3.Vec
	// Oblique is set when the voxel axes are not mutually orthogonal.
	// The axes are used as decomposed, without shear correction.
	Oblique bool
}

// Decompose splits a into a Decomposition, converting from the source
// convention to LPS.
func Decompose(a Affine, from Convention) (Decomposition, error) {
	signs, err := from.Signs()
	if err != nil {
		return Decomposition{}, err
	}
	if a[3][0] != 0 || a[3][1] != 0 || a[3][2] != 0 || a[3][3] != 1 {
		return Decomposition{}, &InvalidGeometryError{
			Reason: fmt.Sprintf("last affine row must be [0 0 0 1], got %v", a[3]),
		}
	}

	var d Decomposition
	var axes [3]r3.Vec
	for n := 0; n < 3; n++ {
		col := a.Column(n)
		spacing := r3.Norm(col)
		if spacing < minSpacing || math.IsNaN(spacing) || math.IsInf(spacing, 0) {
			return Decomposition{}, &InvalidGeometryError{
				Reason: fmt.Sprintf("voxel axis %d has spacing %g", n, spacing),
			}
		}
		d.Spacing[n] = spacing
		axes[n] = toLPS(r3.Scale(1/spacing, col), signs)
	}

	det := mat.Det(a.linear())
	if math.Abs(det) <= DeterminantTolerance*d.Spacing[0]*d.Spacing[1]*d.Spacing[2] {
		return Decomposition{}, &InvalidGeometryError{
			Reason: fmt.Sprintf("affine is singular (determinant %g)", det),
		}
	}

	d.Row, d.Column, d.Slice = axes[0], axes[1], axes[2]
	d.Origin = toLPS(a.Translation(), signs)
	d.Oblique = !orthogonal(d.Row, d.Column) || !orthogonal(d.Row, d.Slice) || !orthogonal(d.Column, d.Slice)
	return d, nil
}

// Affine rebuilds the voxel-to-world affine in the given convention.
func (d Decomposition) Affine(to Convention) (Affine, error) {
	signs, err := to.Signs()
	if err != nil {
		return Affine{}, err
	}
	var a Affine
	for n, axis := range [3]r3.Vec{d.Row, d.Column, d.Slice} {
		// the sign table is its own inverse
		col := toLPS(r3.Scale(d.Spacing[n], axis), signs)
		a[0][n], a[1][n], a[2][n] = col.X, col.Y, col.Z
	}
	o := toLPS(d.Origin, signs)
	a[0][3], a[1][3], a[2][3] = o.X, o.Y, o.Z
	a[3][3] = 1
	return a, nil
}

// Normal returns the unit normal of the image plane (Row x Column).
func (d Decomposition) Normal() r3.Vec {
	return r3.Unit(r3.Cross(d.Row, d.Column))
}

func toLPS(v r3.Vec, signs [3]float64) r3.Vec {
	return r3.Vec{X: v.X * signs[0], Y: v.Y * signs[1], Z: v.Z * signs[2]}
}

func orthogonal(a, b r3.Vec) bool {
	return math.Abs(r3.Dot(a, b)) <= OrthogonalityTolerance
}
