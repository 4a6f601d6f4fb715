package geometry

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

const tol = 1e-6

func rotationZ(theta float64, spacing [3]float64, origin [3]float64) Affine {
	c, s := math.Cos(theta), math.Sin(theta)
	a := Affine{
		{c * spacing[0], -s * spacing[1], 0, origin[0]},
		{s * spacing[0], c * spacing[1], 0, origin[1]},
		{0, 0, spacing[2], origin[2]},
		{0, 0, 0, 1},
	}
	return a
}

func assertVec(t *testing.T, want, got r3.Vec) {
	t.Helper()
	assert.InDelta(t, want.X, got.X, tol, "X")
	assert.InDelta(t, want.Y, got.Y, tol, "Y")
	assert.InDelta(t, want.Z, got.Z, tol, "Z")
}

func TestDecomposeDiagonalRAS(t *testing.T) {
	a := DiagonalAffine([3]float64{0.5, 0.75, 2}, [3]float64{10, -20, 30})

	d, err := Decompose(a, RAS)
	require.NoError(t, err)

	assert.Equal(t, [3]float64{0.5, 0.75, 2}, d.Spacing)
	assertVec(t, r3.Vec{X: -1}, d.Row)
	assertVec(t, r3.Vec{Y: -1}, d.Column)
	assertVec(t, r3.Vec{Z: 1}, d.Slice)
	assertVec(t, r3.Vec{X: -10, Y: 20, Z: 30}, d.Origin)
	assert.False(t, d.Oblique)
}

func TestDecomposeLPSIsUnchanged(t *testing.T) {
	a := DiagonalAffine([3]float64{1, 1, 1}, [3]float64{1, 2, 3})

	d, err := Decompose(a, LPS)
	require.NoError(t, err)

	assertVec(t, r3.Vec{X: 1}, d.Row)
	assertVec(t, r3.Vec{Y: 1}, d.Column)
	assertVec(t, r3.Vec{X: 1, Y: 2, Z: 3}, d.Origin)
}

func TestDecomposeUnitDirections(t *testing.T) {
	tests := []struct {
		name   string
		affine Affine
	}{
		{"anisotropic", DiagonalAffine([3]float64{0.3, 4, 9.5}, [3]float64{})},
		{"rotated 30deg", rotationZ(math.Pi/6, [3]float64{1.2, 0.8, 3}, [3]float64{5, 5, 5})},
		{"rotated 137deg", rotationZ(2.39, [3]float64{2, 2, 2}, [3]float64{-1, 0, 1})},
		{"flipped k", DiagonalAffine([3]float64{1, 1, -2.5}, [3]float64{0, 0, 100})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := Decompose(tt.affine, RAS)
			require.NoError(t, err)
			for _, v := range []r3.Vec{d.Row, d.Column, d.Slice} {
				assert.InDelta(t, 1, r3.Norm(v), tol)
			}
			assert.False(t, d.Oblique)
		})
	}
}

func TestDecomposeRoundTrip(t *testing.T) {
	affines := []Affine{
		DiagonalAffine([3]float64{1, 1, 2}, [3]float64{}),
		rotationZ(0.7, [3]float64{0.9, 1.1, 4}, [3]float64{-90, 126, -72}),
		{
			{1, 0.2, 0, 3},
			{0, 1, 0.1, 4},
			{0, 0, 2, 5},
			{0, 0, 0, 1},
		},
	}

	for _, conv := range Conventions() {
		for _, a := range affines {
			d, err := Decompose(a, conv)
			require.NoError(t, err)
			back, err := d.Affine(conv)
			require.NoError(t, err)
			assert.True(t, a.Equal(back, tol), "convention %s: %v != %v", conv, a, back)
		}
	}
}

func TestDecomposeDegenerate(t *testing.T) {
	tests := []struct {
		name   string
		affine Affine
	}{
		{"zero spacing", DiagonalAffine([3]float64{1, 0, 1}, [3]float64{})},
		{"collinear axes", Affine{
			{1, 2, 0, 0},
			{1, 2, 0, 0},
			{0, 0, 1, 0},
			{0, 0, 0, 1},
		}},
		{"zero matrix", Affine{{0, 0, 0, 0}, {0, 0, 0, 0}, {0, 0, 0, 0}, {0, 0, 0, 1}}},
		{"projective row", Affine{{1, 0, 0, 0}, {0, 1, 0, 0}, {0, 0, 1, 0}, {0, 0, 1, 1}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decompose(tt.affine, RAS)
			require.Error(t, err)
			var geomErr *InvalidGeometryError
			assert.True(t, errors.As(err, &geomErr), "expected InvalidGeometryError, got %T", err)
		})
	}
}

func TestDecomposeShearIsOblique(t *testing.T) {
	a := Affine{
		{1, 0, 0.5, 0},
		{0, 1, 0, 0},
		{0, 0, 1, 0},
		{0, 0, 0, 1},
	}

	d, err := Decompose(a, RAS)
	require.NoError(t, err)
	assert.True(t, d.Oblique)
	assert.InDelta(t, math.Sqrt(1.25), d.Spacing[2], tol)
}

func TestParseConvention(t *testing.T) {
	c, err := ParseConvention(" ras ")
	require.NoError(t, err)
	assert.Equal(t, RAS, c)

	_, err = ParseConvention("RSA")
	assert.Error(t, err)
}
