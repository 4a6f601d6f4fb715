package geometry

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"
)

// SlicePlane is the geometry of one output image.
type SlicePlane struct {
	Index    int
	Position r3.Vec // voxel [0,0,Index]
	Row      r3.Vec
	Column   r3.Vec
	// Location is the signed distance of Position along the plane normal.
	Location float64
}

// Plane returns the plane geometry of slice index i along the k axis.
func (d Decomposition) Plane(i int) SlicePlane {
	step := r3.Scale(float64(i)*d.Spacing[2], d.Slice)
	pos := r3.Add(d.Origin, step)
	return SlicePlane{
		Index:    i,
		Position: pos,
		Row:      d.Row,
		Column:   d.Column,
		Location: r3.Dot(pos, d.Normal()),
	}
}

// Orientation returns ImageOrientationPatient: the row cosines followed by
// the column cosines.
func (p SlicePlane) Orientation() [6]float64 {
	return [6]float64{p.Row.X, p.Row.Y, p.Row.Z, p.Column.X, p.Column.Y, p.Column.Z}
}

// PositionValues returns ImagePositionPatient.
func (p SlicePlane) PositionValues() [3]float64 {
	return [3]float64{p.Position.X, p.Position.Y, p.Position.Z}
}

func (p SlicePlane) String() string {
	return fmt.Sprintf("slice %d at (%.3f, %.3f, %.3f)", p.Index, p.Position.X, p.Position.Y, p.Position.Z)
}
