package dicom

import (
	"github.com/Onset-lab/nii2dcm/internal/dicom/modalities"
	"github.com/Onset-lab/nii2dcm/internal/geometry"
	"github.com/Onset-lab/nii2dcm/internal/pixel"
	"github.com/Onset-lab/nii2dcm/internal/util"
)

// Record is one output image: its full metadata and pixel buffer.
type Record struct {
	InstanceNumber int
	SliceIndex     int
	Plane          geometry.SlicePlane
	Fields         *modalities.Fields
	Pixels         pixel.Slice
}

// SOPInstanceUID returns the record's instance UID.
func (r *Record) SOPInstanceUID() string {
	return r.Fields.First("SOPInstanceUID")
}

// SeriesInstanceUID returns the UID of the record's series.
func (r *Record) SeriesInstanceUID() string {
	return r.Fields.First("SeriesInstanceUID")
}

// newRecord merges the series fields with the geometry of one slice and
// assigns the next instance number.
func newRecord(ctx *SeriesContext, plane geometry.SlicePlane, px pixel.Slice) *Record {
	instance := ctx.NextInstanceNumber()
	iop := plane.Orientation()
	ipp := plane.PositionValues()

	f := ctx.Fields.Clone()
	f.Set("SOPInstanceUID", ctx.InstanceUID(instance))
	f.Set("InstanceNumber", util.FormatIS(instance))
	f.Set("ImagePositionPatient", util.FormatDSList(ipp[:]...)...)
	f.Set("ImageOrientationPatient", util.FormatDSList(iop[:]...)...)
	f.Set("SliceLocation", util.FormatDS(plane.Location))

	return &Record{
		InstanceNumber: instance,
		SliceIndex:     plane.Index,
		Plane:          plane,
		Fields:         f,
		Pixels:         px,
	}
}
