package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"

	"github.com/Onset-lab/nii2dcm/internal/geometry"
	"github.com/Onset-lab/nii2dcm/internal/volume"
)

// inspectTags are printed for DICOM files, in order.
var inspectTags = []tag.Tag{
	tag.Modality,
	tag.SOPClassUID,
	tag.SOPInstanceUID,
	tag.StudyInstanceUID,
	tag.SeriesInstanceUID,
	tag.SeriesNumber,
	tag.InstanceNumber,
	tag.PatientName,
	tag.PatientID,
	tag.Rows,
	tag.Columns,
	tag.BitsAllocated,
	tag.BitsStored,
	tag.PixelRepresentation,
	tag.PixelSpacing,
	tag.SliceThickness,
	tag.ImagePositionPatient,
	tag.ImageOrientationPatient,
	tag.SliceLocation,
	tag.RescaleSlope,
	tag.RescaleIntercept,
	tag.WindowCenter,
	tag.WindowWidth,
	tag.ImageComments,
}

func newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <file>",
		Short: "Print the geometry of a NIfTI volume or a DICOM file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			if strings.HasSuffix(path, ".nii") || strings.HasSuffix(path, ".nii.gz") {
				return inspectNifti(cmd.OutOrStdout(), path)
			}
			return inspectDICOM(cmd.OutOrStdout(), path)
		},
	}
}

func inspectNifti(out io.Writer, path string) error {
	hdr, err := volume.ReadHeader(path)
	if err != nil {
		return &volume.VolumeLoadError{Path: path, Err: err}
	}

	source := "pixdim"
	switch {
	case hdr.SformCode > 0:
		source = fmt.Sprintf("sform (code %d)", hdr.SformCode)
	case hdr.QformCode > 0:
		source = fmt.Sprintf("qform (code %d)", hdr.QformCode)
	}

	fmt.Fprintf(out, "File:        %s\n", path)
	rank := min(max(int(hdr.Dim[0]), 1), 7)
	fmt.Fprintf(out, "Dimensions:  %v\n", hdr.Dim[1:rank+1])
	fmt.Fprintf(out, "Datatype:    %s (%d bits)\n", hdr.DatatypeName(), hdr.Bitpix)
	if slope, inter, ok := hdr.Scaling(); ok {
		fmt.Fprintf(out, "Scaling:     value * %g + %g\n", slope, inter)
	}
	if d := hdr.Description(); d != "" {
		fmt.Fprintf(out, "Description: %s\n", d)
	}
	fmt.Fprintf(out, "Affine from: %s\n", source)

	d, err := geometry.Decompose(hdr.Affine(), geometry.RAS)
	if err != nil {
		fmt.Fprintf(out, "Geometry:    %v\n", err)
		return nil
	}
	fmt.Fprintf(out, "Spacing:     %g x %g x %g\n", d.Spacing[0], d.Spacing[1], d.Spacing[2])
	fmt.Fprintf(out, "Origin LPS:  %.3f %.3f %.3f\n", d.Origin.X, d.Origin.Y, d.Origin.Z)
	fmt.Fprintf(out, "Orientation: %.4f\n", d.Plane(0).Orientation())
	fmt.Fprintf(out, "Oblique:     %t\n", d.Oblique)
	return nil
}

func inspectDICOM(out io.Writer, path string) error {
	ds, err := dicom.ParseFile(path, nil, dicom.SkipPixelData())
	if err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	fmt.Fprintf(out, "File: %s\n", path)
	for _, t := range inspectTags {
		elem, err := ds.FindElementByTag(t)
		if err != nil {
			continue
		}
		name := t.String()
		if info, err := tag.Find(t); err == nil {
			name = info.Name
		}
		fmt.Fprintf(out, "  %-24s %s\n", name, strings.Trim(elem.Value.String(), " []\x00"))
	}
	return nil
}
