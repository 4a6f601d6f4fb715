package modalities

// CTGenerator describes CT Image Storage output. Samples are expected in
// Hounsfield units.
type CTGenerator struct{}

// Modality returns the CT modality type.
func (g *CTGenerator) Modality() Modality {
	return CT
}

// DICOMModality returns "CT".
func (g *CTGenerator) DICOMModality() string {
	return "CT"
}

// SOPClassUID returns the CT Image Storage SOP Class UID.
func (g *CTGenerator) SOPClassUID() string {
	return "1.2.840.10008.5.1.4.1.1.2"
}

// PixelConfig returns CT pixel data configuration: signed 16 bit storing
// HU directly.
func (g *CTGenerator) PixelConfig() PixelConfig {
	return PixelConfig{BitsStored: 16, Signed: true, RescaleSlope: 1}
}

// Template returns the CT Image module fields.
func (g *CTGenerator) Template() Template {
	return Template{
		Name: "CT",
		Fields: []Field{
			required("ImageType", "DERIVED", "SECONDARY", "AXIAL"),
			required("PatientPosition", "HFS"),
			required("KVP"),
			required("AcquisitionNumber", "1"),
			required("RescaleType", "HU"),
			optional("ConvolutionKernel"),
			optional("GantryDetectorTilt", "0"),
			optional("XRayTubeCurrent"),
		},
	}
}

// WindowPresets returns CT window presets.
func (g *CTGenerator) WindowPresets() []WindowPreset {
	return []WindowPreset{
		{Name: "BRAIN", Center: 40, Width: 80},
		{Name: "SUBDURAL", Center: 75, Width: 215},
		{Name: "BONE", Center: 400, Width: 2000},
		{Name: "LUNG", Center: -600, Width: 1500},
		{Name: "MEDIASTINUM", Center: 40, Width: 400},
		{Name: "ABDOMEN", Center: 40, Width: 350},
		{Name: "LIVER", Center: 60, Width: 150},
	}
}
