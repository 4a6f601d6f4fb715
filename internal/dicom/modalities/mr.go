package modalities

// MRGenerator describes MR Image Storage output.
type MRGenerator struct{}

// Modality returns the MR modality type.
func (g *MRGenerator) Modality() Modality {
	return MR
}

// DICOMModality returns "MR".
func (g *MRGenerator) DICOMModality() string {
	return "MR"
}

// SOPClassUID returns the MR Image Storage SOP Class UID.
func (g *MRGenerator) SOPClassUID() string {
	return "1.2.840.10008.5.1.4.1.1.4"
}

// PixelConfig returns MR pixel data configuration.
func (g *MRGenerator) PixelConfig() PixelConfig {
	return PixelConfig{BitsStored: 16, RescaleSlope: 1}
}

// Template returns the MR Image module fields.
func (g *MRGenerator) Template() Template {
	return Template{
		Name: "MR",
		Fields: []Field{
			required("PatientPosition", "HFS"),
			required("ScanningSequence", "RM"),
			required("SequenceVariant", "NONE"),
			required("ScanOptions"),
			required("MRAcquisitionType", "3D"),
			required("RepetitionTime"),
			required("EchoTime"),
			required("EchoTrainLength"),
			optional("SequenceName"),
			optional("MagneticFieldStrength"),
			optional("ImagingFrequency"),
			optional("FlipAngle"),
			optional("ReceiveCoilName"),
			optional("PresentationLUTShape", "IDENTITY"),
		},
	}
}

// WindowPresets returns MR window presets.
func (g *MRGenerator) WindowPresets() []WindowPreset {
	return []WindowPreset{
		{Name: "DEFAULT", Center: 500, Width: 1000},
		{Name: "BRIGHT", Center: 300, Width: 600},
		{Name: "CONTRAST", Center: 600, Width: 1200},
	}
}
