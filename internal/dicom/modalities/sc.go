package modalities

// SCGenerator describes Secondary Capture Image Storage output, used for
// derived volumes such as parameter maps and segmentations.
type SCGenerator struct{}

// Modality returns the SC modality type.
func (g *SCGenerator) Modality() Modality {
	return SC
}

// DICOMModality returns "OT"; secondary captures have no acquiring modality.
func (g *SCGenerator) DICOMModality() string {
	return "OT"
}

// SOPClassUID returns the Secondary Capture Image Storage SOP Class UID.
func (g *SCGenerator) SOPClassUID() string {
	return "1.2.840.10008.5.1.4.1.1.7"
}

// PixelConfig returns secondary capture pixel data configuration.
func (g *SCGenerator) PixelConfig() PixelConfig {
	return PixelConfig{BitsStored: 16, RescaleSlope: 1}
}

// Template returns the SC Equipment and SC Image module fields.
func (g *SCGenerator) Template() Template {
	return Template{
		Name: "SC",
		Fields: []Field{
			required("ConversionType", "WSD"),
			optional("BurnedInAnnotation", "NO"),
		},
	}
}

// WindowPresets returns no presets.
func (g *SCGenerator) WindowPresets() []WindowPreset {
	return nil
}
