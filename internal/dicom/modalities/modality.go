// Package modalities provides the metadata templates of the supported output
// modalities and resolves them into the field set of a series.
package modalities

import (
	"fmt"
	"strings"
)

// Modality represents a requested output modality.
type Modality string

const (
	MR Modality = "MR" // Magnetic Resonance
	CT Modality = "CT" // Computed Tomography
	SC Modality = "SC" // Secondary Capture
)

// AllModalities returns all supported modalities.
func AllModalities() []Modality {
	return []Modality{MR, CT, SC}
}

// IsValid checks if a modality string is valid.
func IsValid(m string) bool {
	for _, valid := range AllModalities() {
		if string(valid) == m {
			return true
		}
	}
	return false
}

// UnsupportedModalityError reports a modality tag with no template.
type UnsupportedModalityError struct {
	Modality  string
	Supported []Modality
}

func (e *UnsupportedModalityError) Error() string {
	return fmt.Sprintf("unsupported modality %q, valid options: %v", e.Modality, e.Supported)
}

// Parse returns the Modality for s, ignoring case and surrounding space.
func Parse(s string) (Modality, error) {
	m := strings.ToUpper(strings.TrimSpace(s))
	if !IsValid(m) {
		return "", &UnsupportedModalityError{Modality: s, Supported: AllModalities()}
	}
	return Modality(m), nil
}

// PixelConfig holds the default stored pixel format and rescale of a
// modality.
type PixelConfig struct {
	BitsStored       uint16
	Signed           bool
	RescaleSlope     float64
	RescaleIntercept float64
}

// WindowPreset represents a window/level preset.
type WindowPreset struct {
	Name   string
	Center float64
	Width  float64
}

// Generator describes one output modality.
type Generator interface {
	// Modality returns the modality type.
	Modality() Modality

	// DICOMModality is the value written to the Modality attribute.
	DICOMModality() string

	// SOPClassUID returns the storage SOP Class UID.
	SOPClassUID() string

	// PixelConfig returns the default pixel format.
	PixelConfig() PixelConfig

	// Template returns the modality's fields, layered over Baseline.
	Template() Template

	// WindowPresets returns named window presets, if any.
	WindowPresets() []WindowPreset
}

var generators = map[Modality]Generator{
	MR: &MRGenerator{},
	CT: &CTGenerator{},
	SC: &SCGenerator{},
}

// GetGenerator returns the generator for the specified modality.
func GetGenerator(m Modality) (Generator, error) {
	gen, ok := generators[m]
	if !ok {
		return nil, &UnsupportedModalityError{Modality: string(m), Supported: AllModalities()}
	}
	return gen, nil
}

// FindWindowPreset returns the named preset of gen, ignoring case.
func FindWindowPreset(gen Generator, name string) (WindowPreset, error) {
	var names []string
	for _, p := range gen.WindowPresets() {
		if strings.EqualFold(p.Name, name) {
			return p, nil
		}
		names = append(names, p.Name)
	}
	return WindowPreset{}, fmt.Errorf("unknown window preset %q for %s, valid options: %v", name, gen.Modality(), names)
}
