// Package util provides keyword lookup, override parsing, UID generation and
// value formatting shared by the converter packages.
package util

import (
	"fmt"
	"sort"
	"strings"

	"github.com/suyashkumar/dicom/pkg/tag"
)

// TagScope represents the DICOM hierarchy level at which a tag is consistent.
type TagScope int

const (
	// ScopePatient indicates tags shared by every series of a patient.
	ScopePatient TagScope = iota
	// ScopeStudy indicates tags shared within a study.
	ScopeStudy
	// ScopeSeries indicates tags shared within a series.
	ScopeSeries
	// ScopeImage indicates tags that vary per image.
	ScopeImage
)

// String returns the string representation of a TagScope.
func (s TagScope) String() string {
	switch s {
	case ScopePatient:
		return "Patient"
	case ScopeStudy:
		return "Study"
	case ScopeSeries:
		return "Series"
	case ScopeImage:
		return "Image"
	default:
		return "Unknown"
	}
}

// TagInfo describes a DICOM keyword known to the converter.
type TagInfo struct {
	Name  string
	Tag   tag.Tag
	Scope TagScope
	// Reserved keywords are computed from the volume and cannot be overridden.
	Reserved bool
	// VR and Creator are set for private tags, which the dictionary lacks.
	VR      string
	Creator string
}

// tagRegistry maps lowercase keywords to their TagInfo.
var tagRegistry = map[string]TagInfo{
	// Patient
	"patientname":      {Name: "PatientName", Tag: tag.PatientName, Scope: ScopePatient},
	"patientid":        {Name: "PatientID", Tag: tag.PatientID, Scope: ScopePatient},
	"patientbirthdate": {Name: "PatientBirthDate", Tag: tag.PatientBirthDate, Scope: ScopePatient},
	"patientsex":       {Name: "PatientSex", Tag: tag.PatientSex, Scope: ScopePatient},
	"patientage":       {Name: "PatientAge", Tag: tag.PatientAge, Scope: ScopePatient},
	"patientweight":    {Name: "PatientWeight", Tag: tag.PatientWeight, Scope: ScopePatient},

	// Study
	"studyinstanceuid":       {Name: "StudyInstanceUID", Tag: tag.StudyInstanceUID, Scope: ScopeStudy},
	"studyid":                {Name: "StudyID", Tag: tag.StudyID, Scope: ScopeStudy},
	"studydate":              {Name: "StudyDate", Tag: tag.StudyDate, Scope: ScopeStudy},
	"studytime":              {Name: "StudyTime", Tag: tag.StudyTime, Scope: ScopeStudy},
	"studydescription":       {Name: "StudyDescription", Tag: tag.StudyDescription, Scope: ScopeStudy},
	"accessionnumber":        {Name: "AccessionNumber", Tag: tag.AccessionNumber, Scope: ScopeStudy},
	"referringphysicianname": {Name: "ReferringPhysicianName", Tag: tag.ReferringPhysicianName, Scope: ScopeStudy},
	"institutionname":        {Name: "InstitutionName", Tag: tag.InstitutionName, Scope: ScopeStudy},
	"stationname":            {Name: "StationName", Tag: tag.StationName, Scope: ScopeStudy},
	"frameofreferenceuid":    {Name: "FrameOfReferenceUID", Tag: tag.FrameOfReferenceUID, Scope: ScopeStudy},

	// Series
	"seriesdescription":     {Name: "SeriesDescription", Tag: tag.SeriesDescription, Scope: ScopeSeries},
	"seriesnumber":          {Name: "SeriesNumber", Tag: tag.SeriesNumber, Scope: ScopeSeries, Reserved: true},
	"protocolname":          {Name: "ProtocolName", Tag: tag.ProtocolName, Scope: ScopeSeries},
	"bodypartexamined":      {Name: "BodyPartExamined", Tag: tag.BodyPartExamined, Scope: ScopeSeries},
	"patientposition":       {Name: "PatientPosition", Tag: tag.PatientPosition, Scope: ScopeSeries},
	"sequencename":          {Name: "SequenceName", Tag: tag.SequenceName, Scope: ScopeSeries},
	"manufacturer":          {Name: "Manufacturer", Tag: tag.Manufacturer, Scope: ScopeSeries},
	"manufacturermodelname": {Name: "ManufacturerModelName", Tag: tag.ManufacturerModelName, Scope: ScopeSeries},
	"softwareversions":      {Name: "SoftwareVersions", Tag: tag.SoftwareVersions, Scope: ScopeSeries},
	"imagetype":             {Name: "ImageType", Tag: tag.ImageType, Scope: ScopeSeries},
	"magneticfieldstrength": {Name: "MagneticFieldStrength", Tag: tag.MagneticFieldStrength, Scope: ScopeSeries},
	"echotime":              {Name: "EchoTime", Tag: tag.EchoTime, Scope: ScopeSeries},
	"repetitiontime":        {Name: "RepetitionTime", Tag: tag.RepetitionTime, Scope: ScopeSeries},
	"kvp":                   {Name: "KVP", Tag: tag.KVP, Scope: ScopeSeries},
	"convolutionkernel":     {Name: "ConvolutionKernel", Tag: tag.ConvolutionKernel, Scope: ScopeSeries},

	// Image
	"windowcenter":  {Name: "WindowCenter", Tag: tag.WindowCenter, Scope: ScopeImage},
	"windowwidth":   {Name: "WindowWidth", Tag: tag.WindowWidth, Scope: ScopeImage},
	"imagecomments": {Name: "ImageComments", Tag: tag.ImageComments, Scope: ScopeImage},

	// Computed by the converter
	"sopclassuid":                {Name: "SOPClassUID", Tag: tag.SOPClassUID, Scope: ScopeSeries, Reserved: true},
	"sopinstanceuid":             {Name: "SOPInstanceUID", Tag: tag.SOPInstanceUID, Scope: ScopeImage, Reserved: true},
	"seriesinstanceuid":          {Name: "SeriesInstanceUID", Tag: tag.SeriesInstanceUID, Scope: ScopeSeries, Reserved: true},
	"modality":                   {Name: "Modality", Tag: tag.Modality, Scope: ScopeSeries, Reserved: true},
	"instancenumber":             {Name: "InstanceNumber", Tag: tag.InstanceNumber, Scope: ScopeImage, Reserved: true},
	"imagepositionpatient":       {Name: "ImagePositionPatient", Tag: tag.ImagePositionPatient, Scope: ScopeImage, Reserved: true},
	"imageorientationpatient":    {Name: "ImageOrientationPatient", Tag: tag.ImageOrientationPatient, Scope: ScopeImage, Reserved: true},
	"pixelspacing":               {Name: "PixelSpacing", Tag: tag.PixelSpacing, Scope: ScopeImage, Reserved: true},
	"slicethickness":             {Name: "SliceThickness", Tag: tag.SliceThickness, Scope: ScopeImage, Reserved: true},
	"spacingbetweenslices":       {Name: "SpacingBetweenSlices", Tag: tag.SpacingBetweenSlices, Scope: ScopeImage, Reserved: true},
	"slicelocation":              {Name: "SliceLocation", Tag: tag.SliceLocation, Scope: ScopeImage, Reserved: true},
	"rows":                       {Name: "Rows", Tag: tag.Rows, Scope: ScopeImage, Reserved: true},
	"columns":                    {Name: "Columns", Tag: tag.Columns, Scope: ScopeImage, Reserved: true},
	"bitsallocated":              {Name: "BitsAllocated", Tag: tag.BitsAllocated, Scope: ScopeImage, Reserved: true},
	"bitsstored":                 {Name: "BitsStored", Tag: tag.BitsStored, Scope: ScopeImage, Reserved: true},
	"highbit":                    {Name: "HighBit", Tag: tag.HighBit, Scope: ScopeImage, Reserved: true},
	"pixelrepresentation":        {Name: "PixelRepresentation", Tag: tag.PixelRepresentation, Scope: ScopeImage, Reserved: true},
	"samplesperpixel":            {Name: "SamplesPerPixel", Tag: tag.SamplesPerPixel, Scope: ScopeImage, Reserved: true},
	"photometricinterpretation":  {Name: "PhotometricInterpretation", Tag: tag.PhotometricInterpretation, Scope: ScopeImage, Reserved: true},
	"rescaleslope":               {Name: "RescaleSlope", Tag: tag.RescaleSlope, Scope: ScopeImage, Reserved: true},
	"rescaleintercept":           {Name: "RescaleIntercept", Tag: tag.RescaleIntercept, Scope: ScopeImage, Reserved: true},
	"pixeldata":                  {Name: "PixelData", Tag: tag.PixelData, Scope: ScopeImage, Reserved: true},
	"transfersyntaxuid":          {Name: "TransferSyntaxUID", Tag: tag.TransferSyntaxUID, Scope: ScopeImage, Reserved: true},
	"mediastoragesopclassuid":    {Name: "MediaStorageSOPClassUID", Tag: tag.MediaStorageSOPClassUID, Scope: ScopeImage, Reserved: true},
	"mediastoragesopinstanceuid": {Name: "MediaStorageSOPInstanceUID", Tag: tag.MediaStorageSOPInstanceUID, Scope: ScopeImage, Reserved: true},
	"temporalpositionidentifier": {Name: "TemporalPositionIdentifier", Tag: tag.TemporalPositionIdentifier, Scope: ScopeImage, Reserved: true},
	"numberoftemporalpositions":  {Name: "NumberOfTemporalPositions", Tag: tag.NumberOfTemporalPositions, Scope: ScopeSeries, Reserved: true},
}

// GetTagByName returns TagInfo for a DICOM keyword.
// Registered keywords match case-insensitively; any other keyword of the
// standard dictionary must match exactly. Unknown keywords return an error
// suggesting the closest registered keyword (Levenshtein distance).
func GetTagByName(name string) (TagInfo, error) {
	trimmed := strings.TrimSpace(name)
	normalizedName := strings.ToLower(trimmed)

	if info, ok := tagRegistry[normalizedName]; ok {
		return info, nil
	}

	if trimmed != "" {
		if ti, err := tag.FindByName(trimmed); err == nil {
			return TagInfo{Name: trimmed, Tag: ti.Tag, Scope: ScopeImage}, nil
		}
	}

	suggestion := findClosestTagName(normalizedName)
	if suggestion != "" {
		return TagInfo{}, fmt.Errorf("unknown tag %q, did you mean %q?", name, suggestion)
	}

	return TagInfo{}, fmt.Errorf("unknown tag %q", name)
}

// OverridableTags returns the registered keywords callers may override,
// sorted by scope then name.
func OverridableTags() []TagInfo {
	var out []TagInfo
	for _, info := range tagRegistry {
		if !info.Reserved {
			out = append(out, info)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Scope != out[j].Scope {
			return out[i].Scope < out[j].Scope
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// findClosestTagName finds the closest registered keyword.
// Returns empty string if no close match is found (distance > 5).
func findClosestTagName(input string) string {
	const maxDistance = 5
	bestDistance := maxDistance + 1
	var bestMatch string

	for key, info := range tagRegistry {
		distance := levenshteinDistance(input, key)
		if distance < bestDistance || (distance == bestDistance && info.Name < bestMatch) {
			bestDistance = distance
			bestMatch = info.Name
		}
	}

	if bestDistance <= maxDistance {
		return bestMatch
	}
	return ""
}

// levenshteinDistance is the minimum number of single-character edits
// turning a into b.
func levenshteinDistance(a, b string) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 0
			if a[i-1] != b[j-1] {
				cost = 1
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}

	return prev[len(b)]
}
