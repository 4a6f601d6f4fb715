package modalities

import (
	"strings"

	"github.com/Onset-lab/nii2dcm/internal/util"
)

// Field is one template entry. Required fields are always written, even
// when empty; optional fields are dropped when they have no value.
type Field struct {
	Keyword  string
	Values   []string
	Required bool
}

func (f Field) empty() bool {
	for _, v := range f.Values {
		if v != "" {
			return false
		}
	}
	return true
}

// Template is an ordered list of fields.
type Template struct {
	Name   string
	Fields []Field
}

var baseline = Template{
	Name: "baseline",
	Fields: []Field{
		required("SpecificCharacterSet", "ISO_IR 100"),
		required("ImageType", "DERIVED", "SECONDARY"),

		required("PatientName", "Test^Firstname"),
		required("PatientID", "12345678"),
		required("PatientBirthDate"),
		required("PatientSex"),
		optional("PatientAge"),
		optional("PatientWeight"),

		required("StudyID", "1"),
		required("AccessionNumber", "ABCXYZ"),
		required("ReferringPhysicianName"),
		optional("StudyDescription"),

		optional("SeriesDescription"),
		optional("ProtocolName", "nii2dcm_DICOM"),
		optional("BodyPartExamined"),
		optional("PatientPosition"),
		optional("LossyImageCompression", "00"),

		required("Manufacturer"),
		optional("InstitutionName", "INSTITUTION_NAME_NONE"),
		optional("ManufacturerModelName"),
		optional("SoftwareVersions", "nii2dcm"),
	},
}

// Baseline returns the fields shared by every modality: patient, study and
// equipment identity.
func Baseline() Template {
	return baseline
}

// Fields is an insertion-ordered mapping from keyword to values.
type Fields struct {
	order  []string
	values map[string][]string
}

// NewFields returns an empty Fields.
func NewFields() *Fields {
	return &Fields{values: make(map[string][]string)}
}

// Set stores values under keyword, keeping the position of an existing key.
func (f *Fields) Set(keyword string, values ...string) {
	if _, ok := f.values[keyword]; !ok {
		f.order = append(f.order, keyword)
	}
	f.values[keyword] = append([]string(nil), values...)
}

// Delete removes keyword.
func (f *Fields) Delete(keyword string) {
	if _, ok := f.values[keyword]; !ok {
		return
	}
	delete(f.values, keyword)
	for i, k := range f.order {
		if k == keyword {
			f.order = append(f.order[:i], f.order[i+1:]...)
			break
		}
	}
}

// Get returns the values of keyword.
func (f *Fields) Get(keyword string) ([]string, bool) {
	v, ok := f.values[keyword]
	return v, ok
}

// First returns the first value of keyword, or "".
func (f *Fields) First(keyword string) string {
	if v := f.values[keyword]; len(v) > 0 {
		return v[0]
	}
	return ""
}

// Keywords returns the keywords in insertion order.
func (f *Fields) Keywords() []string {
	return append([]string(nil), f.order...)
}

// Len returns the number of keywords.
func (f *Fields) Len() int { return len(f.order) }

// Clone returns an independent copy.
func (f *Fields) Clone() *Fields {
	c := NewFields()
	for _, k := range f.order {
		c.Set(k, f.values[k]...)
	}
	return c
}

// Resolved is a modality's generator together with its merged fields.
type Resolved struct {
	Generator Generator
	Fields    *Fields
}

// Resolve layers the modality template over the baseline and the overrides
// over both. Keys keep the position of their first appearance; new override
// keys are appended in sorted order.
func Resolve(m Modality, overrides util.ParsedTags) (*Resolved, error) {
	gen, err := GetGenerator(m)
	if err != nil {
		return nil, err
	}

	var order []string
	merged := make(map[string]Field)
	layer := func(fields []Field) {
		for _, f := range fields {
			if _, ok := merged[f.Keyword]; !ok {
				order = append(order, f.Keyword)
			}
			merged[f.Keyword] = f
		}
	}
	layer(baseline.Fields)
	layer(gen.Template().Fields)

	for _, k := range overrides.Keys() {
		values, _ := overrides.Values(k)
		layer([]Field{{Keyword: k, Values: values, Required: true}})
	}

	out := NewFields()
	for _, k := range order {
		f := merged[k]
		if !f.Required && f.empty() {
			continue
		}
		out.Set(k, f.Values...)
	}
	return &Resolved{Generator: gen, Fields: out}, nil
}

// String renders fields as "Keyword=v1\v2" lines, for diagnostics.
func (f *Fields) String() string {
	var b strings.Builder
	for _, k := range f.order {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(strings.Join(f.values[k], `\`))
		b.WriteByte('\n')
	}
	return b.String()
}
