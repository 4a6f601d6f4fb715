package util

import (
	"strings"
	"testing"

	"github.com/suyashkumar/dicom/pkg/tag"
)

func TestGetTagByName(t *testing.T) {
	tests := []struct {
		input    string
		name     string
		tag      tag.Tag
		scope    TagScope
		reserved bool
	}{
		// registered keywords match in any case
		{"PatientName", "PatientName", tag.PatientName, ScopePatient, false},
		{"pAtIeNtNaMe", "PatientName", tag.PatientName, ScopePatient, false},
		{"  StudyDescription ", "StudyDescription", tag.StudyDescription, ScopeStudy, false},
		{"FRAMEOFREFERENCEUID", "FrameOfReferenceUID", tag.FrameOfReferenceUID, ScopeStudy, false},
		{"kvp", "KVP", tag.KVP, ScopeSeries, false},
		{"windowwidth", "WindowWidth", tag.WindowWidth, ScopeImage, false},

		// computed from the volume
		{"SeriesNumber", "SeriesNumber", tag.SeriesNumber, ScopeSeries, true},
		{"pixeldata", "PixelData", tag.PixelData, ScopeImage, true},
		{"ImagePositionPatient", "ImagePositionPatient", tag.ImagePositionPatient, ScopeImage, true},
		{"NumberOfTemporalPositions", "NumberOfTemporalPositions", tag.NumberOfTemporalPositions, ScopeSeries, true},

		// any other dictionary keyword, matched exactly
		{"ContrastBolusAgent", "ContrastBolusAgent", tag.ContrastBolusAgent, ScopeImage, false},
		{"AcquisitionMatrix", "AcquisitionMatrix", tag.AcquisitionMatrix, ScopeImage, false},
		{"PositionReferenceIndicator", "PositionReferenceIndicator", tag.PositionReferenceIndicator, ScopeImage, false},

		// private
		{"numberofstacks", "NumberOfStacks", tag.Tag{Group: 0x2001, Element: 0x1060}, ScopeSeries, false},
		{"MRStackOffcentreAP", "MRStackOffcentreAP", tag.Tag{Group: 0x2005, Element: 0x1078}, ScopeSeries, false},
	}

	for _, tc := range tests {
		t.Run(tc.input, func(t *testing.T) {
			info, err := GetTagByName(tc.input)
			if err != nil {
				t.Fatalf("GetTagByName(%q) returned error: %v", tc.input, err)
			}
			if info.Name != tc.name {
				t.Errorf("Name = %q, want %q", info.Name, tc.name)
			}
			if info.Tag != tc.tag {
				t.Errorf("Tag = %v, want %v", info.Tag, tc.tag)
			}
			if info.Scope != tc.scope {
				t.Errorf("Scope = %v, want %v", info.Scope, tc.scope)
			}
			if info.Reserved != tc.reserved {
				t.Errorf("Reserved = %v, want %v", info.Reserved, tc.reserved)
			}
		})
	}
}

func TestGetTagByName_Errors(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"", `unknown tag ""`},
		{"   ", "unknown tag"},
		{"NotATag", "unknown tag"},
		{"patient name", "PatientName"},
		{"PatinetName", `did you mean "PatientName"`},
		{"StudyDescripton", `did you mean "StudyDescription"`},
		{"WindowCentre", `did you mean "WindowCenter"`},
		{"InstanceNumbr", `did you mean "InstanceNumber"`},
		{"NumberOfStack", `did you mean "NumberOfStacks"`},
		// dictionary keywords outside the registry are case-sensitive
		{"contrastbolusagent", "unknown tag"},
	}

	for _, tc := range tests {
		t.Run(tc.input, func(t *testing.T) {
			_, err := GetTagByName(tc.input)
			if err == nil {
				t.Fatalf("GetTagByName(%q) should fail", tc.input)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error = %v, want it to contain %q", err, tc.want)
			}
		})
	}
}

func TestPrivateTags(t *testing.T) {
	tests := []struct {
		name    string
		vr      string
		creator tag.Tag
		owner   string
	}{
		{"NumberOfStacks", "SL", tag.Tag{Group: 0x2001, Element: 0x0010}, "Philips Imaging DD 001"},
		{"PCVelocity", "FL", tag.Tag{Group: 0x2001, Element: 0x0010}, "Philips Imaging DD 001"},
		{"ScanningTechnique", "LO", tag.Tag{Group: 0x2001, Element: 0x0010}, "Philips Imaging DD 001"},
		{"MRImageType", "CS", tag.Tag{Group: 0x2005, Element: 0x0010}, "Philips MR Imaging DD 001"},
		{"MRStackTablePosLong", "FL", tag.Tag{Group: 0x2005, Element: 0x0014}, "Philips MR Imaging DD 005"},
		{"MRPhilipsX1", "IS", tag.Tag{Group: 0x2005, Element: 0x0015}, "Philips MR Imaging DD 006"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			info, err := GetTagByName(tc.name)
			if err != nil {
				t.Fatalf("GetTagByName(%q) returned error: %v", tc.name, err)
			}
			if !info.Private() {
				t.Errorf("%s should be private", tc.name)
			}
			if info.VR != tc.vr {
				t.Errorf("VR = %q, want %q", info.VR, tc.vr)
			}
			if info.CreatorTag() != tc.creator {
				t.Errorf("CreatorTag = %v, want %v", info.CreatorTag(), tc.creator)
			}
			if info.Creator != tc.owner {
				t.Errorf("Creator = %q, want %q", info.Creator, tc.owner)
			}
		})
	}
}

func TestPrivateTags_Consistent(t *testing.T) {
	seen := map[tag.Tag]string{}
	for _, info := range privateTags {
		if !info.Private() || info.VR == "" || info.Creator == "" {
			t.Errorf("%s: incomplete private entry %+v", info.Name, info)
		}
		if info.Reserved {
			t.Errorf("%s: private tags are overridable", info.Name)
		}
		if prev, dup := seen[info.Tag]; dup {
			t.Errorf("%s and %s share tag %v", prev, info.Name, info.Tag)
		}
		seen[info.Tag] = info.Name
		if _, err := tag.FindByName(info.Name); err == nil {
			t.Errorf("%s shadows a standard keyword", info.Name)
		}
	}

	if info, _ := GetTagByName("PatientName"); info.Private() {
		t.Error("standard tags are not private")
	}
}

func TestOverridableTags(t *testing.T) {
	tags := OverridableTags()
	if len(tags) == 0 {
		t.Fatal("expected overridable tags")
	}
	names := map[string]bool{}
	for i, info := range tags {
		names[info.Name] = true
		if info.Reserved {
			t.Errorf("%s is reserved and should not be listed", info.Name)
		}
		if i > 0 && (tags[i-1].Scope > info.Scope ||
			(tags[i-1].Scope == info.Scope && tags[i-1].Name >= info.Name)) {
			t.Errorf("%s listed out of order after %s", info.Name, tags[i-1].Name)
		}
	}
	for _, want := range []string{"PatientName", "WindowCenter", "NumberOfStacks"} {
		if !names[want] {
			t.Errorf("%s should be listed", want)
		}
	}
	if names["Rows"] {
		t.Error("Rows is computed and should not be listed")
	}
}

func TestTagScope_String(t *testing.T) {
	tests := []struct {
		scope    TagScope
		expected string
	}{
		{ScopePatient, "Patient"},
		{ScopeStudy, "Study"},
		{ScopeSeries, "Series"},
		{ScopeImage, "Image"},
		{TagScope(9), "Unknown"},
	}

	for _, tc := range tests {
		t.Run(tc.expected, func(t *testing.T) {
			if tc.scope.String() != tc.expected {
				t.Errorf("TagScope.String() = %q, want %q", tc.scope.String(), tc.expected)
			}
		})
	}
}

func TestLevenshteinDistance(t *testing.T) {
	tests := []struct {
		a, b     string
		expected int
	}{
		{"", "", 0},
		{"abc", "", 3},
		{"kitten", "sitting", 3},
		{"numberofstack", "numberofstacks", 1},
		{"patinetname", "patientname", 2},
	}

	for _, tc := range tests {
		t.Run(tc.a+"_"+tc.b, func(t *testing.T) {
			if got := levenshteinDistance(tc.a, tc.b); got != tc.expected {
				t.Errorf("levenshteinDistance(%q, %q) = %d, want %d", tc.a, tc.b, got, tc.expected)
			}
		})
	}
}
