package dicom

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildHierarchy(t *testing.T) {
	records := []recordInfo{
		{Type: "PATIENT", Position: 10},
		{Type: "STUDY", Position: 20},
		{Type: "SERIES", Position: 30},
		{Type: "IMAGE", Position: 40},
		{Type: "IMAGE", Position: 50},
		{Type: "SERIES", Position: 60},
		{Type: "IMAGE", Position: 70},
	}
	h := buildHierarchy(records)

	assert.Equal(t, hierarchyInfo{FirstChild: 20}, h[0])
	assert.Equal(t, hierarchyInfo{FirstChild: 30}, h[1])
	assert.Equal(t, hierarchyInfo{FirstChild: 40, NextSibling: 60}, h[2])
	assert.Equal(t, hierarchyInfo{NextSibling: 50}, h[3])
	assert.Equal(t, hierarchyInfo{}, h[4])
	assert.Equal(t, hierarchyInfo{FirstChild: 70}, h[5])
	assert.Equal(t, hierarchyInfo{}, h[6])
}

func TestGroupFiles(t *testing.T) {
	files := []GeneratedFile{
		{Name: "a", PatientID: "P", StudyInstanceUID: "S", SeriesInstanceUID: "1", InstanceNumber: 2},
		{Name: "b", PatientID: "P", StudyInstanceUID: "S", SeriesInstanceUID: "2", InstanceNumber: 1},
		{Name: "c", PatientID: "P", StudyInstanceUID: "S", SeriesInstanceUID: "1", InstanceNumber: 1},
	}
	patients := groupFiles(files)
	require.Len(t, patients, 1)
	require.Len(t, patients[0].studies, 1)
	series := patients[0].studies[0].series
	require.Len(t, series, 2)
	assert.Equal(t, "c", series[0].files[0].Name)
	assert.Equal(t, "a", series[0].files[1].Name)
	assert.Equal(t, "b", series[1].files[0].Name)
}

func TestBuildDICOMDIR_RootOffset(t *testing.T) {
	files := []GeneratedFile{{
		Name:              "PT000000/ST000000/SE000000/IM000000",
		PatientID:         "12345678",
		StudyInstanceUID:  "1.2.3",
		SeriesInstanceUID: "1.2.3.4",
		SOPClassUID:       "1.2.840.10008.5.1.4.1.1.4",
		SOPInstanceUID:    "1.2.3.4.5",
		Modality:          "MR",
		InstanceNumber:    1,
	}}
	data, err := BuildDICOMDIR("", files)
	require.NoError(t, err)

	positions := findDirectoryRecordPositions(data)
	require.Len(t, positions, 4)

	pos := findTagPosition(data, 0, 0x0004, 0x1200, len(data))
	require.GreaterOrEqual(t, pos, 0)
	assert.Equal(t, uint32(positions[0]), binary.LittleEndian.Uint32(data[pos+8:]))

	_, err = BuildDICOMDIR("x", nil)
	assert.Error(t, err)
}
