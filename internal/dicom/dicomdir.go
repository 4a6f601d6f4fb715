package dicom

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"
	"strings"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"

	"github.com/Onset-lab/nii2dcm/internal/util"
)

// MediaStorageDirectoryStorage is the SOP class of a DICOMDIR.
const MediaStorageDirectoryStorage = "1.2.840.10008.1.3.10"

const recordInUse = 0xFFFF

// directoryRecord is one DICOMDIR record before encoding.
type directoryRecord struct {
	Type     string
	Elements []*dicom.Element
}

type seriesGroup struct {
	first GeneratedFile
	files []GeneratedFile
}

type studyGroup struct {
	first  GeneratedFile
	series []*seriesGroup
	index  map[string]*seriesGroup
}

type patientGroup struct {
	first   GeneratedFile
	studies []*studyGroup
	index   map[string]*studyGroup
}

// groupFiles arranges files by patient, study and series, keeping the
// order in which each was first seen. Images are ordered by instance.
func groupFiles(files []GeneratedFile) []*patientGroup {
	var patients []*patientGroup
	byPatient := make(map[string]*patientGroup)

	for _, file := range files {
		patient, ok := byPatient[file.PatientID]
		if !ok {
			patient = &patientGroup{first: file, index: make(map[string]*studyGroup)}
			byPatient[file.PatientID] = patient
			patients = append(patients, patient)
		}
		study, ok := patient.index[file.StudyInstanceUID]
		if !ok {
			study = &studyGroup{first: file, index: make(map[string]*seriesGroup)}
			patient.index[file.StudyInstanceUID] = study
			patient.studies = append(patient.studies, study)
		}
		series, ok := study.index[file.SeriesInstanceUID]
		if !ok {
			series = &seriesGroup{first: file}
			study.index[file.SeriesInstanceUID] = series
			study.series = append(study.series, series)
		}
		series.files = append(series.files, file)
	}

	for _, patient := range patients {
		for _, study := range patient.studies {
			for _, series := range study.series {
				sort.SliceStable(series.files, func(i, j int) bool {
					return series.files[i].InstanceNumber < series.files[j].InstanceNumber
				})
			}
		}
	}
	return patients
}

func recordHeader(recordType string) []*dicom.Element {
	return []*dicom.Element{
		mustNewElement(tag.OffsetOfTheNextDirectoryRecord, []int{0}),
		mustNewElement(tag.RecordInUseFlag, []int{recordInUse}),
		mustNewElement(tag.OffsetOfReferencedLowerLevelDirectoryEntity, []int{0}),
		mustNewElement(tag.DirectoryRecordType, []string{recordType}),
	}
}

// directoryRecords flattens the hierarchy depth first.
func directoryRecords(patients []*patientGroup) []directoryRecord {
	var records []directoryRecord
	for _, patient := range patients {
		records = append(records, directoryRecord{
			Type: "PATIENT",
			Elements: append(recordHeader("PATIENT"),
				mustNewElement(tag.PatientID, []string{patient.first.PatientID}),
				mustNewElement(tag.PatientName, []string{patient.first.PatientName}),
			),
		})
		for _, study := range patient.studies {
			records = append(records, directoryRecord{
				Type: "STUDY",
				Elements: append(recordHeader("STUDY"),
					mustNewElement(tag.StudyInstanceUID, []string{study.first.StudyInstanceUID}),
					mustNewElement(tag.StudyID, []string{study.first.StudyID}),
					mustNewElement(tag.StudyDate, []string{study.first.StudyDate}),
					mustNewElement(tag.StudyTime, []string{study.first.StudyTime}),
				),
			})
			for _, series := range study.series {
				records = append(records, directoryRecord{
					Type: "SERIES",
					Elements: append(recordHeader("SERIES"),
						mustNewElement(tag.Modality, []string{series.first.Modality}),
						mustNewElement(tag.SeriesInstanceUID, []string{series.first.SeriesInstanceUID}),
						mustNewElement(tag.SeriesNumber, []string{series.first.SeriesNumber}),
					),
				})
				for _, image := range series.files {
					records = append(records, directoryRecord{
						Type: "IMAGE",
						Elements: append(recordHeader("IMAGE"),
							mustNewElement(tag.ReferencedFileID, strings.Split(image.Name, "/")),
							mustNewElement(tag.ReferencedSOPClassUIDInFile, []string{image.SOPClassUID}),
							mustNewElement(tag.ReferencedSOPInstanceUIDInFile, []string{image.SOPInstanceUID}),
							mustNewElement(tag.ReferencedTransferSyntaxUIDInFile, []string{ExplicitVRLittleEndian}),
							mustNewElement(tag.InstanceNumber, []string{util.FormatIS(image.InstanceNumber)}),
						),
					})
				}
			}
		}
	}
	return records
}

// BuildDICOMDIR encodes a DICOMDIR indexing files, which must carry their
// names relative to the file set root.
func BuildDICOMDIR(fileSetID string, files []GeneratedFile) ([]byte, error) {
	if len(files) == 0 {
		return nil, fmt.Errorf("no files to index")
	}
	if fileSetID == "" {
		fileSetID = "NII2DCM"
	}
	if len(fileSetID) > 16 {
		fileSetID = fileSetID[:16]
	}

	records := directoryRecords(groupFiles(files))
	items := make([][]*dicom.Element, len(records))
	for i, r := range records {
		items[i] = r.Elements
	}
	seq, err := dicom.NewElement(tag.DirectoryRecordSequence, items)
	if err != nil {
		return nil, fmt.Errorf("create directory record sequence: %w", err)
	}

	ds := dicom.Dataset{Elements: []*dicom.Element{
		mustNewElement(tag.MediaStorageSOPClassUID, []string{MediaStorageDirectoryStorage}),
		mustNewElement(tag.MediaStorageSOPInstanceUID, []string{util.GenerateDeterministicUID("dicomdir/" + files[0].StudyInstanceUID)}),
		mustNewElement(tag.TransferSyntaxUID, []string{ExplicitVRLittleEndian}),
		mustNewElement(tag.ImplementationClassUID, []string{ImplementationClassUID}),
		mustNewElement(tag.ImplementationVersionName, []string{ImplementationVersionName}),
		mustNewElement(tag.FileSetID, []string{fileSetID}),
		mustNewElement(tag.OffsetOfTheFirstDirectoryRecordOfTheRootDirectoryEntity, []int{0}),
		mustNewElement(tag.OffsetOfTheLastDirectoryRecordOfTheRootDirectoryEntity, []int{0}),
		mustNewElement(tag.FileSetConsistencyFlag, []int{0}),
		seq,
	}}

	var buf bytes.Buffer
	if err := dicom.Write(&buf, ds); err != nil {
		return nil, fmt.Errorf("write DICOMDIR: %w", err)
	}
	data := buf.Bytes()
	if err := patchOffsets(data, records); err != nil {
		return nil, fmt.Errorf("update DICOMDIR offsets: %w", err)
	}
	return data, nil
}

// recordInfo locates one encoded directory record.
type recordInfo struct {
	Type     string
	Position int64
}

// hierarchyInfo holds the offsets written into a record.
type hierarchyInfo struct {
	NextSibling uint32
	FirstChild  uint32
}

// patchOffsets fills the root and per-record offsets in an encoded DICOMDIR.
func patchOffsets(data []byte, records []directoryRecord) error {
	positions := findDirectoryRecordPositions(data)
	if len(positions) != len(records) {
		return fmt.Errorf("found %d directory records, expected %d", len(positions), len(records))
	}

	infos := make([]recordInfo, len(records))
	for i, r := range records {
		infos[i] = recordInfo{Type: r.Type, Position: positions[i]}
	}
	hierarchy := buildHierarchy(infos)

	var lastRoot int64
	for _, info := range infos {
		if hierarchyLevel(info.Type) == 0 {
			lastRoot = info.Position
		}
	}
	if pos := findTagPosition(data, 0, 0x0004, 0x1200, len(data)); pos >= 0 {
		putUint32(data, pos+8, uint32(positions[0]))
	}
	if pos := findTagPosition(data, 0, 0x0004, 0x1202, len(data)); pos >= 0 {
		putUint32(data, pos+8, uint32(lastRoot))
	}

	for i, info := range infos {
		base := int(info.Position)
		if pos := findTagPosition(data, base, 0x0004, 0x1400, 500); pos >= 0 {
			putUint32(data, pos+8, hierarchy[i].NextSibling)
		}
		if pos := findTagPosition(data, base, 0x0004, 0x1420, 500); pos >= 0 {
			putUint32(data, pos+8, hierarchy[i].FirstChild)
		}
	}
	return nil
}

// findDirectoryRecordPositions returns the offset of every item tag
// (FFFE,E000) after the preamble.
func findDirectoryRecordPositions(data []byte) []int64 {
	itemTag := []byte{0xFE, 0xFF, 0x00, 0xE0}
	var positions []int64
	for i := 132; i+4 <= len(data); i++ {
		if bytes.Equal(data[i:i+4], itemTag) {
			positions = append(positions, int64(i))
		}
	}
	return positions
}

// buildHierarchy links each record to its next sibling and first child.
func buildHierarchy(records []recordInfo) []hierarchyInfo {
	result := make([]hierarchyInfo, len(records))
	// last[level] is the index of the latest record seen at that level.
	last := []int{-1, -1, -1, -1}

	for i, record := range records {
		level := hierarchyLevel(record.Type)
		if level < 0 {
			continue
		}
		if prev := last[level]; prev >= 0 {
			result[prev].NextSibling = uint32(record.Position)
		}
		if level > 0 {
			if parent := last[level-1]; parent >= 0 && result[parent].FirstChild == 0 {
				result[parent].FirstChild = uint32(record.Position)
			}
		}
		last[level] = i
		for deeper := level + 1; deeper < len(last); deeper++ {
			last[deeper] = -1
		}
	}
	return result
}

// hierarchyLevel returns 0 for PATIENT through 3 for IMAGE.
func hierarchyLevel(recordType string) int {
	switch recordType {
	case "PATIENT":
		return 0
	case "STUDY":
		return 1
	case "SERIES":
		return 2
	case "IMAGE":
		return 3
	default:
		return -1
	}
}

// findTagPosition returns the offset of the tag within limit bytes of start.
func findTagPosition(data []byte, start int, group, element uint16, limit int) int {
	tagBytes := make([]byte, 4)
	binary.LittleEndian.PutUint16(tagBytes[0:2], group)
	binary.LittleEndian.PutUint16(tagBytes[2:4], element)

	for i := start; i+4 <= len(data) && i < start+limit; i++ {
		if bytes.Equal(data[i:i+4], tagBytes) {
			return i
		}
	}
	return -1
}

func putUint32(data []byte, pos int, value uint32) {
	if pos+4 <= len(data) {
		binary.LittleEndian.PutUint32(data[pos:], value)
	}
}
