package dicom

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/frame"
	"github.com/suyashkumar/dicom/pkg/tag"

	"github.com/Onset-lab/nii2dcm/internal/pixel"
	"github.com/Onset-lab/nii2dcm/internal/util"
)

const (
	// ExplicitVRLittleEndian is the transfer syntax of every written file.
	ExplicitVRLittleEndian = "1.2.840.10008.1.2.1"
	// ImplementationVersionName identifies files written by this converter.
	ImplementationVersionName = "nii2dcm_DICOM"
)

// ImplementationClassUID identifies files written by this converter.
var ImplementationClassUID = util.GenerateDeterministicUID("implementation-class")

// WriteError reports a record that could not be persisted.
type WriteError struct {
	Name string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write %s: %v", e.Name, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// Layout selects how written files are named.
type Layout string

const (
	// LayoutFlat writes <prefix><series>_<instance>.dcm at the top level.
	LayoutFlat Layout = "flat"
	// LayoutDICOMDIR writes PT/ST/SE/IM folders and a DICOMDIR index.
	LayoutDICOMDIR Layout = "dicomdir"
)

// ParseLayout returns the Layout for s.
func ParseLayout(s string) (Layout, error) {
	switch l := Layout(strings.ToLower(strings.TrimSpace(s))); l {
	case LayoutFlat, LayoutDICOMDIR:
		return l, nil
	case "":
		return LayoutFlat, nil
	default:
		return "", fmt.Errorf("unknown output layout %q, valid options: [%s %s]", s, LayoutFlat, LayoutDICOMDIR)
	}
}

// WriterOptions configures a SeriesWriter.
type WriterOptions struct {
	Layout Layout
	Prefix string // flat layout file prefix, default "IM"
	// FileSetID names the DICOMDIR file set.
	FileSetID string
}

// GeneratedFile describes one written file.
type GeneratedFile struct {
	Name              string
	Size              int
	PatientID         string
	PatientName       string
	StudyInstanceUID  string
	StudyID           string
	StudyDate         string
	StudyTime         string
	SeriesInstanceUID string
	SeriesNumber      string
	Modality          string
	SOPClassUID       string
	SOPInstanceUID    string
	InstanceNumber    int
}

// SeriesWriter encodes records as DICOM Part 10 files into a Sink. It may
// receive several series; Abort removes everything it wrote.
type SeriesWriter struct {
	ctx    context.Context
	sink   Sink
	opts   WriterOptions
	mu     sync.Mutex
	files  []GeneratedFile
	series map[string]int
	bytes  int64
	closed bool
}

// NewSeriesWriter returns a writer storing into sink.
func NewSeriesWriter(ctx context.Context, sink Sink, opts WriterOptions) *SeriesWriter {
	if opts.Layout == "" {
		opts.Layout = LayoutFlat
	}
	if opts.Prefix == "" {
		opts.Prefix = "IM"
	}
	return &SeriesWriter{ctx: ctx, sink: sink, opts: opts, series: make(map[string]int)}
}

// WriteRecord implements RecordWriter. Failures are *WriteError.
func (w *SeriesWriter) WriteRecord(rec *Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	name := w.fileName(rec)
	data, err := EncodeRecord(rec)
	if err != nil {
		return &WriteError{Name: name, Err: err}
	}
	if err := w.sink.Put(w.ctx, name, data); err != nil {
		return &WriteError{Name: name, Err: err}
	}

	f := rec.Fields
	w.files = append(w.files, GeneratedFile{
		Name:              name,
		Size:              len(data),
		PatientID:         f.First("PatientID"),
		PatientName:       f.First("PatientName"),
		StudyInstanceUID:  f.First("StudyInstanceUID"),
		StudyID:           f.First("StudyID"),
		StudyDate:         f.First("StudyDate"),
		StudyTime:         f.First("StudyTime"),
		SeriesInstanceUID: f.First("SeriesInstanceUID"),
		SeriesNumber:      f.First("SeriesNumber"),
		Modality:          f.First("Modality"),
		SOPClassUID:       f.First("SOPClassUID"),
		SOPInstanceUID:    f.First("SOPInstanceUID"),
		InstanceNumber:    rec.InstanceNumber,
	})
	w.bytes += int64(len(data))
	return nil
}

func (w *SeriesWriter) fileName(rec *Record) string {
	seriesUID := rec.SeriesInstanceUID()
	ordinal, ok := w.series[seriesUID]
	if !ok {
		ordinal = len(w.series)
		w.series[seriesUID] = ordinal
	}
	if w.opts.Layout == LayoutDICOMDIR {
		return fmt.Sprintf("PT%06d/ST%06d/SE%06d/IM%06d", 0, 0, ordinal, rec.InstanceNumber-1)
	}
	seriesNumber, err := strconv.Atoi(rec.Fields.First("SeriesNumber"))
	if err != nil {
		seriesNumber = ordinal + 1
	}
	return fmt.Sprintf("%s%03d_%04d.dcm", w.opts.Prefix, seriesNumber, rec.InstanceNumber)
}

// Abort deletes every file written so far.
func (w *SeriesWriter) Abort() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	var errs []error
	for _, f := range w.files {
		if err := w.sink.Delete(w.ctx, f.Name); err != nil {
			errs = append(errs, fmt.Errorf("delete %s: %w", f.Name, err))
		}
	}
	w.files = nil
	w.series = make(map[string]int)
	w.bytes = 0
	return errors.Join(errs...)
}

// Close writes the DICOMDIR index when the layout asks for one.
func (w *SeriesWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	if w.opts.Layout != LayoutDICOMDIR || len(w.files) == 0 {
		return nil
	}
	data, err := BuildDICOMDIR(w.opts.FileSetID, w.files)
	if err != nil {
		return &WriteError{Name: "DICOMDIR", Err: err}
	}
	if err := w.sink.Put(w.ctx, "DICOMDIR", data); err != nil {
		return &WriteError{Name: "DICOMDIR", Err: err}
	}
	w.bytes += int64(len(data))
	return nil
}

// Files returns the files written so far.
func (w *SeriesWriter) Files() []GeneratedFile {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]GeneratedFile(nil), w.files...)
}

// BytesWritten returns the total size of written files.
func (w *SeriesWriter) BytesWritten() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.bytes
}

// MultiWriter duplicates each record to all writers, stopping at the first
// error. Abort is forwarded to every writer implementing Aborter.
func MultiWriter(writers ...RecordWriter) RecordWriter {
	return multiWriter(writers)
}

type multiWriter []RecordWriter

func (m multiWriter) WriteRecord(rec *Record) error {
	for _, w := range m {
		if err := w.WriteRecord(rec); err != nil {
			return err
		}
	}
	return nil
}

func (m multiWriter) Abort() error {
	var errs []error
	for _, w := range m {
		if a, ok := w.(Aborter); ok {
			errs = append(errs, a.Abort())
		}
	}
	return errors.Join(errs...)
}

// EncodeRecord returns the Part 10 encoding of rec.
func EncodeRecord(rec *Record) ([]byte, error) {
	ds, err := BuildDataset(rec)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := dicom.Write(&buf, ds); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildDataset converts rec into a dataset: file meta, every field, then
// the pixel data, sorted by tag.
func BuildDataset(rec *Record) (dicom.Dataset, error) {
	elements := []*dicom.Element{
		mustNewElement(tag.MediaStorageSOPClassUID, []string{rec.Fields.First("SOPClassUID")}),
		mustNewElement(tag.MediaStorageSOPInstanceUID, []string{rec.SOPInstanceUID()}),
		mustNewElement(tag.TransferSyntaxUID, []string{ExplicitVRLittleEndian}),
		mustNewElement(tag.ImplementationClassUID, []string{ImplementationClassUID}),
		mustNewElement(tag.ImplementationVersionName, []string{ImplementationVersionName}),
	}

	for _, keyword := range rec.Fields.Keywords() {
		values, _ := rec.Fields.Get(keyword)
		elem, err := newElement(keyword, values)
		if err != nil {
			return dicom.Dataset{}, err
		}
		elements = append(elements, elem)
	}
	elements = append(elements, creatorElements(rec.Fields.Keywords())...)

	pixelData, err := pixelDataInfo(rec.Pixels)
	if err != nil {
		return dicom.Dataset{}, err
	}
	elements = append(elements, mustNewElement(tag.PixelData, pixelData))

	sort.SliceStable(elements, func(i, j int) bool {
		a, b := elements[i].Tag, elements[j].Tag
		if a.Group != b.Group {
			return a.Group < b.Group
		}
		return a.Element < b.Element
	})
	return dicom.Dataset{Elements: elements}, nil
}

// newElement builds an element from string values, converting them for
// binary integer and float VRs. Private keywords carry their own VR.
func newElement(keyword string, values []string) (*dicom.Element, error) {
	info, err := util.GetTagByName(keyword)
	if err != nil {
		return nil, err
	}
	vr := info.VR
	if vr == "" {
		ti, err := tag.Find(info.Tag)
		if err != nil {
			return nil, fmt.Errorf("element %s: %w", keyword, err)
		}
		vr = ti.VRs[0]
	}

	var data any = append([]string{}, values...)
	switch {
	case isIntegerVR(vr):
		ints := make([]int, 0, len(values))
		for _, v := range values {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				return nil, fmt.Errorf("element %s: %q is not an integer", keyword, v)
			}
			ints = append(ints, n)
		}
		data = ints
	case vr == "FL" || vr == "FD":
		floats := make([]float64, 0, len(values))
		for _, v := range values {
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				return nil, fmt.Errorf("element %s: %q is not a number", keyword, v)
			}
			floats = append(floats, f)
		}
		data = floats
	case vr == "SQ":
		return nil, fmt.Errorf("element %s: sequences cannot be set from text", keyword)
	}

	value, err := dicom.NewValue(data)
	if err != nil {
		return nil, fmt.Errorf("element %s: %w", keyword, err)
	}
	return &dicom.Element{
		Tag:                    info.Tag,
		ValueRepresentation:    tag.GetVRKind(info.Tag, vr),
		RawValueRepresentation: vr,
		Value:                  value,
	}, nil
}

// creatorElements returns one private creator element per private block
// used by keywords.
func creatorElements(keywords []string) []*dicom.Element {
	creators := map[tag.Tag]string{}
	for _, keyword := range keywords {
		if info, err := util.GetTagByName(keyword); err == nil && info.Private() {
			creators[info.CreatorTag()] = info.Creator
		}
	}
	elements := make([]*dicom.Element, 0, len(creators))
	for t, creator := range creators {
		value, _ := dicom.NewValue([]string{creator})
		elements = append(elements, &dicom.Element{
			Tag:                    t,
			ValueRepresentation:    tag.VRString,
			RawValueRepresentation: "LO",
			Value:                  value,
		})
	}
	return elements
}

func isIntegerVR(vr string) bool {
	switch vr {
	case "US", "UL", "SS", "SL":
		return true
	}
	return false
}

func pixelDataInfo(s pixel.Slice) (dicom.PixelDataInfo, error) {
	n := s.Rows * s.Columns
	switch s.Format.BitsAllocated {
	case 8:
		nativeFrame := frame.NewNativeFrame[uint8](8, s.Rows, s.Columns, n, 1)
		copy(nativeFrame.RawData, s.Data)
		return dicom.PixelDataInfo{
			Frames: []*frame.Frame{
				{
					Encapsulated: false,
					NativeData:   nativeFrame,
				},
			},
		}, nil
	case 16:
		nativeFrame := frame.NewNativeFrame[uint16](16, s.Rows, s.Columns, n, 1)
		for i := 0; i < n; i++ {
			nativeFrame.RawData[i] = binary.LittleEndian.Uint16(s.Data[2*i:])
		}
		return dicom.PixelDataInfo{
			Frames: []*frame.Frame{
				{
					Encapsulated: false,
					NativeData:   nativeFrame,
				},
			},
		}, nil
	}
	return dicom.PixelDataInfo{}, fmt.Errorf("unsupported bits allocated %d", s.Format.BitsAllocated)
}

// mustNewElement creates an element from a fixed value, panicking on a
// programming error.
func mustNewElement(t tag.Tag, value interface{}) *dicom.Element {
	elem, err := dicom.NewElement(t, value)
	if err != nil {
		panic(fmt.Sprintf("failed to create element %v: %v", t, err))
	}
	return elem
}
