package dicom

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
	"gocloud.dev/blob/memblob"
	"gocloud.dev/gcerrors"

	"github.com/Onset-lab/nii2dcm/internal/dicom/modalities"
	"github.com/Onset-lab/nii2dcm/internal/util"
)

func elementString(t *testing.T, ds dicom.Dataset, tg tag.Tag) string {
	t.Helper()
	elem, err := ds.FindElementByTag(tg)
	require.NoError(t, err, "missing %v", tg)
	return strings.Trim(elem.Value.String(), " []\x00")
}

func convertInto(t *testing.T, w RecordWriter, opts Options) *Result {
	t.Helper()
	if opts.Modality == "" {
		opts.Modality = modalities.MR
	}
	a, err := NewAssembler(rampVolume(t), opts)
	require.NoError(t, err)
	res, err := a.Run(w)
	require.NoError(t, err)
	return res
}

func TestSeriesWriter_FlatLayout(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewDirSink(dir)
	require.NoError(t, err)
	w := NewSeriesWriter(context.Background(), sink, WriterOptions{})

	res := convertInto(t, w, Options{SeriesNumber: 7})
	require.NoError(t, w.Close())

	files := w.Files()
	require.Len(t, files, 5)
	assert.Equal(t, "IM007_0001.dcm", files[0].Name)
	assert.Equal(t, "IM007_0005.dcm", files[4].Name)
	assert.Positive(t, w.BytesWritten())

	ds, err := dicom.ParseFile(filepath.Join(dir, "IM007_0003.dcm"), nil)
	require.NoError(t, err)
	assert.Equal(t, res.SeriesInstanceUID, elementString(t, ds, tag.SeriesInstanceUID))
	assert.Equal(t, files[2].SOPInstanceUID, elementString(t, ds, tag.SOPInstanceUID))
	assert.Equal(t, "MR", elementString(t, ds, tag.Modality))
	assert.Equal(t, "10", elementString(t, ds, tag.Rows))
	assert.Equal(t, "16", elementString(t, ds, tag.BitsAllocated))
	assert.Equal(t, ExplicitVRLittleEndian, elementString(t, ds, tag.TransferSyntaxUID))

	_, err = ds.FindElementByTag(tag.PixelData)
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "DICOMDIR"))
	assert.True(t, os.IsNotExist(err))
}

func TestSeriesWriter_Prefix(t *testing.T) {
	sink, err := NewDirSink(t.TempDir())
	require.NoError(t, err)
	w := NewSeriesWriter(context.Background(), sink, WriterOptions{Prefix: "brain_"})
	convertInto(t, w, Options{})
	assert.Equal(t, "brain_001_0001.dcm", w.Files()[0].Name)
}

func TestSeriesWriter_DICOMDIRLayout(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewDirSink(dir)
	require.NoError(t, err)
	w := NewSeriesWriter(context.Background(), sink, WriterOptions{Layout: LayoutDICOMDIR, FileSetID: "TESTSET"})

	convertInto(t, w, Options{SeriesNumber: 1, UIDSeed: "a"})
	convertInto(t, w, Options{SeriesNumber: 2, UIDSeed: "a"})
	require.NoError(t, w.Close())

	for _, name := range []string{
		"PT000000/ST000000/SE000000/IM000000",
		"PT000000/ST000000/SE000000/IM000004",
		"PT000000/ST000000/SE000001/IM000000",
		"DICOMDIR",
	} {
		_, err := os.Stat(filepath.Join(dir, filepath.FromSlash(name)))
		assert.NoError(t, err, name)
	}

	ds, err := dicom.ParseFile(filepath.Join(dir, "DICOMDIR"), nil)
	require.NoError(t, err)
	assert.Equal(t, "TESTSET", elementString(t, ds, tag.FileSetID))
	seq, err := ds.FindElementByTag(tag.DirectoryRecordSequence)
	require.NoError(t, err)
	items, ok := seq.Value.GetValue().([]*dicom.SequenceItemValue)
	require.True(t, ok)
	// patient, study, two series, ten images
	assert.Len(t, items, 14)
}

func TestSeriesWriter_AbortRemovesFiles(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewDirSink(dir)
	require.NoError(t, err)
	w := NewSeriesWriter(context.Background(), sink, WriterOptions{Layout: LayoutDICOMDIR})

	convertInto(t, w, Options{})
	require.NotEmpty(t, w.Files())
	require.NoError(t, w.Abort())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Empty(t, w.Files())
	assert.Zero(t, w.BytesWritten())
}

// failingSink accepts a fixed number of files.
type failingSink struct {
	Sink
	remaining int
}

func (s *failingSink) Put(ctx context.Context, name string, data []byte) error {
	if s.remaining == 0 {
		return errors.New("quota exceeded")
	}
	s.remaining--
	return s.Sink.Put(ctx, name, data)
}

func TestSeriesWriter_SinkFailureRollsBack(t *testing.T) {
	dir := t.TempDir()
	inner, err := NewDirSink(dir)
	require.NoError(t, err)
	w := NewSeriesWriter(context.Background(), &failingSink{Sink: inner, remaining: 2}, WriterOptions{})

	a, err := NewAssembler(rampVolume(t), Options{Modality: modalities.MR})
	require.NoError(t, err)
	_, err = a.Run(w)

	var writeErr *WriteError
	require.True(t, errors.As(err, &writeErr), "got %v", err)
	assert.Equal(t, "IM001_0003.dcm", writeErr.Name)
	assert.Equal(t, Aborted, a.State())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestBlobSink_WriteAndAbort(t *testing.T) {
	ctx := context.Background()
	bucket := memblob.OpenBucket(nil)
	sink := NewBlobSink(bucket)
	defer sink.Close()

	w := NewSeriesWriter(ctx, sink, WriterOptions{})
	convertInto(t, w, Options{})

	data, err := bucket.ReadAll(ctx, "IM001_0001.dcm")
	require.NoError(t, err)
	assert.Equal(t, "DICM", string(data[128:132]))

	require.NoError(t, w.Abort())
	_, err = bucket.ReadAll(ctx, "IM001_0001.dcm")
	assert.Equal(t, gcerrors.NotFound, gcerrors.Code(err))
	assert.NoError(t, sink.Delete(ctx, "missing"))
}

func TestOpenSink(t *testing.T) {
	ctx := context.Background()

	s, err := OpenSink(ctx, filepath.Join(t.TempDir(), "out"))
	require.NoError(t, err)
	assert.IsType(t, &DirSink{}, s)

	s, err = OpenSink(ctx, "mem://")
	require.NoError(t, err)
	assert.IsType(t, &BlobSink{}, s)
	assert.NoError(t, s.Close())

	_, err = OpenSink(ctx, "")
	assert.Error(t, err)
}

func TestDirSink_DeletePrunesEmptyDirs(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := NewDirSink(dir)
	require.NoError(t, err)

	require.NoError(t, s.Put(ctx, "PT000000/ST000000/IM000000", []byte("x")))
	require.NoError(t, s.Delete(ctx, "PT000000/ST000000/IM000000"))
	_, err = os.Stat(filepath.Join(dir, "PT000000"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(dir)
	assert.NoError(t, err)
	assert.NoError(t, s.Delete(ctx, "never-written"))
}

func TestMultiWriter(t *testing.T) {
	a, b := &collector{}, &collector{failAt: 2}
	m := MultiWriter(a, b)

	asm, err := NewAssembler(rampVolume(t), Options{Modality: modalities.MR})
	require.NoError(t, err)
	_, err = asm.Run(m)
	require.ErrorIs(t, err, errDiskFull)
	assert.True(t, a.aborted)
	assert.True(t, b.aborted)
}

func TestBuildDataset_SortedAndTyped(t *testing.T) {
	w := &collector{}
	convertInto(t, w, Options{})

	ds, err := BuildDataset(w.records[0])
	require.NoError(t, err)
	for i := 1; i < len(ds.Elements); i++ {
		prev, cur := ds.Elements[i-1].Tag, ds.Elements[i].Tag
		assert.True(t, prev.Group < cur.Group || (prev.Group == cur.Group && prev.Element < cur.Element),
			"%v before %v", prev, cur)
	}

	rows, err := ds.FindElementByTag(tag.Rows)
	require.NoError(t, err)
	assert.Equal(t, []int{10}, rows.Value.GetValue())
}

func TestBuildDataset_InvalidInteger(t *testing.T) {
	w := &collector{}
	convertInto(t, w, Options{})
	rec := w.records[0]
	rec.Fields.Set("Rows", "ten")

	_, err := BuildDataset(rec)
	assert.ErrorContains(t, err, "not an integer")
}

func TestEncodeRecord_PrivateTags(t *testing.T) {
	w := &collector{}
	convertInto(t, w, Options{Overrides: util.ParsedTags{
		"NumberOfStacks":      "1",
		"ScanningTechnique":   "SE",
		"MRStackOffcentreAP":  "-2.5",
		"MRStackTablePosLong": "10",
	}})

	data, err := EncodeRecord(w.records[0])
	require.NoError(t, err)
	ds, err := dicom.Parse(bytes.NewReader(data), int64(len(data)), nil, dicom.SkipPixelData())
	require.NoError(t, err)

	stacks, err := ds.FindElementByTag(tag.Tag{Group: 0x2001, Element: 0x1060})
	require.NoError(t, err)
	assert.Equal(t, "SL", stacks.RawValueRepresentation)
	assert.Equal(t, []int{1}, stacks.Value.GetValue())

	offcentre, err := ds.FindElementByTag(tag.Tag{Group: 0x2005, Element: 0x1078})
	require.NoError(t, err)
	assert.Equal(t, "FL", offcentre.RawValueRepresentation)
	assert.InDelta(t, -2.5, offcentre.Value.GetValue().([]float64)[0], 1e-6)

	assert.Equal(t, "SE", elementString(t, ds, tag.Tag{Group: 0x2001, Element: 0x1020}))
	assert.Equal(t, "Philips Imaging DD 001", elementString(t, ds, tag.Tag{Group: 0x2001, Element: 0x0010}))
	assert.Equal(t, "Philips MR Imaging DD 001", elementString(t, ds, tag.Tag{Group: 0x2005, Element: 0x0010}))
	assert.Equal(t, "Philips MR Imaging DD 005", elementString(t, ds, tag.Tag{Group: 0x2005, Element: 0x0014}))
}

func TestParseLayout(t *testing.T) {
	l, err := ParseLayout("DICOMDIR")
	require.NoError(t, err)
	assert.Equal(t, LayoutDICOMDIR, l)

	l, err = ParseLayout("")
	require.NoError(t, err)
	assert.Equal(t, LayoutFlat, l)

	_, err = ParseLayout("tree")
	assert.Error(t, err)
}

func TestImplementationClassUID(t *testing.T) {
	assert.True(t, strings.HasPrefix(ImplementationClassUID, "2.25."))
	assert.Equal(t, util.GenerateDeterministicUID("implementation-class"), ImplementationClassUID)
}
