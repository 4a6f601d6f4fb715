package dicom

import (
	"fmt"
	"time"

	"github.com/Onset-lab/nii2dcm/internal/dicom/modalities"
	"github.com/Onset-lab/nii2dcm/internal/geometry"
	"github.com/Onset-lab/nii2dcm/internal/pixel"
	"github.com/Onset-lab/nii2dcm/internal/util"
	"github.com/Onset-lab/nii2dcm/internal/volume"
)

const (
	dateLayout = "20060102"
	timeLayout = "150405.000000"

	// ObliqueComment marks records whose voxel axes are not orthogonal.
	ObliqueComment = "oblique geometry"
)

// TemporalPosition places a series within a 4D acquisition.
type TemporalPosition struct {
	Index int // 0-based time point
	Count int
}

// SeriesContext is the state shared by every slice of one conversion run.
// Only the instance counter changes after construction.
type SeriesContext struct {
	StudyInstanceUID    string
	SeriesInstanceUID   string
	FrameOfReferenceUID string
	SeriesNumber        int

	Generator modalities.Generator
	Geometry  geometry.Decomposition
	Format    pixel.Format
	Rescale   pixel.Rescale
	// Fields is the series-wide metadata snapshot every record starts from.
	Fields *modalities.Fields

	// window is the named preset, nil when the window follows the data.
	window *modalities.WindowPreset

	uidSeed      string
	lastInstance int
}

// NextInstanceNumber returns the next instance number, starting at 1.
func (c *SeriesContext) NextInstanceNumber() int {
	c.lastInstance++
	return c.lastInstance
}

// InstanceUID returns the SOP Instance UID of an instance number.
func (c *SeriesContext) InstanceUID(instance int) string {
	return util.GenerateDeterministicUID(fmt.Sprintf("%s/%s/instance/%d", c.uidSeed, c.SeriesInstanceUID, instance))
}

// newSeriesContext resolves the modality and geometry of a run. Errors here
// abort the run before any slice is produced.
func newSeriesContext(vol *volume.Volume, opts Options) (*SeriesContext, error) {
	resolved, err := modalities.Resolve(opts.Modality, opts.Overrides)
	if err != nil {
		return nil, err
	}

	decomposition, err := geometry.Decompose(vol.Affine(), vol.Convention())
	if err != nil {
		return nil, err
	}

	pc := resolved.Generator.PixelConfig()
	bits := int(pc.BitsStored)
	if opts.BitsStored > 0 {
		bits = opts.BitsStored
	}
	signed := pc.Signed
	if opts.Signed != nil {
		signed = *opts.Signed
	}
	format, err := pixel.NewFormat(bits, signed)
	if err != nil {
		return nil, err
	}
	rescale := pixel.Rescale{Slope: pc.RescaleSlope, Intercept: pc.RescaleIntercept}
	if opts.Rescale != nil {
		rescale = *opts.Rescale
	}
	if err := rescale.Validate(); err != nil {
		return nil, err
	}

	seriesNumber := opts.SeriesNumber
	if seriesNumber <= 0 {
		seriesNumber = 1
	}

	ctx := &SeriesContext{
		SeriesNumber: seriesNumber,
		Generator:    resolved.Generator,
		Geometry:     decomposition,
		Format:       format,
		Rescale:      rescale,
		Fields:       resolved.Fields,
		uidSeed:      opts.UIDSeed,
	}
	if opts.WindowPreset != "" {
		preset, err := modalities.FindWindowPreset(resolved.Generator, opts.WindowPreset)
		if err != nil {
			return nil, err
		}
		ctx.window = &preset
	}
	ctx.assignUIDs(opts)
	ctx.fillSeriesFields(vol, opts)
	if err := ctx.checkFields(); err != nil {
		return nil, err
	}
	return ctx, nil
}

// checkFields encodes every field once so that malformed override values
// fail before any slice is produced.
func (c *SeriesContext) checkFields() error {
	for _, keyword := range c.Fields.Keywords() {
		values, _ := c.Fields.Get(keyword)
		if _, err := newElement(keyword, values); err != nil {
			return fmt.Errorf("invalid metadata override: %w", err)
		}
	}
	return nil
}

func (c *SeriesContext) assignUIDs(opts Options) {
	uid := func(kind string) string {
		if c.uidSeed == "" {
			return util.NewUID()
		}
		return util.GenerateDeterministicUID(c.uidSeed + "/" + kind)
	}

	c.StudyInstanceUID = c.Fields.First("StudyInstanceUID")
	if c.StudyInstanceUID == "" {
		c.StudyInstanceUID = uid("study")
	}
	c.FrameOfReferenceUID = c.Fields.First("FrameOfReferenceUID")
	if c.FrameOfReferenceUID == "" {
		c.FrameOfReferenceUID = uid("frame-of-reference")
	}
	c.SeriesInstanceUID = uid(fmt.Sprintf("series/%d", c.SeriesNumber))
}

func (c *SeriesContext) fillSeriesFields(vol *volume.Volume, opts Options) {
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	date, clock := now.Format(dateLayout), now.Format(timeLayout)
	for _, kind := range []string{"Study", "Series", "Acquisition", "Content", "InstanceCreation"} {
		if _, ok := c.Fields.Get(kind + "Date"); !ok {
			c.Fields.Set(kind+"Date", date)
		}
		if _, ok := c.Fields.Get(kind + "Time"); !ok {
			c.Fields.Set(kind+"Time", clock)
		}
	}

	dims := vol.Dims()
	g := c.Geometry
	f := c.Fields
	f.Set("SOPClassUID", c.Generator.SOPClassUID())
	f.Set("Modality", c.Generator.DICOMModality())
	f.Set("StudyInstanceUID", c.StudyInstanceUID)
	f.Set("SeriesInstanceUID", c.SeriesInstanceUID)
	f.Set("FrameOfReferenceUID", c.FrameOfReferenceUID)
	f.Set("SeriesNumber", util.FormatIS(c.SeriesNumber))
	if _, ok := f.Get("AcquisitionNumber"); !ok {
		f.Set("AcquisitionNumber", "1")
	}
	if _, ok := f.Get("PositionReferenceIndicator"); !ok {
		f.Set("PositionReferenceIndicator")
	}

	f.Set("SamplesPerPixel", "1")
	f.Set("PhotometricInterpretation", "MONOCHROME2")
	f.Set("Rows", util.FormatIS(dims[1]))
	f.Set("Columns", util.FormatIS(dims[0]))
	f.Set("BitsAllocated", util.FormatIS(int(c.Format.BitsAllocated)))
	f.Set("BitsStored", util.FormatIS(int(c.Format.BitsStored)))
	f.Set("HighBit", util.FormatIS(int(c.Format.HighBit())))
	f.Set("PixelRepresentation", util.FormatIS(int(c.Format.PixelRepresentation())))
	f.Set("RescaleIntercept", util.FormatDS(c.Rescale.Intercept))
	f.Set("RescaleSlope", util.FormatDS(c.Rescale.Slope))

	f.Set("PixelSpacing", util.FormatDSList(g.Spacing[1], g.Spacing[0])...)
	f.Set("SliceThickness", util.FormatDS(g.Spacing[2]))
	f.Set("SpacingBetweenSlices", util.FormatDS(g.Spacing[2]))

	if opts.Temporal != nil {
		f.Set("TemporalPositionIdentifier", util.FormatIS(opts.Temporal.Index+1))
		f.Set("NumberOfTemporalPositions", util.FormatIS(opts.Temporal.Count))
	}

	if g.Oblique {
		comment := ObliqueComment
		if existing := f.First("ImageComments"); existing != "" {
			comment = existing + " (" + ObliqueComment + ")"
		}
		f.Set("ImageComments", comment)
	}
}

// windowFor returns WindowCenter/WindowWidth for records of this series: the
// named preset, otherwise the physical range of the stored samples. ok is
// false when the fields already carry a window.
func (c *SeriesContext) windowFor(storedMin, storedMax int64) (center, width float64, ok bool) {
	if _, set := c.Fields.Get("WindowCenter"); set {
		return 0, 0, false
	}
	if c.window != nil {
		return c.window.Center, c.window.Width, true
	}
	lo := c.Rescale.Physical(float64(storedMin))
	hi := c.Rescale.Physical(float64(storedMax))
	lo, hi = min(lo, hi), max(lo, hi)
	return (lo + hi) / 2, max(hi-lo, 1), true
}
