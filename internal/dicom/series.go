// Package dicom assembles DICOM series from volumes and writes them.
package dicom

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Onset-lab/nii2dcm/internal/dicom/modalities"
	"github.com/Onset-lab/nii2dcm/internal/pixel"
	"github.com/Onset-lab/nii2dcm/internal/util"
	"github.com/Onset-lab/nii2dcm/internal/volume"
)

// Options configures one conversion run.
type Options struct {
	Modality modalities.Modality
	// BitsStored and Signed override the modality's pixel format when set.
	BitsStored int
	Signed     *bool
	// Rescale overrides the modality's default rescale when set.
	Rescale   *pixel.Rescale
	Overrides util.ParsedTags

	Frame        int               // time point of a 4D volume
	Temporal     *TemporalPosition // set when converting one of several time points
	SeriesNumber int               // default 1
	WindowPreset string

	// UIDSeed makes every generated UID reproducible.
	UIDSeed string
	Now     time.Time

	Workers     int  // parallel slice extraction, 0 = runtime.NumCPU()
	StrictRange bool // treat any clamped sample as fatal

	Logger           *slog.Logger
	ProgressCallback func(done, total int)
}

// State is the lifecycle stage of an Assembler.
type State int

const (
	Initialized State = iota
	GeneratingSlices
	Finalized
	Aborted
)

func (s State) String() string {
	switch s {
	case Initialized:
		return "Initialized"
	case GeneratingSlices:
		return "GeneratingSlices"
	case Finalized:
		return "Finalized"
	case Aborted:
		return "Aborted"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// RecordWriter persists completed records. Records arrive in ascending
// instance number order.
type RecordWriter interface {
	WriteRecord(rec *Record) error
}

// Aborter is implemented by writers that can discard what a failed run
// already wrote.
type Aborter interface {
	Abort() error
}

// Result summarizes a finalized run.
type Result struct {
	StudyInstanceUID  string
	SeriesInstanceUID string
	SeriesNumber      int
	Records           int
	Oblique           bool
	Warnings          []*pixel.PixelRangeWarning
}

// Assembler converts one volume into one series.
type Assembler struct {
	vol   *volume.Volume
	opts  Options
	ctx   *SeriesContext
	state State
	log   *slog.Logger
}

// NewAssembler validates opts against vol and builds the series context.
// Unsupported modalities, unknown window presets, malformed override values
// and invalid geometry fail here.
func NewAssembler(vol *volume.Volume, opts Options) (*Assembler, error) {
	if vol == nil {
		return nil, errors.New("volume is nil")
	}
	if opts.Frame < 0 || opts.Frame >= vol.Frames() {
		return nil, fmt.Errorf("frame %d out of range [0, %d)", opts.Frame, vol.Frames())
	}
	if opts.Workers < 0 {
		return nil, fmt.Errorf("workers must be >= 0, got %d", opts.Workers)
	}

	ctx, err := newSeriesContext(vol, opts)
	if err != nil {
		return nil, err
	}

	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("series", ctx.SeriesNumber, "modality", ctx.Generator.Modality())
	return &Assembler{vol: vol, opts: opts, ctx: ctx, state: Initialized, log: log}, nil
}

// Context returns the series context.
func (a *Assembler) Context() *SeriesContext { return a.ctx }

// State returns the current lifecycle stage.
func (a *Assembler) State() State { return a.state }

type extracted struct {
	slice   pixel.Slice
	warning *pixel.PixelRangeWarning
}

// Run extracts every slice, then emits one record per slice to w in
// ascending slice order. If anything fails, nothing is considered written:
// w is aborted when it implements Aborter.
func (a *Assembler) Run(w RecordWriter) (*Result, error) {
	if a.state != Initialized {
		return nil, fmt.Errorf("assembler is %s, expected %s", a.state, Initialized)
	}
	a.state = GeneratingSlices

	slices, err := a.extractAll()
	if err != nil {
		return nil, a.abort(w, err)
	}

	result := &Result{
		StudyInstanceUID:  a.ctx.StudyInstanceUID,
		SeriesInstanceUID: a.ctx.SeriesInstanceUID,
		SeriesNumber:      a.ctx.SeriesNumber,
		Oblique:           a.ctx.Geometry.Oblique,
	}
	storedMin, storedMax := int64(0), int64(0)
	for k, e := range slices {
		if e.warning != nil {
			result.Warnings = append(result.Warnings, e.warning)
		}
		if k == 0 {
			storedMin, storedMax = e.slice.Min, e.slice.Max
			continue
		}
		storedMin = min(storedMin, e.slice.Min)
		storedMax = max(storedMax, e.slice.Max)
	}
	if a.opts.StrictRange && len(result.Warnings) > 0 {
		return nil, a.abort(w, result.Warnings[0])
	}
	center, width, setWindow := a.ctx.windowFor(storedMin, storedMax)

	total := len(slices)
	for k, e := range slices {
		rec := newRecord(a.ctx, a.ctx.Geometry.Plane(k), e.slice)
		if setWindow {
			rec.Fields.Set("WindowCenter", util.FormatDS(center))
			rec.Fields.Set("WindowWidth", util.FormatDS(width))
		}
		if err := w.WriteRecord(rec); err != nil {
			return nil, a.abort(w, err)
		}
		result.Records++
		a.log.Debug("slice written", "instance", rec.InstanceNumber, "slice", k)
		if a.opts.ProgressCallback != nil {
			a.opts.ProgressCallback(k+1, total)
		}
	}

	a.state = Finalized
	a.log.Info("series assembled", "records", result.Records, "warnings", len(result.Warnings), "oblique", result.Oblique)
	return result, nil
}

// extractAll converts every slice with a bounded worker pool and returns
// them indexed by slice.
func (a *Assembler) extractAll() ([]extracted, error) {
	adapter := pixel.Adapter{Format: a.ctx.Format, Rescale: a.ctx.Rescale, Frame: a.opts.Frame}
	n := a.vol.Slices()
	out := make([]extracted, n)

	workers := a.opts.Workers
	if workers == 0 {
		workers = runtime.NumCPU()
	}

	var g errgroup.Group
	g.SetLimit(workers)
	for k := 0; k < n; k++ {
		g.Go(func() error {
			s, warn, err := adapter.Extract(a.vol, k)
			if err != nil {
				return fmt.Errorf("slice %d: %w", k, err)
			}
			out[k] = extracted{slice: s, warning: warn}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (a *Assembler) abort(w RecordWriter, cause error) error {
	a.state = Aborted
	a.log.Error("series aborted", "error", cause)
	if ab, ok := w.(Aborter); ok {
		if err := ab.Abort(); err != nil {
			return errors.Join(cause, fmt.Errorf("discard partial output: %w", err))
		}
	}
	return cause
}
