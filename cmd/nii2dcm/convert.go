package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/Onset-lab/nii2dcm/internal/config"
	internaldicom "github.com/Onset-lab/nii2dcm/internal/dicom"
	"github.com/Onset-lab/nii2dcm/internal/dicom/modalities"
	"github.com/Onset-lab/nii2dcm/internal/geometry"
	"github.com/Onset-lab/nii2dcm/internal/pixel"
	"github.com/Onset-lab/nii2dcm/internal/preview"
	"github.com/Onset-lab/nii2dcm/internal/util"
	"github.com/Onset-lab/nii2dcm/internal/volume"
)

func newConvertCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "convert <input.nii[.gz]> <output>",
		Short: "Convert a NIfTI volume into a DICOM series",
		Long: `Convert a NIfTI volume into a DICOM series.

The output is a directory, or a bucket URL (file:///abs/dir, mem://, gs://bucket/prefix).
Settings come from --config (YAML or TOML) and are overridden by flags.`,
		Example: `  nii2dcm convert brain.nii.gz out/ --modality MR
  nii2dcm convert head.nii out/ --modality CT --bits 12 --intercept -1024 --tag PatientName="Doe^Jane"
  nii2dcm convert fmri.nii.gz out/ --all-frames --layout dicomdir --preview fmri.png`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConvertConfig(cmd)
			if err != nil {
				return err
			}
			return runConvert(cmd.Context(), cmd.OutOrStdout(), volume.NiftiReader{}, args[0], args[1], cfg)
		},
	}

	f := cmd.Flags()
	f.String("config", "", "Load settings from a YAML or TOML file")
	f.String("modality", "MR", fmt.Sprintf("Output modality %v", modalities.AllModalities()))
	f.String("convention", "RAS", fmt.Sprintf("Coordinate convention of the input affine %v", geometry.Conventions()))
	f.Int("bits", 0, "Bits stored per sample: 8, 12 or 16 (default: modality default)")
	f.Bool("signed", false, "Store signed samples (default: modality default)")
	f.Float64("slope", 1, "Rescale slope written to RescaleSlope")
	f.Float64("intercept", 0, "Rescale intercept written to RescaleIntercept")
	f.StringArray("tag", nil, "Set DICOM tag: 'TagName=Value' (repeatable)")
	f.Int("frame", 0, "Time point of a 4D volume to convert")
	f.Bool("all-frames", false, "Convert every time point into its own series")
	f.Int("workers", 0, fmt.Sprintf("Parallel slice workers (default: %d = CPU cores)", runtime.NumCPU()))
	f.Bool("strict-range", false, "Fail when any sample falls outside the output range")
	f.Int("series-number", 1, "Series number of the first series")
	f.String("series-description", "", "SeriesDescription of the output")
	f.String("window-preset", "", "Named window preset (e.g. BRAIN, LUNG for CT)")
	f.String("uid-seed", "", "Seed making every generated UID reproducible")
	f.String("layout", "flat", "Output layout: flat or dicomdir")
	f.String("prefix", "IM", "File name prefix for the flat layout")
	f.String("fileset-id", "", "File-set ID written to DICOMDIR")
	f.String("preview", "", "Write a PNG montage of the converted slices")
	return cmd
}

// loadConvertConfig reads --config and applies the flags the user set.
func loadConvertConfig(cmd *cobra.Command) (*config.Config, error) {
	f := cmd.Flags()
	path, _ := f.GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	if f.Changed("modality") {
		cfg.Modality, _ = f.GetString("modality")
	}
	if f.Changed("convention") {
		cfg.Convention, _ = f.GetString("convention")
	}
	if f.Changed("bits") {
		cfg.OutputBitDepth, _ = f.GetInt("bits")
	}
	if f.Changed("signed") {
		signed, _ := f.GetBool("signed")
		cfg.Signed = &signed
	}
	if f.Changed("slope") {
		cfg.RescaleSlope, _ = f.GetFloat64("slope")
	}
	if f.Changed("intercept") {
		cfg.RescaleIntercept, _ = f.GetFloat64("intercept")
	}
	if f.Changed("frame") {
		cfg.Frame, _ = f.GetInt("frame")
	}
	if f.Changed("all-frames") {
		cfg.AllFrames, _ = f.GetBool("all-frames")
	}
	if f.Changed("workers") {
		cfg.Workers, _ = f.GetInt("workers")
	}
	if f.Changed("strict-range") {
		cfg.StrictRange, _ = f.GetBool("strict-range")
	}
	if f.Changed("series-number") {
		cfg.SeriesNumber, _ = f.GetInt("series-number")
	}
	if f.Changed("series-description") {
		cfg.SeriesDescription, _ = f.GetString("series-description")
	}
	if f.Changed("window-preset") {
		cfg.WindowPreset, _ = f.GetString("window-preset")
	}
	if f.Changed("uid-seed") {
		cfg.UIDSeed, _ = f.GetString("uid-seed")
	}
	if f.Changed("layout") {
		cfg.Output.Layout, _ = f.GetString("layout")
	}
	if f.Changed("prefix") {
		cfg.Output.Prefix, _ = f.GetString("prefix")
	}
	if f.Changed("fileset-id") {
		cfg.Output.FileSetID, _ = f.GetString("fileset-id")
	}
	if f.Changed("preview") {
		cfg.Output.Preview, _ = f.GetString("preview")
	}

	tagFlags, _ := f.GetStringArray("tag")
	fromFlags, err := util.ParseTagFlags(tagFlags)
	if err != nil {
		return nil, err
	}
	for k, v := range fromFlags {
		if cfg.MetadataOverrides == nil {
			cfg.MetadataOverrides = map[string]string{}
		}
		for existing := range cfg.MetadataOverrides {
			if info, err := util.GetTagByName(existing); err == nil && info.Name == k {
				delete(cfg.MetadataOverrides, existing)
			}
		}
		cfg.MetadataOverrides[k] = v
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// runConvert converts input into one series per requested time point,
// all written through one writer so a failure rolls back every file.
func runConvert(ctx context.Context, out io.Writer, reader volume.Reader, input, output string, cfg *config.Config) error {
	start := time.Now()
	log := slog.Default()

	modality, err := modalities.Parse(cfg.Modality)
	if err != nil {
		return err
	}
	convention, err := geometry.ParseConvention(cfg.Convention)
	if err != nil {
		return err
	}
	layout, err := internaldicom.ParseLayout(cfg.Output.Layout)
	if err != nil {
		return err
	}
	overrides, err := util.ParseTagMap(cfg.Overrides())
	if err != nil {
		return fmt.Errorf("invalid metadata override: %w", err)
	}

	vol, err := reader.Read(input)
	if err != nil {
		return err
	}
	if convention != vol.Convention() {
		if vol, err = vol.WithConvention(convention); err != nil {
			return err
		}
	}
	dims := vol.Dims()
	log.Info("volume loaded", "path", vol.Source(), "dims", fmt.Sprintf("%dx%dx%dx%d", dims[0], dims[1], dims[2], vol.Frames()))

	frames := []int{cfg.Frame}
	if cfg.AllFrames {
		frames = make([]int, vol.Frames())
		for t := range frames {
			frames[t] = t
		}
	}

	sink, err := internaldicom.OpenSink(ctx, output)
	if err != nil {
		return err
	}
	defer func() { _ = sink.Close() }()

	writer := internaldicom.NewSeriesWriter(ctx, sink, internaldicom.WriterOptions{
		Layout:    layout,
		Prefix:    cfg.Output.Prefix,
		FileSetID: cfg.Output.FileSetID,
	})
	var records internaldicom.RecordWriter = writer
	var montage *preview.Collector
	if cfg.Output.Preview != "" {
		montage = preview.NewCollector()
		records = internaldicom.MultiWriter(writer, montage)
	}

	opts := internaldicom.Options{
		Modality:     modality,
		BitsStored:   cfg.OutputBitDepth,
		Signed:       cfg.Signed,
		Overrides:    overrides,
		WindowPreset: cfg.WindowPreset,
		UIDSeed:      cfg.UIDSeed,
		Now:          start,
		Workers:      cfg.Workers,
		StrictRange:  cfg.StrictRange,
		Logger:       log,
		ProgressCallback: func(done, total int) {
			log.Debug("progress", "done", done, "total", total)
		},
	}
	if cfg.RescaleSlope != 1 || cfg.RescaleIntercept != 0 {
		opts.Rescale = &pixel.Rescale{Slope: cfg.RescaleSlope, Intercept: cfg.RescaleIntercept}
	}

	var results []*internaldicom.Result
	for n, t := range frames {
		opts.Frame = t
		opts.SeriesNumber = cfg.SeriesNumber + n
		if cfg.AllFrames {
			opts.Temporal = &internaldicom.TemporalPosition{Index: t, Count: len(frames)}
		}

		asm, err := internaldicom.NewAssembler(vol, opts)
		if err != nil {
			return errors.Join(err, writer.Abort())
		}
		lo, hi := vol.Range(t)
		log.Debug("converting frame", "frame", t, "min", lo, "max", hi)
		if n == 0 && len(frames) > 1 {
			opts.Overrides = shareStudy(overrides, asm.Context())
		}
		res, err := asm.Run(records)
		if err != nil {
			return err
		}
		for _, w := range res.Warnings {
			log.Warn("samples clamped to output range", "series", res.SeriesNumber, "slice", w.Slice, "count", w.Clamped)
		}
		if res.Oblique {
			log.Warn("volume axes are not orthogonal, records marked oblique", "series", res.SeriesNumber)
		}
		results = append(results, res)
	}

	if err := writer.Close(); err != nil {
		return errors.Join(err, writer.Abort())
	}
	previewPath := ""
	if montage != nil {
		// the series is already complete; a preview failure does not undo it
		if err := montage.SaveFile(cfg.Output.Preview, preview.Options{Labels: true}); err != nil {
			log.Warn("preview not written", "path", cfg.Output.Preview, "error", err)
		} else {
			previewPath = cfg.Output.Preview
		}
	}

	printSummary(out, output, previewPath, results, writer, time.Since(start))
	return nil
}

// shareStudy returns overrides pinning the study and frame of reference of
// ctx, so that every series of a 4D volume joins the same study.
func shareStudy(overrides util.ParsedTags, ctx *internaldicom.SeriesContext) util.ParsedTags {
	shared := make(util.ParsedTags, len(overrides)+2)
	for k, v := range overrides {
		shared[k] = v
	}
	shared["StudyInstanceUID"] = ctx.StudyInstanceUID
	shared["FrameOfReferenceUID"] = ctx.FrameOfReferenceUID
	return shared
}

func printSummary(out io.Writer, output, previewPath string, results []*internaldicom.Result, w *internaldicom.SeriesWriter, elapsed time.Duration) {
	var warnings, records int
	for _, r := range results {
		warnings += len(r.Warnings)
		records += r.Records
	}
	fmt.Fprintln(out, "✓ Conversion complete!")
	fmt.Fprintf(out, "  Output:   %s\n", output)
	fmt.Fprintf(out, "  Series:   %d\n", len(results))
	fmt.Fprintf(out, "  Images:   %s\n", humanize.Comma(int64(records)))
	fmt.Fprintf(out, "  Size:     %s\n", humanize.Bytes(uint64(w.BytesWritten())))
	if warnings > 0 {
		fmt.Fprintf(out, "  Warnings: %d slices with clamped samples\n", warnings)
	}
	if len(results) > 0 {
		fmt.Fprintf(out, "  Study:    %s\n", results[0].StudyInstanceUID)
	}
	if previewPath != "" {
		fmt.Fprintf(out, "  Preview:  %s\n", previewPath)
	}
	fmt.Fprintf(out, "  Elapsed:  %s\n", elapsed.Round(time.Millisecond))
}
