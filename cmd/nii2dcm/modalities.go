package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Onset-lab/nii2dcm/internal/dicom/modalities"
	"github.com/Onset-lab/nii2dcm/internal/util"
)

func newModalitiesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "modalities",
		Short: "List supported output modalities",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "MODALITY\tDICOM\tSOP CLASS\tPIXELS\tWINDOW PRESETS")
			for _, m := range modalities.AllModalities() {
				gen, err := modalities.GetGenerator(m)
				if err != nil {
					return err
				}
				pc := gen.PixelConfig()
				sign := "unsigned"
				if pc.Signed {
					sign = "signed"
				}
				var presets []string
				for _, p := range gen.WindowPresets() {
					presets = append(presets, p.Name)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%d-bit %s\t%s\n",
					m, gen.DICOMModality(), gen.SOPClassUID(), pc.BitsStored, sign, strings.Join(presets, ","))
			}
			return w.Flush()
		},
	}
}

func newTagsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tags",
		Short: "List DICOM keywords accepted by --tag",
		Long: `List DICOM keywords accepted by --tag.

Any other keyword of the DICOM dictionary is accepted when spelled exactly.
Geometry, pixel and UID fields computed from the volume cannot be set.`,
		Args: cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			scope := util.TagScope(-1)
			for _, info := range util.OverridableTags() {
				if info.Scope != scope {
					scope = info.Scope
					fmt.Fprintf(out, "%s:\n", scope)
				}
				fmt.Fprintf(out, "  %-28s %s\n", info.Name, info.Tag)
			}
		},
	}
}
