package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/paperfold/fortuneteller/internal/filesource"
	"github.com/paperfold/fortuneteller/internal/ui"
	"github.com/paperfold/fortuneteller/internal/workflow"
)

func newProcessCmd(a *app) *cobra.Command {
	var outDir string

	cmd := &cobra.Command{
		Use:   "process <image>",
		Short: "Split one fortune teller image into its segments",
		Long: `Uploads a PNG or JPEG photo of a paper fortune teller to the processing
service and lists the segments it returns (eight options, four flaps and the
center diamond). With --out, each segment is written as <name>.png.`,
		Example: `  fortuneteller process photo.jpg
  fortuneteller process photo.jpg --out segments/`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			controller := workflow.NewSingleImage(a.client())
			defer controller.Close()

			if err := controller.Select(ctx, filesource.NewDisk(args[0], a.cfg.Server.MaxUploadBytes)); err != nil {
				return err
			}
			if err := controller.Submit(); err != nil {
				return err
			}
			if err := controller.Wait(ctx); err != nil {
				return err
			}

			snap := controller.Snapshot()
			out := cmd.OutOrStdout()
			if snap.State != workflow.StateSucceeded {
				renderSummary(out, snap.Error, false, []row{{"image", args[0]}})
				return fmt.Errorf("processing failed")
			}

			rows := []row{
				{"image", fmt.Sprintf("%s (%dx%d, %s)", snap.File.Name, snap.File.Width, snap.File.Height, ui.HumanBytes(snap.File.Size))},
				{"session", snap.SessionID},
				{"segments", fmt.Sprint(len(snap.Segments))},
			}
			if outDir != "" {
				if err := os.MkdirAll(outDir, 0o755); err != nil {
					return fmt.Errorf("failed to create output directory: %w", err)
				}
				for _, seg := range snap.Segments {
					path := filepath.Join(outDir, filepath.Base(seg.Name)+".png")
					if err := writeDataURI(path, seg.Image); err != nil {
						return err
					}
				}
				rows = append(rows, row{"written to", outDir})
			}
			renderSummary(out, "Image processed", true, rows)

			heading(out, "Segments")
			for _, seg := range snap.Segments {
				fmt.Fprintf(out, "  %s\n", seg.Name)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&outDir, "out", "o", "", "Directory to write segment images to")

	return cmd
}

func writeDataURI(path, uri string) error {
	_, data, err := filesource.DecodeDataURI(uri)
	if err != nil {
		return fmt.Errorf("failed to decode %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
