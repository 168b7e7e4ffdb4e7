package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/paperfold/fortuneteller/internal/filesource"
	"github.com/paperfold/fortuneteller/internal/models"
	"github.com/paperfold/fortuneteller/internal/processing"
	"github.com/paperfold/fortuneteller/internal/workflow"
)

func slotFlag(id models.SlotID) string {
	return strings.ReplaceAll(string(id), "_", "-")
}

func newReconstructCmd(a *app) *cobra.Command {
	var (
		dir      string
		outPath  string
		segments []string
	)
	slotPaths := make(map[models.SlotID]*string)

	cmd := &cobra.Command{
		Use:   "reconstruct",
		Short: "Rebuild a fortune teller from six composite images",
		Long: `Uploads the six composite images to the processing service and writes the
reconstructed fortune teller image.

Composites are given one flag per slot, or with --dir pointing at a directory
holding <slot>.png (or .jpg) for every slot. All six are required.

With --segments, individual segment images named after their segment
(option_1.png ... flap_D.png, big_diamond.png) are sent instead.`,
		Example: `  fortuneteller reconstruct --dir composites/
  fortuneteller reconstruct --combo-opt-1-6 a.png --combo-opt-2-5 b.png \
    --combo-opt-3-8 c.png --combo-opt-4-7 d.png --combo-flaps e.png --combo-diamond f.png
  fortuneteller reconstruct --segments segments/*.png --out rebuilt.png`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if len(segments) > 0 {
				return a.reconstructSegments(cmd, segments, outPath)
			}

			controller := workflow.NewComposite(a.client())
			defer controller.Close()

			for _, slot := range models.Slots() {
				path := *slotPaths[slot.ID]
				if path == "" && dir != "" {
					path = findComposite(dir, slot.ID)
				}
				if path == "" {
					continue
				}
				src := filesource.NewDisk(path, a.cfg.Server.MaxUploadBytes)
				if err := controller.AttachFromPicker(ctx, slot.ID, src); err != nil {
					return fmt.Errorf("%s: %w", slot.Label, err)
				}
			}

			if snap := controller.Snapshot(); !snap.Ready {
				var missing []string
				for _, id := range snap.Missing {
					missing = append(missing, "--"+slotFlag(id))
				}
				return fmt.Errorf("%w; missing %s", workflow.ErrIncomplete, strings.Join(missing, ", "))
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
				renderSummary(out, snap.Error, false, nil)
				return fmt.Errorf("reconstruction failed")
			}
			if err := writeDataURI(outPath, snap.Image); err != nil {
				return err
			}

			rows := make([]row, 0, len(snap.Slots)+2)
			for _, s := range snap.Slots {
				rows = append(rows, row{string(s.ID), s.File.Name})
			}
			rows = append(rows, row{"session", snap.SessionID}, row{"written to", outPath})
			renderSummary(out, "Image reconstructed", true, rows)
			return nil
		},
	}

	for _, slot := range models.Slots() {
		slotPaths[slot.ID] = cmd.Flags().String(slotFlag(slot.ID), "", slot.Label+" composite image")
	}
	cmd.Flags().StringVar(&dir, "dir", "", "Directory containing <slot>.png for every slot")
	cmd.Flags().StringSliceVar(&segments, "segments", nil, "Individual segment images to rebuild from instead of composites")
	cmd.Flags().StringVarP(&outPath, "out", "o", "reconstructed.png", "Where to write the reconstructed image")
	cmd.MarkFlagsMutuallyExclusive("segments", "dir")

	return cmd
}

func findComposite(dir string, id models.SlotID) string {
	for _, ext := range []string{".png", ".jpg", ".jpeg"} {
		path := filepath.Join(dir, string(id)+ext)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

func (a *app) reconstructSegments(cmd *cobra.Command, paths []string, outPath string) error {
	ctx := cmd.Context()
	uploads, err := loadUploads(ctx, paths, a.cfg.Server.MaxUploadBytes)
	if err != nil {
		return err
	}

	result, err := a.client().Reconstruct(ctx, uploads)
	if err != nil {
		renderSummary(cmd.OutOrStdout(), workflow.ReconstructFailedMessage, false, nil)
		return err
	}
	if err := writeDataURI(outPath, result.Image); err != nil {
		return err
	}
	renderSummary(cmd.OutOrStdout(), "Image reconstructed from segments", true, []row{
		{"segments", fmt.Sprint(len(uploads))},
		{"session", result.SessionID},
		{"written to", outPath},
	})
	return nil
}

func loadUploads(ctx context.Context, paths []string, maxBytes int64) ([]processing.Upload, error) {
	uploads := make([]processing.Upload, 0, len(paths))
	for _, p := range paths {
		src := filesource.NewDisk(p, maxBytes)
		if _, err := filesource.Inspect(ctx, src); err != nil {
			return nil, err
		}
		data, err := src.Bytes(ctx)
		if err != nil {
			return nil, err
		}
		uploads = append(uploads, processing.Upload{Filename: src.Name(), Data: data})
	}
	return uploads, nil
}
