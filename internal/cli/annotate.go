package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/okian/ewaste/internal/adapters/render"
	"github.com/okian/ewaste/internal/domain/model"
	"github.com/spf13/cobra"
)

func newAnnotateCmd() *cobra.Command {
	var (
		detectionsPath string
		outPath        string
		strokeWidth    int
	)

	cmd := &cobra.Command{
		Use:   "annotate <image>",
		Short: "Draw detections from a JSON file onto an image locally",
		Long: `annotate renders boxes and captions the same way the service does, without
calling the service. The detections file holds the detector wire format:
[{"class": "battery", "confidence": 0.9, "bbox": [x1, y1, x2, y2]}, ...]`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(detectionsPath)
			if err != nil {
				return fmt.Errorf("failed to read detections: %w", err)
			}
			var wire []model.WireDetection
			if err := json.Unmarshal(raw, &wire); err != nil {
				return fmt.Errorf("%w: %v", model.ErrInvalidDetection, err)
			}
			dets, err := model.FromWire(wire)
			if err != nil {
				return err
			}
			if err := model.ValidateBatch(dets); err != nil {
				return err
			}

			src, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read image: %w", err)
			}
			img, err := render.DecodeBytes(src)
			if err != nil {
				return err
			}

			annotated, err := render.New(render.WithStrokeWidth(strokeWidth)).Render(img, dets)
			if err != nil {
				return err
			}

			if outPath == "" {
				outPath = filepath.Join(filepath.Dir(args[0]), "annotated_"+filepath.Base(args[0]))
			}
			data, err := render.EncodeBytes(annotated, outPath)
			if err != nil {
				return err
			}
			if err := os.WriteFile(outPath, data, 0o644); err != nil {
				return fmt.Errorf("failed to write %s: %w", outPath, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s with %d detection(s)\n", outPath, len(dets))
			return nil
		},
	}

	cmd.Flags().StringVar(&detectionsPath, "detections", "", "JSON file with detections")
	cmd.Flags().StringVar(&outPath, "out", "", "Output image path (format from extension)")
	cmd.Flags().IntVar(&strokeWidth, "stroke-width", 2, "Box outline width in pixels")
	_ = cmd.MarkFlagRequired("detections")
	return cmd
}
