package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"runtime"

	"github.com/okian/ewaste/internal/client"
	"github.com/okian/ewaste/internal/domain/model"
	"github.com/spf13/cobra"
)

func newDetectCmd(root *rootOptions) *cobra.Command {
	var (
		confidence float64
		workers    int
		saveDir    string
		asJSON     bool
	)

	cmd := &cobra.Command{
		Use:   "detect <image>...",
		Short: "Upload images and print the detected items with advice",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if confidence < 0 || confidence > 1 {
				return fmt.Errorf("--confidence must be between 0 and 1, got %v", confidence)
			}
			c, err := root.client()
			if err != nil {
				return err
			}
			if saveDir != "" {
				if err := os.MkdirAll(saveDir, 0o755); err != nil {
					return fmt.Errorf("failed to create %s: %w", saveDir, err)
				}
			}

			results := c.DetectFiles(cmd.Context(), args, confidence, workers)

			failed := 0
			for _, r := range results {
				if r.Err != nil {
					failed++
					fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", r.Path, r.Err)
					continue
				}
				if saveDir != "" {
					if err := saveAnnotated(cmd, c, saveDir, r.Report); err != nil {
						failed++
						fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", r.Path, err)
					}
				}
				if !asJSON {
					printReport(cmd.OutOrStdout(), r.Path, r.Report)
				}
			}
			if asJSON {
				if err := writeJSONResults(cmd.OutOrStdout(), results); err != nil {
					return err
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d uploads failed", failed, len(results))
			}
			return nil
		},
	}

	cmd.Flags().Float64Var(&confidence, "confidence", 0, "Detection threshold in [0,1]; 0 uses the service default")
	cmd.Flags().IntVar(&workers, "workers", runtime.NumCPU(), "Concurrent uploads")
	cmd.Flags().StringVar(&saveDir, "save-annotated", "", "Directory to download annotated images into")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print reports as JSON")
	return cmd
}

func saveAnnotated(cmd *cobra.Command, c *client.Client, dir string, report model.Report) error {
	data, err := c.Image(cmd.Context(), report.AnnotatedImage)
	if err != nil {
		return fmt.Errorf("failed to download annotated image: %w", err)
	}
	dst := filepath.Join(dir, path.Base(report.AnnotatedImage))
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", dst, err)
	}
	return nil
}

func printReport(w io.Writer, src string, report model.Report) {
	fmt.Fprintf(w, "%s: %d item(s), annotated %s\n", src, len(report.Detections), report.AnnotatedImage)
	for _, d := range report.Detections {
		fmt.Fprintf(w, "  - %s (%.1f%%) at [%d %d %d %d]\n",
			d.Label, d.Confidence*100, d.Box.X1, d.Box.Y1, d.Box.X2, d.Box.Y2)
		printAdvice(w, "recycling", d.RecyclingSuggestions)
		printAdvice(w, "reuse", d.ReuseIdeas)
	}
}

func printAdvice(w io.Writer, title string, items []string) {
	if len(items) == 0 {
		fmt.Fprintf(w, "      %s: none available\n", title)
		return
	}
	fmt.Fprintf(w, "      %s:\n", title)
	for _, it := range items {
		fmt.Fprintf(w, "        * %s\n", it)
	}
}

type jsonResult struct {
	Path   string        `json:"path"`
	Report *model.Report `json:"report,omitempty"`
	Error  string        `json:"error,omitempty"`
}

func writeJSONResults(w io.Writer, results []client.Result) error {
	out := make([]jsonResult, 0, len(results))
	for _, r := range results {
		jr := jsonResult{Path: r.Path}
		if r.Err != nil {
			jr.Error = r.Err.Error()
		} else {
			jr.Report = &r.Report
		}
		out = append(out, jr)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
