package cli

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"

	"github.com/spf13/cobra"
)

func newStatsCmd(root *rootOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print the service processing statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := root.client()
			if err != nil {
				return err
			}
			s, err := c.Stats(cmd.Context())
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")
				return enc.Encode(s)
			}

			fmt.Fprintf(w, "Images processed:   %d\n", s.TotalProcessedImages)
			fmt.Fprintf(w, "Items detected:     %d\n", s.TotalDetections)
			fmt.Fprintf(w, "Average processing: %.3fs\n", s.ProcessingTimeAverage)
			for _, label := range slices.Sorted(maps.Keys(s.DetectionBreakdown)) {
				fmt.Fprintf(w, "  %-20s %d\n", label, s.DetectionBreakdown[label])
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print statistics as JSON")
	return cmd
}
