package cli

import (
	"fmt"
	"io"

	"github.com/okian/ewaste/internal/domain/advisory"
	"github.com/spf13/cobra"
)

func newKBCmd() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "kb [label]...",
		Short: "Show how labels resolve against the knowledge base",
		Long:  "Without labels, kb lists the categories of each table in match order.",
		RunE: func(cmd *cobra.Command, args []string) error {
			kb := advisory.Default()
			if file != "" {
				loaded, err := advisory.LoadFile(file)
				if err != nil {
					return err
				}
				kb = loaded
			}

			w := cmd.OutOrStdout()
			if len(args) == 0 {
				fmt.Fprintf(w, "%s: %v\n", advisory.TableRecycling, kb.Recycling.Keys())
				fmt.Fprintf(w, "%s: %v\n", advisory.TableReuse, kb.Reuse.Keys())
				return nil
			}
			for _, label := range args {
				fmt.Fprintf(w, "%q\n", label)
				printMatch(w, kb.Recycling, label)
				printMatch(w, kb.Reuse, label)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "YAML knowledge base (default: built-in)")
	return cmd
}

func printMatch(w io.Writer, t *advisory.Table, label string) {
	cat, ok := t.Match(label)
	if !ok {
		fmt.Fprintf(w, "  %s: no match\n", t.Name())
		return
	}
	fmt.Fprintf(w, "  %s: %s\n", t.Name(), cat.Key)
	for _, it := range cat.Items {
		fmt.Fprintf(w, "    * %s\n", it)
	}
}
