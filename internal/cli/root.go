// Package cli implements the ewaste-cli command tree.
package cli

import (
	"time"

	"github.com/okian/ewaste/internal/client"
	"github.com/spf13/cobra"
)

const (
	defaultServiceURL = "http://localhost:5000"
	defaultTimeout    = 60 * time.Second
)

type rootOptions struct {
	ServiceURL string
	Timeout    time.Duration
}

func (o *rootOptions) client() (*client.Client, error) {
	return client.New(o.ServiceURL, client.WithTimeout(o.Timeout))
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:           "ewaste-cli",
		Short:         "Operate and inspect the e-waste advisory service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&opts.ServiceURL, "url", defaultServiceURL, "Base URL of the advisory service")
	rootCmd.PersistentFlags().DurationVar(&opts.Timeout, "timeout", defaultTimeout, "HTTP request timeout")

	rootCmd.AddCommand(
		newDetectCmd(opts),
		newStatsCmd(opts),
		newAnnotateCmd(),
		newKBCmd(),
	)
	return rootCmd
}
