package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/deploymenttheory/go-wsi-deid/pkg/app"
)

var (
	// Global output flags only
	verbose      bool
	quiet        bool
	outputFormat string
	configPath   string
)

var rootCmd = &cobra.Command{
	Use:   "wsi-deid",
	Short: "Whole slide image de-identification",
	Long: `wsi-deid writes redacted copies of whole slide images.

Aperio SVS, Hamamatsu NDPI, Philips TIFF, OME-TIFF and DICOM WSI series
are supported. Identifying metadata is removed or replaced, labels are
replaced by a titled image and macros can be blacked out or dropped.

Commands:
  redact      Write a de-identified copy of a slide
  info        Describe a slide's format, metadata and TIFF layout
  concat      Join the directory chains of several TIFF files`,
	Version:       app.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress output except errors")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "output format (table, json, yaml)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default: search for wsi-deid-config.yaml)")
	rootCmd.MarkFlagsMutuallyExclusive("verbose", "quiet")
}

// newContext builds the application context from the global flags
func newContext() *app.Context {
	ctx := app.NewContext()
	ctx.OutputFormat = outputFormat
	ctx.Verbose = verbose
	ctx.Quiet = quiet
	ctx.ConfigureLogger(os.Stderr)
	return ctx
}
