package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/deploymenttheory/go-wsi-deid/pkg/app/inspect"
)

var infoTags bool

var infoCmd = &cobra.Command{
	Use:   "info [slide-file...]",
	Short: "Describe a slide's format, metadata and TIFF layout",
	Long: `Print the detected format, scanner model, associated images and
vendor metadata of a slide, plus the directory layout of TIFF based files.

Examples:
  # Summarize a slide
  wsi-deid info slide.svs

  # Dump every TIFF entry as yaml
  wsi-deid info slide.ndpi --tags -o yaml`,

	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInfo(args)
	},
}

func init() {
	rootCmd.AddCommand(infoCmd)

	infoCmd.Flags().BoolVarP(&infoTags, "tags", "t", false, "include every TIFF entry")
}

func runInfo(paths []string) error {
	ctx := newContext()

	response, err := inspect.Handle(ctx, &inspect.Request{Paths: paths, Tags: infoTags})
	if err != nil {
		return err
	}
	return inspect.FormatOutput(os.Stdout, response, ctx.OutputFormat)
}
