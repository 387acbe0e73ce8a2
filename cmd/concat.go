package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/deploymenttheory/go-wsi-deid/internal/parsers/tiff"
)

var (
	concatBigTIFF   bool
	concatOverwrite bool
)

var concatCmd = &cobra.Command{
	Use:   "concat [output] [source...]",
	Short: "Join the directory chains of several TIFF files",
	Long: `Write the top-level directories of each source, in order, into a
single TIFF file. The output is BigTIFF when any source is or when
--bigtiff is set, and is promoted automatically when it outgrows 4 GiB.

Examples:
  wsi-deid concat joined.tif levels.tif label.tif macro.tif`,

	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runConcat(args[0], args[1:])
	},
}

func init() {
	rootCmd.AddCommand(concatCmd)

	concatCmd.Flags().BoolVar(&concatBigTIFF, "bigtiff", false, "always write BigTIFF")
	concatCmd.Flags().BoolVarP(&concatOverwrite, "force", "f", false, "overwrite an existing output")
}

func runConcat(dest string, sources []string) error {
	ctx := newContext()
	ctx.Log("concatenating", "sources", sources, "dest", dest)

	opts := tiff.WriteOptions{AllowExisting: concatOverwrite}
	if concatBigTIFF {
		opts.Big = &concatBigTIFF
	}
	if err := tiff.Concat(sources, dest, opts); err != nil {
		return err
	}
	if !ctx.Quiet {
		fmt.Printf("Wrote %s from %d files\n", dest, len(sources))
	}
	return nil
}
