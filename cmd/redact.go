package cmd

import (
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/deploymenttheory/go-wsi-deid/pkg/app/redact"
)

var (
	redactOutDir             string
	redactListPath           string
	redactName               string
	redactPreviouslyRedacted bool
	redactFields             []string
)

var redactCmd = &cobra.Command{
	Use:   "redact [slide-file...]",
	Short: "Write a de-identified copy of a slide",
	Long: `Redact a whole slide image into an output directory.

A DICOM slide is given as every file of its series; other formats take
a single file. The redaction list is a JSON or YAML file of the form
{"metadata": {"<key>": {"value": "..."}}, "images": {"macro": {}}}.

Examples:
  # Redact with the standard rules only
  wsi-deid redact slide.svs --out ./redacted

  # Apply a reviewer's list and embed upload fields
  wsi-deid redact slide.ndpi --out ./redacted --list review.yaml --field Batch=7

  # Redact a DICOM series
  wsi-deid redact series/*.dcm --out ./redacted --name case-11`,

	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRedact(args)
	},
}

func init() {
	rootCmd.AddCommand(redactCmd)

	redactCmd.Flags().StringVarP(&redactOutDir, "out", "d", "", "output directory (required)")
	redactCmd.MarkFlagRequired("out")
	redactCmd.Flags().StringVarP(&redactListPath, "list", "l", "", "redaction list file (json or yaml)")
	redactCmd.Flags().StringVarP(&redactName, "name", "n", "", "item name used for the generated title")
	redactCmd.Flags().BoolVar(&redactPreviouslyRedacted, "previously-redacted", false, "mark the label title as a re-redaction")
	redactCmd.Flags().StringArrayVar(&redactFields, "field", nil, "upload field embedded in the image (key=value, repeatable)")
}

func runRedact(paths []string) error {
	ctx := newContext()
	ctx, cancel := ctx.WithCancel()
	defer cancel()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	defer signal.Stop(interrupt)
	go func() {
		select {
		case <-interrupt:
			cancel()
		case <-ctx.Done():
		}
	}()

	if ctx.Verbose {
		ctx.SetProgress(func(message string, percent int) {
			fmt.Fprintf(os.Stderr, "[%3d%%] %s\n", percent, message)
		})
	}

	request := &redact.Request{
		Paths:              paths,
		OutDir:             redactOutDir,
		ListPath:           redactListPath,
		Name:               redactName,
		PreviouslyRedacted: redactPreviouslyRedacted,
		Fields:             redactFields,
		ConfigPath:         configPath,
	}

	response, err := redact.Handle(ctx, request)
	if err != nil {
		return err
	}

	if ctx.Quiet {
		return nil
	}
	if err := redact.FormatOutput(os.Stdout, response, ctx.OutputFormat); err != nil {
		return err
	}
	if ctx.Verbose {
		fmt.Fprintln(os.Stderr, redact.FormatSummary(response))
	}
	return nil
}
