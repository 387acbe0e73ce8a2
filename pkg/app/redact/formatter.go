package redact

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"gopkg.in/yaml.v3"
)

// FormatOutput writes redaction results to w according to output format
func FormatOutput(w io.Writer, response *Response, format string) error {
	switch format {
	case "json":
		return formatJSON(w, response)
	case "yaml":
		return formatYAML(w, response)
	case "table":
		return formatTable(w, response)
	default:
		return fmt.Errorf("unsupported output format: %s", format)
	}
}

// formatTable formats results as a table
func formatTable(out io.Writer, response *Response) error {
	info := response.Info
	fmt.Fprintf(out, "Redacted %s (%s", response.Name, info.Format)
	if info.Model != "" {
		fmt.Fprintf(out, ", %s", info.Model)
	}
	fmt.Fprintf(out, ") in %v\n\n", response.Elapsed)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "PATH\tSIZE\tBLAKE3\n")
	fmt.Fprintf(w, "----\t----\t------\n")
	for _, o := range response.Outputs {
		fmt.Fprintf(w, "%s\t%s\t%s\n", o.Path, o.FormatSize(), o.BLAKE3)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(out, "\nRemoved: %d metadata fields, %d images\n",
		info.RedactionCount.Metadata, info.RedactionCount.Images)
	m := info.FieldCount.Metadata
	fmt.Fprintf(out, "Fields: %d visible, %d redactable, %d preset; %d associated images\n",
		m.Visible, m.Redactable, m.Automatic, info.FieldCount.Images)
	return nil
}

// formatJSON formats results as JSON
func formatJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

// formatYAML formats results as YAML
func formatYAML(w io.Writer, v any) error {
	encoder := yaml.NewEncoder(w)
	defer encoder.Close()
	encoder.SetIndent(2)
	return encoder.Encode(v)
}

// FormatSummary provides a brief summary for verbose output
func FormatSummary(response *Response) string {
	n := len(response.Outputs)
	summary := fmt.Sprintf("Wrote %d file", n)
	if n != 1 {
		summary += "s"
	}
	summary += fmt.Sprintf(" totaling %s", formatBytes(response.TotalSize()))
	summary += fmt.Sprintf(" in %v", response.Elapsed)
	return summary
}

// formatBytes formats byte count as human readable
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
