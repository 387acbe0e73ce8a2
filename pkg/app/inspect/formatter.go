package inspect

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"gopkg.in/yaml.v3"

	"github.com/deploymenttheory/go-wsi-deid/internal/parsers/tiff"
)

// FormatOutput writes an inspection to w according to output format
func FormatOutput(w io.Writer, response *Response, format string) error {
	switch format {
	case "json":
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(response)
	case "yaml":
		encoder := yaml.NewEncoder(w)
		defer encoder.Close()
		encoder.SetIndent(2)
		return encoder.Encode(response)
	case "table":
		return formatTable(w, response)
	default:
		return fmt.Errorf("unsupported output format: %s", format)
	}
}

func formatTable(out io.Writer, response *Response) error {
	fmt.Fprintf(out, "%s\n", response.Path)
	fmt.Fprintf(out, "Format: %s\n", response.Format)
	if response.Model != "" {
		fmt.Fprintf(out, "Model: %s\n", response.Model)
	}
	if len(response.AssociatedImages) > 0 {
		fmt.Fprintf(out, "Associated images: %s\n", strings.Join(response.AssociatedImages, ", "))
	}

	if c := response.Container; c != nil {
		kind := "TIFF"
		if c.BigTIFF {
			kind = "BigTIFF"
		}
		fmt.Fprintf(out, "\n%s, %s, %d directories\n", kind, c.ByteOrder, len(c.Directories))
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "IFD\tOFFSET\tSIZE\tSUBIFDS\n")
		for i, d := range c.Directories {
			fmt.Fprintf(w, "%d\t%d\t%dx%d\t%d\n", i, d.Offset, d.Width, d.Height, len(d.SubDirectories))
		}
		if err := w.Flush(); err != nil {
			return err
		}
		for i, d := range c.Directories {
			writeTags(out, fmt.Sprintf("IFD %d", i), d.Tags)
		}
	}

	fmt.Fprintf(out, "\nMetadata:\n")
	namespaces := make([]string, 0, len(response.Metadata))
	for ns := range response.Metadata {
		namespaces = append(namespaces, ns)
	}
	sort.Strings(namespaces)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	for _, ns := range namespaces {
		fields := response.Metadata[ns]
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(w, "  %s;%s\t%s\n", ns, k, oneLine(fields[k]))
		}
	}
	return w.Flush()
}

func writeTags(out io.Writer, title string, tags []tiff.TagSummary) {
	if len(tags) == 0 {
		return
	}
	fmt.Fprintf(out, "\n%s:\n", title)
	for _, t := range tags {
		fmt.Fprintf(out, "  %d %s %s[%d]: %s\n", t.Tag, t.Name, t.Datatype, t.Count, oneLine(t.Value))
	}
}

func oneLine(s string) string {
	s = strings.ReplaceAll(s, "\n", `\n`)
	if len(s) > 120 {
		s = s[:117] + "..."
	}
	return s
}
