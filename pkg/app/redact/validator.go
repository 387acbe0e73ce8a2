package redact

import (
	"fmt"
	"os"
	"strings"

	"github.com/deploymenttheory/go-wsi-deid/pkg/app"
)

// Validate validates a redaction request
func (r *Request) Validate() error {
	if len(r.Paths) == 0 {
		return app.NewError(app.KindInvalidInput, "at least one input file is required", nil)
	}
	for _, p := range r.Paths {
		info, err := os.Stat(p)
		if err != nil {
			return app.NewError(app.KindInvalidInput, "cannot read input "+p, err)
		}
		if info.IsDir() {
			return app.NewError(app.KindInvalidInput, p+" is a directory", nil)
		}
	}

	if r.OutDir == "" {
		return app.NewError(app.KindInvalidInput, "output directory is required", nil)
	}
	if info, err := os.Stat(r.OutDir); err == nil && !info.IsDir() {
		return app.NewError(app.KindInvalidInput, r.OutDir+" is not a directory", nil)
	}

	if r.ListPath != "" {
		if _, err := os.Stat(r.ListPath); err != nil {
			return app.NewError(app.KindInvalidInput, "cannot read redaction list", err)
		}
	}

	if _, err := ParseFields(r.Fields); err != nil {
		return app.NewError(app.KindInvalidInput, "invalid upload field", err)
	}
	return nil
}

// ParseFields converts key=value pairs into a map. Later keys win.
func ParseFields(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("expected key=value, got %q", pair)
		}
		out[key] = value
	}
	return out, nil
}
