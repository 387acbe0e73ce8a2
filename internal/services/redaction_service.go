package services

import (
	"context"
	"encoding/hex"
	"fmt"
	"image"
	"io"
	"log/slog"
	"os"

	"github.com/zeebo/blake3"

	"github.com/deploymenttheory/go-wsi-deid/internal/config"
	"github.com/deploymenttheory/go-wsi-deid/internal/formats"
	"github.com/deploymenttheory/go-wsi-deid/internal/imaging"
	"github.com/deploymenttheory/go-wsi-deid/internal/interfaces"
	"github.com/deploymenttheory/go-wsi-deid/internal/policy"
	"github.com/deploymenttheory/go-wsi-deid/pkg/app"
)

// RedactionService drives one slide through detection, policy, image
// preparation and the vendor handler.
type RedactionService struct {
	config *config.Config
	logger *slog.Logger
	titler *imaging.Titler
}

// NewRedactionService creates a new RedactionService instance
func NewRedactionService(cfg *config.Config, logger *slog.Logger) (*RedactionService, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedactionService{
		config: cfg,
		logger: logger,
		titler: imaging.DefaultTitler(),
	}, nil
}

// Redact writes a redacted copy of item into workDir and reports what
// changed. ctx is checked between stages; a started write runs to
// completion.
func (s *RedactionService) Redact(ctx context.Context, item Item, workDir string) (*Result, error) {
	if workDir == "" {
		return nil, app.NewError(app.KindInvalidInput, "work directory is required", nil)
	}
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, app.IOError("failed to create "+workDir, err)
	}

	slide, err := formats.Open(item.Name, item.Paths, s.logger)
	if err != nil {
		return nil, err
	}
	logger := s.logger.With("item", slide.Name, "format", slide.Format.String())
	handler, err := formats.HandlerFor(slide.Format, s.logger)
	if err != nil {
		return nil, err
	}
	src, err := handler.Metadata(slide)
	if err != nil {
		return nil, err
	}

	deid := s.config.DeidInfo(item.UploadFields)
	title := policy.GeneratedTitle(item.RedactList, slide.Name)
	list := policy.Merge(handler.StandardRedactions(src, title, deid), item.RedactList)
	logger.Info("prepared redaction list", "title", title, "metadata", len(list.Metadata), "images", len(list.Images))
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	label, err := s.prepareLabel(handler, slide, src, list, title, item.PreviouslyRedacted, logger)
	if err != nil {
		return nil, err
	}
	macro := s.prepareMacro(handler, slide, src, list, logger)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	plan := &interfaces.Plan{
		List:        list,
		Title:       title,
		Label:       label,
		Macro:       macro,
		Deid:        deid,
		WorkDir:     workDir,
		JPEGQuality: s.config.JPEGQuality,
		Workers:     s.config.Workers,
	}
	paths, err := handler.Apply(ctx, slide, plan)
	if err != nil {
		return nil, err
	}

	info, err := s.info(handler, src, list, paths)
	if err != nil {
		return nil, err
	}
	logger.Info("redacted slide", "outputs", len(paths), "removed_metadata", info.RedactionCount.Metadata)
	return &Result{Paths: paths, Info: info}, nil
}

// prepareLabel loads the label unless it is listed for removal or labels
// are always redacted, masks any drawn area, then adds the title bar.
// A listed label with a drawn area is still loaded so it can be masked.
func (s *RedactionService) prepareLabel(handler interfaces.RedactionHandler, slide *interfaces.Slide, src *policy.Source, list *policy.RedactionList, title string, previouslyRedacted bool, logger *slog.Logger) (image.Image, error) {
	entry, listed := list.Image("label")
	masked := listed && entry != nil && entry.GeoJSON != nil

	var label image.Image
	if (!listed && !s.config.AlwaysRedactLabel) || masked {
		label = s.loadAssociated(handler, slide, src, "label", logger)
	}
	if label != nil && masked {
		label = asImage(imaging.RedactArea(label, imaging.Polygons(entry.GeoJSON)))
		logger.Debug("masked label area")
	}
	if !s.config.AddTitleToLabel {
		return label, nil
	}
	opts, err := s.config.TitleOptions(previouslyRedacted)
	if err != nil {
		return nil, err
	}
	titled, layout, err := s.titler.AddTitle(label, title, opts)
	if err != nil {
		return nil, err
	}
	logger.Debug("added label title", "font_size", layout.FontSize, "iterations", layout.Iterations)
	return asImage(titled), nil
}

// prepareMacro blacks out the top-left corner when configured or
// requested for a listed macro; otherwise masks any drawn area.
func (s *RedactionService) prepareMacro(handler interfaces.RedactionHandler, slide *interfaces.Slide, src *policy.Source, list *policy.RedactionList, logger *slog.Logger) image.Image {
	entry, listed := list.Image("macro")
	square := (!listed && s.config.RedactMacroSquare) || (listed && entry != nil && entry.Square)
	masked := listed && entry != nil && entry.GeoJSON != nil
	if !square && !masked {
		return nil
	}
	macro := s.loadAssociated(handler, slide, src, "macro", logger)
	if macro == nil {
		return nil
	}
	if square {
		logger.Debug("blacking out macro corner")
		return asImage(imaging.RedactTopLeftCorner(macro, s.config.RedactMacroLongAxisPercent, s.config.RedactMacroShortAxisPercent))
	}
	logger.Debug("masked macro area")
	return asImage(imaging.RedactArea(macro, imaging.Polygons(entry.GeoJSON)))
}

// loadAssociated decodes an associated image, logging and returning nil
// when it is absent or unreadable.
func (s *RedactionService) loadAssociated(handler interfaces.RedactionHandler, slide *interfaces.Slide, src *policy.Source, key string, logger *slog.Logger) image.Image {
	if !src.HasAssociatedImage(key) {
		return nil
	}
	img, err := handler.AssociatedImage(slide, key)
	if err != nil {
		logger.Warn("cannot read associated image", "key", key, "error", err)
		return nil
	}
	return img
}

// asImage avoids a typed nil inside the image.Image interface.
func asImage(img *image.RGBA) image.Image {
	if img == nil {
		return nil
	}
	return img
}

func (s *RedactionService) info(handler interfaces.RedactionHandler, src *policy.Source, list *policy.RedactionList, paths []string) (*Info, error) {
	patterns, err := s.config.Patterns(src.Format)
	if err != nil {
		return nil, err
	}
	info := &Info{
		Format:         src.Format.String(),
		Model:          handler.Model(src),
		Mimetype:       src.Format.Mimetype(),
		RedactionCount: list.Count(),
		FieldCount:     policy.CountFields(src, list, patterns),
	}
	for _, path := range paths {
		sum, err := FileDigest(path)
		if err != nil {
			return nil, err
		}
		info.Outputs = append(info.Outputs, Output{Path: path, BLAKE3: sum})
	}
	return info, nil
}

// FileDigest returns the hex BLAKE3 digest of a file.
func FileDigest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", app.IOError("failed to open "+path, err)
	}
	defer f.Close()
	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", app.IOError("failed to hash "+path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
