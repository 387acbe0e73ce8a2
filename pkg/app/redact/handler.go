package redact

import (
	"os"
	"path/filepath"
	"time"

	"github.com/deploymenttheory/go-wsi-deid/internal/config"
	"github.com/deploymenttheory/go-wsi-deid/internal/policy"
	"github.com/deploymenttheory/go-wsi-deid/internal/services"
	"github.com/deploymenttheory/go-wsi-deid/pkg/app"
)

// Handle processes a redaction request
func Handle(ctx *app.Context, req *Request) (*Response, error) {
	startTime := time.Now()

	// 1. Validate request
	if err := req.Validate(); err != nil {
		return nil, err
	}
	fields, _ := ParseFields(req.Fields)

	ctx.Log("starting redaction", "paths", req.Paths, "out", req.OutDir)
	ctx.Progress("Loading configuration...", 5)

	// 2. Load configuration and the caller's list
	cfg, err := config.Load(req.ConfigPath)
	if err != nil {
		return nil, app.NewError(app.KindInvalidInput, "failed to load configuration", err)
	}
	var list *policy.RedactionList
	if req.ListPath != "" {
		if list, err = policy.LoadRedactionList(req.ListPath); err != nil {
			return nil, err
		}
		ctx.Log("loaded redaction list", "path", req.ListPath, "metadata", len(list.Metadata), "images", len(list.Images))
	}

	// 3. Redact
	ctx.Progress("Redacting...", 20)
	svc, err := services.NewRedactionService(cfg, ctx.Logger)
	if err != nil {
		return nil, err
	}
	item := services.Item{
		Name:               req.Name,
		Paths:              req.Paths,
		RedactList:         list,
		PreviouslyRedacted: req.PreviouslyRedacted,
		UploadFields:       fields,
	}
	result, err := svc.Redact(ctx, item, req.OutDir)
	if err != nil {
		return nil, err
	}

	ctx.Progress("Collecting results...", 90)
	response := &Response{
		Name: req.Name,
		Info: result.Info,
	}
	if response.Name == "" {
		response.Name = filepath.Base(req.Paths[0])
	}
	for _, out := range result.Info.Outputs {
		info, err := os.Stat(out.Path)
		if err != nil {
			return nil, app.IOError("failed to stat "+out.Path, err)
		}
		response.Outputs = append(response.Outputs, OutputResult{Path: out.Path, Size: info.Size(), BLAKE3: out.BLAKE3})
	}
	response.Elapsed = time.Since(startTime)

	ctx.Progress("Complete", 100)
	ctx.Log("redaction completed", "outputs", len(response.Outputs), "elapsed", response.Elapsed)
	return response, nil
}
