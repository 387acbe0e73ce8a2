package formats

import (
	"context"
	"fmt"
	"image"
	"io"
	"log/slog"
	"math/big"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/frame"
	"github.com/suyashkumar/dicom/pkg/tag"

	"github.com/deploymenttheory/go-wsi-deid/internal/imaging"
	"github.com/deploymenttheory/go-wsi-deid/internal/interfaces"
	"github.com/deploymenttheory/go-wsi-deid/internal/policy"
	"github.com/deploymenttheory/go-wsi-deid/internal/types"
	"github.com/deploymenttheory/go-wsi-deid/pkg/app"
)

const (
	dicomPrefix = "internal;openslide;dicom."

	// dicomSOPClassWSI is VL Whole Slide Microscopy Image Storage.
	dicomSOPClassWSI = "1.2.840.10008.5.1.4.1.1.77.1.6"
	// dicomJPEGBaseline is the JPEG Baseline (Process 1) transfer syntax.
	dicomJPEGBaseline = "1.2.840.10008.1.2.4.50"
)

// dicomImageTypes maps associated image keys to ImageType values.
var dicomImageTypes = map[string]string{
	"label": "LABEL",
	"macro": "OVERVIEW",
}

// dicomEmptyDefaults are copied from the reference dataset or written
// empty.
var dicomEmptyDefaults = []string{
	"AcquisitionDateTime", "ReferringPhysicianName", "PatientID",
	"PatientName", "PatientBirthDate", "PatientSex", "StudyID",
}

// dicomUnknownDefaults are copied from the reference dataset or written
// as "Unknown".
var dicomUnknownDefaults = []string{
	"Manufacturer", "ManufacturerModelName", "DeviceSerialNumber",
	"SoftwareVersions", "ContainerIdentifier",
}

// dicomCopied are copied from the reference dataset when present.
var dicomCopied = []string{
	"DimensionOrganizationSequence", "IssuerOfTheContainerIdentifierSequence",
	"AcquisitionContextSequence", "SpecimenDescriptionSequence",
	"OpticalPathSequence", "NumberOfOpticalPaths",
	"TotalPixelMatrixFocalPlanes", "SharedFunctionalGroupsSequence",
}

// implementationClassUID identifies files written by this tool.
var implementationClassUID = uidFromUUID(uuid.NewSHA1(uuid.NameSpaceOID, []byte(app.Name)))

// uidFromUUID renders u as a 2.25 OID.
func uidFromUUID(u uuid.UUID) string {
	return "2.25." + new(big.Int).SetBytes(u[:]).String()
}

// NewUID mints a random 2.25 instance UID.
func NewUID() string {
	return uidFromUUID(uuid.New())
}

// DICOMHandler redacts DICOM whole-slide series.
type DICOMHandler struct {
	logger *slog.Logger
}

// NewDICOMHandler creates a DICOMHandler.
func NewDICOMHandler(logger *slog.Logger) *DICOMHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &DICOMHandler{logger: logger.With("format", types.FormatDICOM.String())}
}

// Format returns types.FormatDICOM.
func (h *DICOMHandler) Format() types.Format {
	return types.FormatDICOM
}

// StandardRedactions returns the DICOM defaults.
func (h *DICOMHandler) StandardRedactions(src *policy.Source, title string, deid policy.DeidInfo) *policy.RedactionList {
	return policy.StandardRedactions(src, title, deid)
}

// Model returns the scanner model.
func (h *DICOMHandler) Model(src *policy.Source) string {
	return policy.ModelInformation(src.Metadata)
}

// lookupTag resolves a DICOM keyword.
func lookupTag(keyword string) (tag.Tag, error) {
	info, err := tag.FindByName(keyword)
	if err != nil {
		return tag.Tag{}, fmt.Errorf("unknown DICOM keyword %s: %w", keyword, err)
	}
	return info.Tag, nil
}

// keywordOf names an element's tag, or returns "" for private tags.
func keywordOf(t tag.Tag) string {
	info, err := tag.Find(t)
	if err != nil {
		return ""
	}
	return info.Name
}

func findElement(ds *dicom.Dataset, keyword string) *dicom.Element {
	t, err := lookupTag(keyword)
	if err != nil {
		return nil
	}
	el, err := ds.FindElementByTag(t)
	if err != nil {
		return nil
	}
	return el
}

// elementString renders string and numeric values, multiple values
// joined with a backslash.
func elementString(el *dicom.Element) (string, bool) {
	if el == nil || el.Value == nil {
		return "", false
	}
	switch v := el.Value.GetValue().(type) {
	case []string:
		return strings.Join(v, `\`), true
	case []int:
		parts := make([]string, len(v))
		for i, n := range v {
			parts[i] = strconv.Itoa(n)
		}
		return strings.Join(parts, `\`), true
	case []float64:
		parts := make([]string, len(v))
		for i, n := range v {
			parts[i] = strconv.FormatFloat(n, 'g', -1, 64)
		}
		return strings.Join(parts, `\`), true
	}
	return "", false
}

func datasetString(ds *dicom.Dataset, keyword string) (string, bool) {
	return elementString(findElement(ds, keyword))
}

// imageTypes returns the ImageType values of ds.
func imageTypes(ds *dicom.Dataset) []string {
	el := findElement(ds, "ImageType")
	if el == nil {
		return nil
	}
	v, _ := el.Value.GetValue().([]string)
	return v
}

// associatedKeyOf returns label, macro or "" for a dataset.
func associatedKeyOf(ds *dicom.Dataset) string {
	for _, t := range imageTypes(ds) {
		for key, want := range dicomImageTypes {
			if strings.TrimSpace(t) == want {
				return key
			}
		}
	}
	return ""
}

func (h *DICOMHandler) parse(path string, pixels bool) (*dicom.Dataset, error) {
	var opts []dicom.ParseOption
	if !pixels {
		opts = append(opts, dicom.SkipPixelData())
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, app.IOError("failed to open "+path, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, app.IOError("failed to stat "+path, err)
	}
	ds, err := dicom.Parse(f, info.Size(), nil, opts...)
	if err != nil {
		return nil, app.NewError(app.KindFormat, "failed to parse DICOM file "+path, err)
	}
	return &ds, nil
}

// Metadata reports the string elements of the first primary file as
// dicom.<Keyword>, and lists label and macro files.
func (h *DICOMHandler) Metadata(slide *interfaces.Slide) (*policy.Source, error) {
	src := &policy.Source{Format: types.FormatDICOM, Metadata: policy.Metadata{}}
	src.Metadata.Set("openslide", "openslide.vendor", types.FormatDICOM.String())
	var primary *dicom.Dataset
	for _, path := range slide.Paths {
		ds, err := h.parse(path, false)
		if err != nil {
			return nil, err
		}
		key := associatedKeyOf(ds)
		if key != "" && !src.HasAssociatedImage(key) {
			src.AssociatedImages = append(src.AssociatedImages, key)
		}
		if key == "" && primary == nil {
			primary = ds
		}
	}
	if primary == nil {
		return nil, app.FormatError("DICOM series %s has no primary image", slide.Name)
	}
	for _, el := range primary.Elements {
		if el.Tag.Group == 0x0002 {
			continue
		}
		keyword := keywordOf(el.Tag)
		if keyword == "" || keyword == "PixelData" {
			continue
		}
		if v, ok := elementString(el); ok {
			src.Metadata.Set("openslide", "dicom."+keyword, v)
		}
	}
	sort.Strings(src.AssociatedImages)
	return src, nil
}

// AssociatedImage decodes the first frame of the file whose ImageType
// marks key.
func (h *DICOMHandler) AssociatedImage(slide *interfaces.Slide, key string) (image.Image, error) {
	for _, path := range slide.Paths {
		ds, err := h.parse(path, false)
		if err != nil {
			return nil, err
		}
		if associatedKeyOf(ds) != key {
			continue
		}
		if ds, err = h.parse(path, true); err != nil {
			return nil, err
		}
		el := findElement(ds, "PixelData")
		if el == nil {
			break
		}
		info, ok := el.Value.GetValue().(dicom.PixelDataInfo)
		if !ok || len(info.Frames) == 0 {
			break
		}
		img, err := info.Frames[0].GetImage()
		if err != nil {
			return nil, app.NewError(app.KindFormat, "failed to decode "+key+" frame", err)
		}
		return img, nil
	}
	return nil, app.NewError(app.KindInvalidInput, fmt.Sprintf("no %s image in %s", key, slide.Name), nil)
}

// Apply writes one <SOPInstanceUID>.dcm per kept file plus synthesized
// label and overview files.
func (h *DICOMHandler) Apply(ctx context.Context, slide *interfaces.Slide, plan *interfaces.Plan) ([]string, error) {
	if plan.List.WSIArea() != nil {
		return nil, app.UnsupportedFormatError("whole-slide area redaction of DICOM series")
	}
	edits := make(map[string]*string)
	for full, entry := range plan.List.Metadata {
		if keyword, ok := strings.CutPrefix(full, dicomPrefix); ok {
			edits[keyword] = entry.Value
		}
	}

	var dest []string
	existing := make(map[string]string)
	maxSeries := 0
	for _, path := range slide.Paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ds, err := h.parse(path, true)
		if err != nil {
			return nil, err
		}
		uid, ok := datasetString(ds, "SOPInstanceUID")
		if !ok || strings.TrimSpace(uid) == "" {
			uid = NewUID()
			h.logger.Warn("file has no SOPInstanceUID, assigning one", "path", path, "uid", uid)
			for _, keyword := range []string{"SOPInstanceUID", "MediaStorageSOPInstanceUID"} {
				if err := setElement(ds, keyword, []string{uid}); err != nil {
					return nil, err
				}
			}
		}
		uid = strings.TrimSpace(uid)
		out := filepath.Join(plan.WorkDir, uid+".dcm")
		key := associatedKeyOf(ds)
		if key != "" {
			if plan.List.HasImage(key) {
				h.logger.Debug("dropping associated file", "path", path, "key", key)
				continue
			}
			existing[key] = out
		}
		h.applyEdits(ds, edits)
		if key == "" {
			if err := setElement(ds, "ModifiedImageDescription", []string{plan.Deid.Field("")}); err != nil {
				h.logger.Warn("cannot record provenance", "path", path, "error", err)
			}
		}
		if err := writeDataset(out, ds); err != nil {
			return nil, err
		}
		dest = append(dest, out)
		if s, ok := datasetString(ds, "SeriesNumber"); ok {
			if n, err := strconv.Atoi(strings.TrimSpace(s)); err == nil && n > maxSeries {
				maxSeries = n
			}
		}
	}
	if len(dest) == 0 {
		return nil, app.FormatError("DICOM series %s has no files left to write", slide.Name)
	}

	for _, synth := range []struct {
		key    string
		img    image.Image
		series int
	}{
		{"label", plan.Label, maxSeries + 1},
		{"macro", plan.Macro, maxSeries + 2},
	} {
		if synth.img == nil {
			continue
		}
		path, err := h.writeImage(synth.img, existing[synth.key], dest[0], dicomImageTypes[synth.key], synth.series, plan.WorkDir)
		if err != nil {
			return nil, err
		}
		if !contains(dest, path) {
			dest = append(dest, path)
		}
	}
	h.logger.Info("wrote redacted series", "files", len(dest))
	return dest, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// applyEdits rewrites top-level elements by keyword. Nil or empty values
// remove the element.
func (h *DICOMHandler) applyEdits(ds *dicom.Dataset, edits map[string]*string) {
	kept := ds.Elements[:0]
	for _, el := range ds.Elements {
		value, ok := edits[keywordOf(el.Tag)]
		if !ok {
			kept = append(kept, el)
			continue
		}
		if value == nil || *value == "" {
			continue
		}
		if err := replaceValue(el, *value); err != nil {
			h.logger.Warn("cannot rewrite element", "tag", el.Tag.String(), "error", err)
		}
		kept = append(kept, el)
	}
	ds.Elements = kept
}

// replaceValue stores text in el, converted to the element's value type.
func replaceValue(el *dicom.Element, text string) error {
	var data any
	switch el.Value.GetValue().(type) {
	case []string:
		data = []string{text}
	case []int:
		n, err := strconv.Atoi(strings.TrimSpace(text))
		if err != nil {
			return err
		}
		data = []int{n}
	case []float64:
		f, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
		if err != nil {
			return err
		}
		data = []float64{f}
	default:
		return fmt.Errorf("element %s does not hold text", el.Tag)
	}
	v, err := dicom.NewValue(data)
	if err != nil {
		return err
	}
	el.Value = v
	return nil
}

// setElement adds or replaces the element named keyword.
func setElement(ds *dicom.Dataset, keyword string, data any) error {
	t, err := lookupTag(keyword)
	if err != nil {
		return err
	}
	el, err := dicom.NewElement(t, data)
	if err != nil {
		return fmt.Errorf("failed to build %s: %w", keyword, err)
	}
	for i, cur := range ds.Elements {
		if cur.Tag == t {
			ds.Elements[i] = el
			return nil
		}
	}
	ds.Elements = append(ds.Elements, el)
	return nil
}

// writeDataset writes ds to path with elements in ascending tag order.
func writeDataset(path string, ds *dicom.Dataset) error {
	sort.SliceStable(ds.Elements, func(i, j int) bool {
		a, b := ds.Elements[i].Tag, ds.Elements[j].Tag
		if a.Group != b.Group {
			return a.Group < b.Group
		}
		return a.Element < b.Element
	})
	return writeAtomic(path, func(w io.Writer) error {
		return dicom.Write(w, *ds, dicom.SkipVRVerification(), dicom.SkipValueTypeVerification())
	})
}

// writeAtomic assembles path in a sibling temporary file and renames it
// into place only when write succeeds. A failed write leaves any file
// already at path untouched.
func writeAtomic(path string, write func(w io.Writer) error) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return app.IOError("failed to create output next to "+path, err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if err = write(tmp); err != nil {
		return app.IOError("failed to write "+path, err)
	}
	if err = tmp.Close(); err != nil {
		return app.IOError("failed to close "+tmp.Name(), err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return app.IOError("failed to move output into place at "+path, err)
	}
	return nil
}

// writeImage synthesizes a single-frame JPEG dataset for img. An
// existing output path is replaced in place, keeping its instance UID
// and series number; otherwise a new UID names the file. The file name
// and the embedded SOPInstanceUID always agree.
func (h *DICOMHandler) writeImage(img image.Image, existing, reference, imageType string, series int, workDir string) (string, error) {
	refPath := existing
	if refPath == "" {
		refPath = reference
	}
	ref, err := h.parse(refPath, false)
	if err != nil {
		return "", err
	}
	uid := NewUID()
	path := filepath.Join(workDir, uid+".dcm")
	if existing != "" {
		uid = strings.TrimSuffix(filepath.Base(existing), ".dcm")
		if v, ok := datasetString(ref, "SeriesNumber"); ok {
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				series = n
			}
		}
		path = existing
	}

	data, err := imaging.EncodeJPEG(img, defaultJPEGQuality)
	if err != nil {
		return "", err
	}
	b := img.Bounds()
	now := time.Now()
	refOr := func(keyword, fallback string) []string {
		if v, ok := datasetString(ref, keyword); ok {
			return []string{v}
		}
		return []string{fallback}
	}
	instance := "1"
	if v, ok := datasetString(ref, "InstanceNumber"); ok {
		instance = v
	}
	frameOfReference := NewUID()
	if v, ok := datasetString(ref, "FrameOfReferenceUID"); ok && v != "" {
		frameOfReference = v
	}

	ds := &dicom.Dataset{}
	fields := []struct {
		keyword string
		data    any
	}{
		{"MediaStorageSOPClassUID", []string{dicomSOPClassWSI}},
		{"MediaStorageSOPInstanceUID", []string{uid}},
		{"TransferSyntaxUID", []string{dicomJPEGBaseline}},
		{"ImplementationClassUID", []string{implementationClassUID}},
		{"ImplementationVersionName", []string{"WSI_DEID " + app.Version}},
		{"ImageType", []string{"ORIGINAL", "PRIMARY", imageType, "NONE"}},
		{"SOPClassUID", []string{dicomSOPClassWSI}},
		{"SOPInstanceUID", []string{uid}},
		{"StudyDate", refOr("StudyDate", now.Format("20060102"))},
		{"ContentDate", refOr("StudyDate", now.Format("20060102"))},
		{"StudyTime", refOr("StudyTime", now.Format("150405"))},
		{"ContentTime", refOr("StudyTime", now.Format("150405"))},
		{"Modality", []string{"SM"}},
		{"VolumetricProperties", []string{"VOLUME"}},
		{"StudyInstanceUID", refOr("StudyInstanceUID", NewUID())},
		{"SeriesInstanceUID", refOr("SeriesInstanceUID", NewUID())},
		{"SeriesNumber", []string{strconv.Itoa(series)}},
		{"InstanceNumber", []string{instance}},
		{"FrameOfReferenceUID", []string{frameOfReference}},
		{"PositionReferenceIndicator", []string{"SLIDE_CORNER"}},
		{"DimensionOrganizationType", refOr("DimensionOrganizationType", "TILED_FULL")},
		{"SamplesPerPixel", []int{3}},
		{"PhotometricInterpretation", []string{"YBR_FULL_422"}},
		{"PlanarConfiguration", []int{0}},
		{"NumberOfFrames", []string{"1"}},
		{"Rows", []int{b.Dy()}},
		{"Columns", []int{b.Dx()}},
		{"BitsAllocated", []int{8}},
		{"BitsStored", []int{8}},
		{"HighBit", []int{7}},
		{"PixelRepresentation", []int{0}},
		{"BurnedInAnnotation", []string{"YES"}},
		{"LossyImageCompression", []string{"01"}},
		{"LossyImageCompressionMethod", []string{"ISO_10918_1", "ISO_10918_1"}},
		{"TotalPixelMatrixColumns", []int{b.Dx()}},
		{"TotalPixelMatrixRows", []int{b.Dy()}},
		{"SpecimenLabelInImage", []string{"YES"}},
		{"FocusMethod", []string{"AUTO"}},
		{"ExtendedDepthOfField", []string{"NO"}},
	}
	for _, f := range fields {
		if err := setElement(ds, f.keyword, f.data); err != nil {
			return "", err
		}
	}
	copyOr := func(keyword, fallback string) error {
		if el := findElement(ref, keyword); el != nil {
			ds.Elements = append(ds.Elements, el)
			return nil
		}
		return setElement(ds, keyword, []string{fallback})
	}
	for _, keyword := range dicomEmptyDefaults {
		if err := copyOr(keyword, ""); err != nil {
			return "", err
		}
	}
	for _, keyword := range dicomUnknownDefaults {
		if err := copyOr(keyword, "Unknown"); err != nil {
			return "", err
		}
	}
	for _, keyword := range dicomCopied {
		if el := findElement(ref, keyword); el != nil {
			ds.Elements = append(ds.Elements, el)
		}
	}

	pixelTag, err := lookupTag("PixelData")
	if err != nil {
		return "", err
	}
	pixels, err := dicom.NewElement(pixelTag, dicom.PixelDataInfo{
		IsEncapsulated: true,
		Frames: []*frame.Frame{{
			Encapsulated:     true,
			EncapsulatedData: frame.EncapsulatedFrame{Data: data},
		}},
	})
	if err != nil {
		return "", fmt.Errorf("failed to build pixel data: %w", err)
	}
	ds.Elements = append(ds.Elements, pixels)

	if err := writeDataset(path, ds); err != nil {
		return "", err
	}
	h.logger.Debug("wrote synthesized image", "path", path, "type", imageType, "series", series)
	return path, nil
}
