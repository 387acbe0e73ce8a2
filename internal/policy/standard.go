package policy

import (
	"path/filepath"
	"sort"
	"strings"

	"github.com/deploymenttheory/go-wsi-deid/internal/types"
	"github.com/deploymenttheory/go-wsi-deid/pkg/app"
)

// Metadata is the vendor metadata of one image: namespace -> key -> value.
// Field keys are formed as internal;<namespace>;<key>.
type Metadata map[string]map[string]string

// Get returns one value and whether it is present.
func (m Metadata) Get(namespace, key string) (string, bool) {
	v, ok := m[namespace][key]
	return v, ok
}

// Set stores one value, allocating the namespace.
func (m Metadata) Set(namespace, key, value string) {
	if m[namespace] == nil {
		m[namespace] = make(map[string]string)
	}
	m[namespace][key] = value
}

// FieldKey builds the redaction key of a metadata value.
func FieldKey(namespace, key string) string {
	return "internal;" + namespace + ";" + key
}

// Source is what the policy needs to know about an image.
type Source struct {
	Format   types.Format
	Metadata Metadata
	// TIFFTags holds directory 0 ASCII tags by tag name. It is nil for
	// containers that are not TIFF based.
	TIFFTags map[string]string
	// AssociatedImages lists the associated image keys present.
	AssociatedImages []string
}

// HasAssociatedImage reports whether the source carries key.
func (s *Source) HasAssociatedImage(key string) bool {
	for _, k := range s.AssociatedImages {
		if k == key {
			return true
		}
	}
	return false
}

// DeidInfo carries upload manifest fields that may be embedded in the
// redacted image.
type DeidInfo struct {
	Fields map[string]string
	// AllowList limits which fields are embedded. Nil embeds all fields.
	AllowList []string
}

// FieldDict returns the embedded fields keyed CustomField.<name>, with
// pipes replaced so values cannot break pipe-delimited containers.
func (d DeidInfo) FieldDict() map[string]string {
	out := make(map[string]string)
	allowed := make(map[string]bool, len(d.AllowList))
	for _, k := range d.AllowList {
		allowed[k] = true
	}
	for k, v := range d.Fields {
		if d.AllowList != nil && !allowed[k] {
			continue
		}
		out["CustomField."+k] = strings.ReplaceAll(v, "|", " ")
	}
	return out
}

// Field formats the provenance text stored in software fields: any prior
// content of prefix (minus an earlier marker from this tool), the tool
// marker, then the pipe-joined custom fields.
func (d DeidInfo) Field(prefix string) string {
	prefix = strings.TrimSpace(prefix)
	if i := strings.Index(prefix, app.Name); i >= 0 {
		prefix = strings.TrimSpace(prefix[:i])
	}
	if prefix != "" {
		prefix += "\n"
	}
	dict := d.FieldDict()
	keys := make([]string, 0, len(dict))
	for k := range dict {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, len(keys))
	for i, k := range keys {
		pairs[i] = k + " = " + dict[k]
	}
	return prefix + app.Marker() + "\n" + strings.Join(pairs, "|")
}

// TruncateDateTime zeroes month and day of a TIFF DateTime
// ("YYYY:MM:DD HH:MM:SS"). Values too short to carry a date are removed.
func TruncateDateTime(value string) *string {
	if len(value) < 10 {
		return nil
	}
	return Str(value[:5] + "01:01" + value[10:])
}

// TruncateCompactDate zeroes month and day of a YYYYMMDD[...] value,
// keeping anything after the date. Short values are removed.
func TruncateCompactDate(value string, keepSuffix bool) *string {
	value = strings.Trim(value, `"`)
	if len(value) < 8 {
		return nil
	}
	if keepSuffix {
		return Str(value[:4] + "0101" + value[8:])
	}
	return Str(value[:4] + "0101")
}

// titleKeys are checked in order for a caller-chosen title.
var titleKeys = []string{
	"internal;openslide;aperio.Title",
	"internal;openslide;hamamatsu.Reference",
	"internal;xml;PIIM_DP_SCANNER_OPERATOR_ID",
	"internal;omereduced;Image:0:Pixels:TiffData:0:UUID:FileName",
	"internal;omereduced;Image:1:Pixels:TiffData:0:UUID:FileName",
	"internal;omereduced;Image:2:Pixels:TiffData:0:UUID:FileName",
	"internal;omereduced;Image:0:Pixels:TiffData:0:UUID:text",
	"internal;omereduced;Image:1:Pixels:TiffData:0:UUID:text",
	"internal;omereduced;Image:2:Pixels:TiffData:0:UUID:text",
	"internal;openslide;dicom.SeriesDescription",
	"internal;openslide;dicom.StudyDescription",
}

// GeneratedTitle returns the first non-empty title chosen in list, or the
// item name without any extensions.
func GeneratedTitle(list *RedactionList, name string) string {
	if list != nil {
		for _, key := range titleKeys {
			if e := list.Metadata[key]; e != nil && e.Value != nil && *e.Value != "" {
				return *e.Value
			}
		}
	}
	return StripAllExtensions(name)
}

// StripAllExtensions removes every dotted suffix from a file name.
func StripAllExtensions(name string) string {
	base := filepath.Base(name)
	if i := strings.Index(base, "."); i > 0 {
		return base[:i]
	}
	return base
}

// ModelInformation returns the scanner model or the best substitute.
func ModelInformation(meta Metadata) string {
	for _, key := range []string{"aperio.ScanScope ID", "hamamatsu.Product", "dicom.ManufacturerModelName", "dicom.DeviceSerialNumber"} {
		if v := meta["openslide"][key]; v != "" {
			return v
		}
	}
	for _, key := range []string{"DICOM_MANUFACTURERS_MODEL_NAME", "DICOM_DEVICE_SERIAL_NUMBER"} {
		if v := meta["xml"][key]; v != "" {
			return v
		}
	}
	return meta["omereduced"]["Series 0 ScanScope ID"]
}

// StandardRedactions builds the default redactions for src: format
// specific entries plus generic TIFF tag handling.
func StandardRedactions(src *Source, title string, deid DeidInfo) *RedactionList {
	var l *RedactionList
	switch src.Format {
	case types.FormatAperio:
		l = aperioRedactions(src, title, deid)
	case types.FormatHamamatsu:
		l = hamamatsuRedactions(src, title, deid)
	case types.FormatPhilips:
		l = philipsRedactions(src, title, deid)
	case types.FormatDICOM:
		l = dicomRedactions(src, title)
	case types.FormatOMETIFF:
		l = omeRedactions(src, title)
	default:
		l = NewRedactionList()
	}

	if src.TIFFTags != nil {
		if v, ok := src.TIFFTags["DateTime"]; ok {
			l.Metadata["internal;openslide;tiff.DateTime"] = System(TruncateDateTime(v))
		}
		for _, name := range []string{"Copyright", "HostComputer"} {
			if _, ok := src.TIFFTags[name]; ok {
				l.Metadata["internal;openslide;tiff."+name] = AutomaticRemoval()
			}
		}
	}
	return l
}

func aperioRedactions(src *Source, title string, deid DeidInfo) *RedactionList {
	l := NewRedactionList()
	meta := src.Metadata["openslide"]
	for _, key := range []string{"aperio.Filename", "aperio.ImageID", "aperio.Title"} {
		l.Metadata[FieldKey("openslide", key)] = System(Str(title))
	}
	l.Metadata["internal;openslide;tiff.Software"] = System(Str(deid.Field(meta["tiff.Software"])))
	if date := meta["aperio.Date"]; date != "" {
		rest := ""
		if len(date) > 6 {
			rest = date[6:]
		}
		l.Metadata["internal;openslide;aperio.Date"] = System(Str("01/01/" + rest))
	}
	for _, key := range []string{"aperio.DSR ID", "aperio.Time", "aperio.Time Zone", "aperio.User"} {
		if meta[key] != "" {
			l.Metadata[FieldKey("openslide", key)] = AutomaticRemoval()
		}
	}
	return l
}

func hamamatsuRedactions(src *Source, title string, deid DeidInfo) *RedactionList {
	l := NewRedactionList()
	meta := src.Metadata["openslide"]
	l.Metadata["internal;openslide;hamamatsu.Reference"] = System(Str(title))
	l.Metadata["internal;openslide;tiff.Software"] = System(Str(deid.Field(meta["tiff.Software"])))
	for _, key := range []string{"hamamatsu.Created", "hamamatsu.Updated"} {
		if v := meta[key]; v != "" {
			year := v
			if len(year) > 4 {
				year = year[:4]
			}
			l.Metadata[FieldKey("openslide", key)] = &Entry{Value: Str(year + "/01/01")}
		}
	}
	return l
}

func philipsRedactions(src *Source, title string, deid DeidInfo) *RedactionList {
	l := NewRedactionList()
	meta := src.Metadata["xml"]
	l.Metadata["internal;xml;PIIM_DP_SCANNER_OPERATOR_ID"] = System(Str(title))
	l.Metadata["internal;xml;PIM_DP_UFS_BARCODE"] = System(Str(title + "|" + deid.Field("")))
	l.Metadata["internal;tiff;software"] = System(Str(deid.Field(src.Metadata["tiff"]["software"])))
	if v := meta["DICOM_DATE_OF_LAST_CALIBRATION"]; v != "" {
		l.Metadata["internal;xml;DICOM_DATE_OF_LAST_CALIBRATION"] = System(TruncateCompactDate(v, false))
	}
	if v := meta["DICOM_ACQUISITION_DATETIME"]; v != "" {
		l.Metadata["internal;xml;DICOM_ACQUISITION_DATETIME"] = System(TruncateCompactDate(v, true))
	}
	return l
}

func dicomRedactions(src *Source, title string) *RedactionList {
	l := NewRedactionList()
	l.Metadata["internal;openslide;dicom.SeriesDescription"] = System(Str(title))
	l.Metadata["internal;openslide;dicom.StudyDescription"] = System(Str(title))
	if v := src.Metadata["openslide"]["dicom.ContentDate"]; v != "" {
		year := v
		if len(year) > 4 {
			year = year[:4]
		}
		l.Metadata["internal;openslide;dicom.ContentDate"] = &Entry{Value: Str(year + "0101")}
	}
	return l
}

func omeRedactions(src *Source, title string) *RedactionList {
	l := NewRedactionList()
	meta := src.Metadata["omereduced"]
	for _, key := range []string{
		"Image:0:Pixels:TiffData:0:UUID:FileName",
		"Image:1:Pixels:TiffData:0:UUID:FileName",
		"Image:2:Pixels:TiffData:0:UUID:FileName",
		"Image:0:Pixels:TiffData:0:UUID:text",
		"Image:1:Pixels:TiffData:0:UUID:text",
		"Image:2:Pixels:TiffData:0:UUID:text",
		"Series 0 Filename",
	} {
		if _, ok := meta[key]; ok {
			l.Metadata[FieldKey("omereduced", key)] = System(Str(title))
		}
	}
	if v, ok := meta["Series 0 Date"]; ok {
		rest := ""
		if len(v) > 6 {
			rest = v[6:]
		}
		l.Metadata["internal;omereduced;Series 0 Date"] = System(Str("01/01/" + rest))
	}
	for _, key := range []string{"Series 0 DSR ID", "Series 0 Time", "Series 0 Time Zone", "Series 0 ImageID", "Series 0 User", "UUID"} {
		if _, ok := meta[key]; ok {
			l.Metadata[FieldKey("omereduced", key)] = AutomaticRemoval()
		}
	}
	return l
}
