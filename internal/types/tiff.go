package types

import (
	"fmt"
	"strings"
)

// Datatype is the on-disk type code of a TIFF directory entry.
type Datatype uint16

const (
	DatatypeByte      Datatype = 1
	DatatypeASCII     Datatype = 2
	DatatypeShort     Datatype = 3
	DatatypeLong      Datatype = 4
	DatatypeRational  Datatype = 5
	DatatypeSByte     Datatype = 6
	DatatypeUndefined Datatype = 7
	DatatypeSShort    Datatype = 8
	DatatypeSLong     Datatype = 9
	DatatypeSRational Datatype = 10
	DatatypeFloat     Datatype = 11
	DatatypeDouble    Datatype = 12
	DatatypeIFD       Datatype = 13
	DatatypeLong8     Datatype = 16
	DatatypeSLong8    Datatype = 17
	DatatypeIFD8      Datatype = 18
)

var datatypeSizes = map[Datatype]int{
	DatatypeByte:      1,
	DatatypeASCII:     1,
	DatatypeShort:     2,
	DatatypeLong:      4,
	DatatypeRational:  8,
	DatatypeSByte:     1,
	DatatypeUndefined: 1,
	DatatypeSShort:    2,
	DatatypeSLong:     4,
	DatatypeSRational: 8,
	DatatypeFloat:     4,
	DatatypeDouble:    8,
	DatatypeIFD:       4,
	DatatypeLong8:     8,
	DatatypeSLong8:    8,
	DatatypeIFD8:      8,
}

var datatypeNames = map[Datatype]string{
	DatatypeByte:      "BYTE",
	DatatypeASCII:     "ASCII",
	DatatypeShort:     "SHORT",
	DatatypeLong:      "LONG",
	DatatypeRational:  "RATIONAL",
	DatatypeSByte:     "SBYTE",
	DatatypeUndefined: "UNDEFINED",
	DatatypeSShort:    "SSHORT",
	DatatypeSLong:     "SLONG",
	DatatypeSRational: "SRATIONAL",
	DatatypeFloat:     "FLOAT",
	DatatypeDouble:    "DOUBLE",
	DatatypeIFD:       "IFD",
	DatatypeLong8:     "LONG8",
	DatatypeSLong8:    "SLONG8",
	DatatypeIFD8:      "IFD8",
}

// Valid reports whether d is a datatype the codec can pack and unpack.
func (d Datatype) Valid() bool {
	_, ok := datatypeSizes[d]
	return ok
}

// Size returns the encoded size in bytes of one value of the datatype.
// Rationals count as a single value of two 32-bit halves.
func (d Datatype) Size() int {
	return datatypeSizes[d]
}

func (d Datatype) String() string {
	if name, ok := datatypeNames[d]; ok {
		return name
	}
	return fmt.Sprintf("Datatype(%d)", uint16(d))
}

// Signed reports whether the datatype holds signed integers.
func (d Datatype) Signed() bool {
	switch d {
	case DatatypeSByte, DatatypeSShort, DatatypeSLong, DatatypeSLong8, DatatypeSRational:
		return true
	}
	return false
}

// Rational reports whether each value is a numerator/denominator pair.
func (d Datatype) Rational() bool {
	return d == DatatypeRational || d == DatatypeSRational
}

// Float reports whether the datatype holds IEEE floating point values.
func (d Datatype) Float() bool {
	return d == DatatypeFloat || d == DatatypeDouble
}

// TIFF header constants
const (
	TIFFByteOrderLittle = "II"
	TIFFByteOrderBig    = "MM"
	TIFFMagicClassic    = 0x2A
	TIFFMagicBig        = 0x2B

	// TIFFClassicEntrySize is the size of a classic directory entry
	TIFFClassicEntrySize = 12
	// TIFFBigEntrySize is the size of a BigTIFF directory entry
	TIFFBigEntrySize = 20
)

// Tag identifiers used by the codec and the vendor handlers.
const (
	TagNewSubfileType      uint16 = 254
	TagImageWidth          uint16 = 256
	TagImageLength         uint16 = 257
	TagBitsPerSample       uint16 = 258
	TagCompression         uint16 = 259
	TagPhotometric         uint16 = 262
	TagDocumentName        uint16 = 269
	TagImageDescription    uint16 = 270
	TagMake                uint16 = 271
	TagModel               uint16 = 272
	TagStripOffsets        uint16 = 273
	TagOrientation         uint16 = 274
	TagSamplesPerPixel     uint16 = 277
	TagRowsPerStrip        uint16 = 278
	TagStripByteCounts     uint16 = 279
	TagXResolution         uint16 = 282
	TagYResolution         uint16 = 283
	TagPlanarConfig        uint16 = 284
	TagFreeOffsets         uint16 = 288
	TagFreeByteCounts      uint16 = 289
	TagResolutionUnit      uint16 = 296
	TagSoftware            uint16 = 305
	TagDateTime            uint16 = 306
	TagArtist              uint16 = 315
	TagHostComputer        uint16 = 316
	TagPredictor           uint16 = 317
	TagTileWidth           uint16 = 322
	TagTileLength          uint16 = 323
	TagTileOffsets         uint16 = 324
	TagTileByteCounts      uint16 = 325
	TagSubIFD              uint16 = 330
	TagExtraSamples        uint16 = 338
	TagSampleFormat        uint16 = 339
	TagJPEGTables          uint16 = 347
	TagJPEGProc            uint16 = 512
	TagJPEGIFOffset        uint16 = 513
	TagJPEGIFByteCount     uint16 = 514
	TagJPEGQTables         uint16 = 519
	TagJPEGDCTables        uint16 = 520
	TagJPEGACTables        uint16 = 521
	TagYCbCrSubsampling    uint16 = 530
	TagReferenceBlackWhite uint16 = 532
	TagImageDepth          uint16 = 32997
	TagCopyright           uint16 = 33432
	TagNDPIFormatFlag      uint16 = 65420
	TagNDPISourceLens      uint16 = 65421
	TagNDPIXOffset         uint16 = 65422
	TagNDPIYOffset         uint16 = 65423
	TagNDPIFocalPlane      uint16 = 65424
	TagNDPIMCUStarts       uint16 = 65426
	TagNDPIReference       uint16 = 65427
	TagNDPIPropertyMap     uint16 = 65449
)

// Compression schemes the imaging package can decode.
const (
	CompressionNone         = 1
	CompressionLZW          = 5
	CompressionOldJPEG      = 6
	CompressionJPEG         = 7
	CompressionAdobeDeflate = 8
	CompressionDeflate      = 32946
)

// Photometric interpretations.
const (
	PhotometricMinIsWhite = 0
	PhotometricMinIsBlack = 1
	PhotometricRGB        = 2
	PhotometricYCbCr      = 6
)

// NewSubfileType values written for synthesized associated images.
const (
	SubfileTypeReduced = 1
	SubfileTypeMacro   = 9
)

// NDPI source lens values that mark non-pyramid images.
const (
	NDPISourceLensMacro = -1
	NDPISourceLensMap   = -2
)

var tagNames = map[uint16]string{
	TagNewSubfileType:      "NewSubfileType",
	TagImageWidth:          "ImageWidth",
	TagImageLength:         "ImageLength",
	TagBitsPerSample:       "BitsPerSample",
	TagCompression:         "Compression",
	TagPhotometric:         "Photometric",
	TagDocumentName:        "DocumentName",
	TagImageDescription:    "ImageDescription",
	TagMake:                "Make",
	TagModel:               "Model",
	TagStripOffsets:        "StripOffsets",
	TagOrientation:         "Orientation",
	TagSamplesPerPixel:     "SamplesPerPixel",
	TagRowsPerStrip:        "RowsPerStrip",
	TagStripByteCounts:     "StripByteCounts",
	TagXResolution:         "XResolution",
	TagYResolution:         "YResolution",
	TagPlanarConfig:        "PlanarConfig",
	TagFreeOffsets:         "FreeOffsets",
	TagFreeByteCounts:      "FreeByteCounts",
	TagResolutionUnit:      "ResolutionUnit",
	TagSoftware:            "Software",
	TagDateTime:            "DateTime",
	TagArtist:              "Artist",
	TagHostComputer:        "HostComputer",
	TagPredictor:           "Predictor",
	TagTileWidth:           "TileWidth",
	TagTileLength:          "TileLength",
	TagTileOffsets:         "TileOffsets",
	TagTileByteCounts:      "TileByteCounts",
	TagSubIFD:              "SubIFD",
	TagExtraSamples:        "ExtraSamples",
	TagSampleFormat:        "SampleFormat",
	TagJPEGTables:          "JPEGTables",
	TagJPEGProc:            "JPEGProc",
	TagJPEGIFOffset:        "JPEGIFOffset",
	TagJPEGIFByteCount:     "JPEGIFByteCount",
	TagJPEGQTables:         "JPEGQTables",
	TagJPEGDCTables:        "JPEGDCTables",
	TagJPEGACTables:        "JPEGACTables",
	TagYCbCrSubsampling:    "YCbCrSubsampling",
	TagReferenceBlackWhite: "ReferenceBlackWhite",
	TagImageDepth:          "ImageDepth",
	TagCopyright:           "Copyright",
	TagNDPIFormatFlag:      "NDPI_FORMAT_FLAG",
	TagNDPISourceLens:      "NDPI_SOURCELENS",
	TagNDPIXOffset:         "NDPI_XOFFSET",
	TagNDPIYOffset:         "NDPI_YOFFSET",
	TagNDPIFocalPlane:      "NDPI_FOCAL_PLANE",
	TagNDPIMCUStarts:       "NDPI_MCU_STARTS",
	TagNDPIReference:       "NDPI_REFERENCE",
	TagNDPIPropertyMap:     "NDPI_PROPERTY_MAP",
}

var tagsByLowerName = func() map[string]uint16 {
	m := make(map[string]uint16, len(tagNames))
	for tag, name := range tagNames {
		m[strings.ToLower(name)] = tag
	}
	return m
}()

// TagName returns the conventional name of a tag, or its decimal id.
func TagName(tag uint16) string {
	if name, ok := tagNames[tag]; ok {
		return name
	}
	return fmt.Sprintf("%d", tag)
}

// TagByName looks a tag up by name, case-insensitively. Numeric names
// are accepted as raw tag ids.
func TagByName(name string) (uint16, bool) {
	if tag, ok := tagsByLowerName[strings.ToLower(name)]; ok {
		return tag, true
	}
	var id uint16
	if _, err := fmt.Sscanf(name, "%d", &id); err == nil && fmt.Sprintf("%d", id) == name {
		return id, true
	}
	return 0, false
}

// OffsetTagPairs maps each offset-bearing tag to its byte-count tag.
// JPEG table tags carry no count tag; their lengths are derived from
// the table payloads.
var OffsetTagPairs = map[uint16]uint16{
	TagStripOffsets: TagStripByteCounts,
	TagTileOffsets:  TagTileByteCounts,
	TagFreeOffsets:  TagFreeByteCounts,
	TagJPEGIFOffset: TagJPEGIFByteCount,
}

// JPEGTableTags are offset arrays pointing at fixed or derived length
// JPEG table payloads.
var JPEGTableTags = []uint16{TagJPEGQTables, TagJPEGDCTables, TagJPEGACTables}

// IsByteCountTag reports whether tag is the length companion of an
// offset tag.
func IsByteCountTag(tag uint16) bool {
	for _, counts := range OffsetTagPairs {
		if counts == tag {
			return true
		}
	}
	return false
}
