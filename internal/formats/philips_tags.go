package formats

// PhilipsTagElement is the DICOM group, element and value representation
// of a Philips XML attribute.
type PhilipsTagElement struct {
	Group   string
	Element string
	PMSVR   string
}

// PhilipsTagElements lists the attributes that may be written back into
// the Philips XML header.
var PhilipsTagElements = map[string]PhilipsTagElement{
	"DICOM_ACQUISITION_DATETIME":                 {"0x0008", "0x002A", "IString"},
	"DICOM_BITS_ALLOCATED":                       {"0x0028", "0x0100", "IUInt16"},
	"DICOM_BITS_STORED":                          {"0x0028", "0x0101", "IUInt16"},
	"DICOM_DATE_OF_LAST_CALIBRATION":             {"0x0018", "0x1200", "IStringArray"},
	"DICOM_DERIVATION_DESCRIPTION":               {"0x0008", "0x2111", "IString"},
	"DICOM_DEVICE_SERIAL_NUMBER":                 {"0x0018", "0x1000", "IString"},
	"DICOM_HIGH_BIT":                             {"0x0028", "0x0102", "IUInt16"},
	"DICOM_ICCPROFILE":                           {"0x0028", "0x2000", "IString"},
	"DICOM_LOSSY_IMAGE_COMPRESSION":              {"0x0028", "0x2110", "IString"},
	"DICOM_LOSSY_IMAGE_COMPRESSION_METHOD":       {"0x0028", "0x2114", "IString"},
	"DICOM_LOSSY_IMAGE_COMPRESSION_RATIO":        {"0x0028", "0x2112", "IDouble"},
	"DICOM_MANUFACTURER":                         {"0x0008", "0x0070", "IString"},
	"DICOM_MANUFACTURERS_MODEL_NAME":             {"0x0008", "0x1090", "IString"},
	"DICOM_SAMPLES_PER_PIXEL":                    {"0x0028", "0x0002", "IUInt16"},
	"DICOM_SOFTWARE_VERSIONS":                    {"0x0018", "0x1020", "IStringArray"},
	"DICOM_TIME_OF_LAST_CALIBRATION":             {"0x0018", "0x1201", "IStringArray"},
	"DP_COLOR_MANAGEMENT":                        {"0x301D", "0x1013", "IDataObjectArray"},
	"DP_WAVELET_DEADZONE":                        {"0x301D", "0x101C", "IUInt16"},
	"DP_WAVELET_QUANTIZER":                       {"0x301D", "0x101B", "IUInt16"},
	"DP_WAVELET_QUANTIZER_SETTINGS_PER_COLOR":    {"0x301D", "0x1019", "IDataObjectArray"},
	"DP_WAVELET_QUANTIZER_SETTINGS_PER_LEVEL":    {"0x301D", "0x101A", "IDataObjectArray"},
	"PIIM_DP_SCANNER_CALIBRATION_STATUS":         {"0x101D", "0x100A", "IString"},
	"PIIM_DP_SCANNER_OPERATOR_ID":                {"0x101D", "0x1009", "IString"},
	"PIIM_DP_SCANNER_RACK_NUMBER":                {"0x101D", "0x1007", "IUInt16"},
	"PIIM_DP_SCANNER_SLOT_NUMBER":                {"0x101D", "0x1008", "IUInt16"},
	"PIM_DP_IMAGE_DATA":                          {"0x301D", "0x1005", "IString"},
	"PIM_DP_IMAGE_TYPE":                          {"0x301D", "0x1004", "IString"},
	"PIM_DP_SCANNED_IMAGES":                      {"0x301D", "0x1003", "IDataObjectArray"},
	"PIM_DP_SCANNER_RACK_PRIORITY":               {"0x301D", "0x1010", "IUInt16"},
	"PIM_DP_UFS_BARCODE":                         {"0x301D", "0x1002", "IString"},
	"PIM_DP_UFS_INTERFACE_VERSION":               {"0x301D", "0x1001", "IString"},
	"UFS_IMAGE_BLOCK_COMPRESSION_METHOD":         {"0x301D", "0x200F", "IString"},
	"UFS_IMAGE_BLOCK_COORDINATE":                 {"0x301D", "0x200E", "IUInt32Array"},
	"UFS_IMAGE_BLOCK_DATA_OFFSET":                {"0x301D", "0x2010", "IUint64"},
	"UFS_IMAGE_BLOCK_HEADERS":                    {"0x301D", "0x200D", "IDataObjectArray"},
	"UFS_IMAGE_BLOCK_HEADER_TABLE":               {"0x301D", "0x2014", "IString"},
	"UFS_IMAGE_BLOCK_HEADER_TEMPLATES":           {"0x301D", "0x2009", "IDataObjectArray"},
	"UFS_IMAGE_BLOCK_HEADER_TEMPLATE_ID":         {"0x301D", "0x2012", "IUInt32"},
	"UFS_IMAGE_BLOCK_SIZE":                       {"0x301D", "0x2011", "IUint64"},
	"UFS_IMAGE_DIMENSIONS":                       {"0x301D", "0x2003", "IDataObjectArray"},
	"UFS_IMAGE_DIMENSIONS_IN_BLOCK":              {"0x301D", "0x200C", "IUInt16Array"},
	"UFS_IMAGE_DIMENSIONS_OVER_BLOCK":            {"0x301D", "0x2002", "IUInt16Array"},
	"UFS_IMAGE_DIMENSION_DISCRETE_VALUES_STRING": {"0x301D", "0x2008", "IStringArray"},
	"UFS_IMAGE_DIMENSION_NAME":                   {"0x301D", "0x2004", "IString"},
	"UFS_IMAGE_DIMENSION_RANGE":                  {"0x301D", "0x200B", "IUInt32Array"},
	"UFS_IMAGE_DIMENSION_RANGES":                 {"0x301D", "0x200A", "IDataObjectArray"},
	"UFS_IMAGE_DIMENSION_SCALE_FACTOR":           {"0x301D", "0x2007", "IDouble"},
	"UFS_IMAGE_DIMENSION_TYPE":                   {"0x301D", "0x2005", "IString"},
	"UFS_IMAGE_DIMENSION_UNIT":                   {"0x301D", "0x2006", "IString"},
	"UFS_IMAGE_GENERAL_HEADERS":                  {"0x301D", "0x2000", "IDataObjectArray"},
	"UFS_IMAGE_NUMBER_OF_BLOCKS":                 {"0x301D", "0x2001", "IUInt32"},
}
