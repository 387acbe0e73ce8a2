package formats

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image/jpeg"
	"strings"
	"testing"

	"github.com/beevik/etree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deploymenttheory/go-wsi-deid/internal/imaging"
	"github.com/deploymenttheory/go-wsi-deid/internal/parsers/tiff"
	"github.com/deploymenttheory/go-wsi-deid/internal/policy"
	"github.com/deploymenttheory/go-wsi-deid/internal/types"
	"github.com/deploymenttheory/go-wsi-deid/pkg/app"
)

func createTestPhilipsXML(t *testing.T) string {
	t.Helper()
	label, err := imaging.EncodeJPEG(solidImage(20, 10, gray), 80)
	require.NoError(t, err)
	labelData := base64.StdEncoding.EncodeToString(label)
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8" ?>
<DataObject ObjectType="DPUfsImport">
	<Attribute Name="DICOM_ACQUISITION_DATETIME" Group="0x0008" Element="0x002A" PMSVR="IString">20210315103000.000000</Attribute>
	<Attribute Name="DICOM_MANUFACTURER" Group="0x0008" Element="0x0070" PMSVR="IString">PHILIPS</Attribute>
	<Attribute Name="DICOM_DEVICE_SERIAL_NUMBER" Group="0x0018" Element="0x1000" PMSVR="IString">FMT0042</Attribute>
	<Attribute Name="PIIM_DP_SCANNER_OPERATOR_ID" Group="0x101D" Element="0x1009" PMSVR="IString">jdoe</Attribute>
	<Attribute Name="PIM_DP_UFS_BARCODE" Group="0x301D" Element="0x1002" PMSVR="IString">UEFUSUVOVA==</Attribute>
	<Attribute Name="PIM_DP_SCANNED_IMAGES" Group="0x301D" Element="0x1003" PMSVR="IDataObjectArray">
		<Array>
			<DataObject ObjectType="DPScannedImage">
				<Attribute Name="PIM_DP_IMAGE_TYPE" Group="0x301D" Element="0x1004" PMSVR="IString">WSI</Attribute>
				<Attribute Name="DICOM_DERIVATION_DESCRIPTION" Group="0x0008" Element="0x2111" PMSVR="IString">tiff-level-0</Attribute>
			</DataObject>
			<DataObject ObjectType="DPScannedImage">
				<Attribute Name="PIM_DP_IMAGE_TYPE" Group="0x301D" Element="0x1004" PMSVR="IString">LABELIMAGE</Attribute>
				<Attribute Name="PIM_DP_IMAGE_DATA" Group="0x301D" Element="0x1005" PMSVR="IString">%s</Attribute>
			</DataObject>
			<DataObject ObjectType="DPScannedImage">
				<Attribute Name="PIM_DP_IMAGE_TYPE" Group="0x301D" Element="0x1004" PMSVR="IString">MACROIMAGE</Attribute>
				<Attribute Name="PIM_DP_IMAGE_DATA" Group="0x301D" Element="0x1005" PMSVR="IString">%s</Attribute>
			</DataObject>
		</Array>
	</Attribute>
</DataObject>`, labelData, labelData)
}

func createTestPhilipsContainer(t *testing.T) *tiff.Container {
	level0 := createTestTiledDirectory(512, 512, 256, createTestPhilipsXML(t))
	level0.SetASCII(types.TagSoftware, "4.0.3")
	return &tiff.Container{Directories: []*tiff.Directory{
		level0,
		createTestTiledDirectory(256, 256, 256, "level=1 mag=20"),
		createTestImageDirectory(t, 64, 24, "Macro"),
		createTestImageDirectory(t, 32, 16, "Label"),
	}}
}

func scannedImageTypes(t *testing.T, desc string) []string {
	t.Helper()
	doc, err := parsePhilipsXML(desc)
	require.NoError(t, err)
	var out []string
	scanned := philipsAttr([]*etree.Element{doc.Root()}, philipsScannedImages, nil)
	require.NotNil(t, scanned)
	for _, obj := range philipsArrayObjects(scanned) {
		if attr := philipsAttr([]*etree.Element{obj}, philipsImageType, nil); attr != nil {
			out = append(out, attr.Text())
		}
	}
	return out
}

func TestPhilipsMetadata(t *testing.T) {
	slide := writeTestSlide(t, createTestPhilipsContainer(t), "slide.tiff")
	require.Equal(t, types.FormatPhilips, slide.Format)

	h := NewPhilipsHandler(nil)
	src, err := h.Metadata(slide)
	require.NoError(t, err)
	xml := src.Metadata["xml"]
	assert.Equal(t, "jdoe", xml["PIIM_DP_SCANNER_OPERATOR_ID"])
	assert.Equal(t, "WSI", xml["PIM_DP_SCANNED_IMAGES|PIM_DP_IMAGE_TYPE"])
	assert.Equal(t, "tiff-level-0", xml["PIM_DP_SCANNED_IMAGES|DICOM_DERIVATION_DESCRIPTION"])
	assert.NotContains(t, xml, "PIM_DP_SCANNED_IMAGES|PIM_DP_IMAGE_DATA")
	assert.Equal(t, "4.0.3", src.Metadata["tiff"]["software"])
	assert.Equal(t, "FMT0042", h.Model(src))
	assert.Equal(t, []string{"label", "macro"}, src.AssociatedImages)
}

func TestPhilipsAssociatedImageFallsBackToXML(t *testing.T) {
	c := createTestPhilipsContainer(t)
	c.Directories = c.Directories[:2]
	slide := writeTestSlide(t, c, "slide.tiff")

	img, err := NewPhilipsHandler(nil).AssociatedImage(slide, "label")
	require.NoError(t, err)
	assert.Equal(t, 20, img.Bounds().Dx())
}

func TestApplyPhilipsMetadata(t *testing.T) {
	doc, err := parsePhilipsXML(createTestPhilipsXML(t))
	require.NoError(t, err)
	root := doc.Root()

	list := policy.NewRedactionList()
	list.Metadata["internal;xml;DICOM_MANUFACTURER"] = policy.AutomaticRemoval()
	list.Metadata["internal;xml;PIIM_DP_SCANNER_OPERATOR_ID"] = policy.System(policy.Str("CASE"))
	list.Metadata["internal;xml;PIM_DP_UFS_BARCODE"] = policy.System(policy.Str("CASE|x"))
	list.Metadata["internal;xml;PIM_DP_SCANNED_IMAGES|DICOM_DERIVATION_DESCRIPTION"] = policy.AutomaticRemoval()
	list.Metadata["internal;xml;NOT_A_PHILIPS_TAG"] = policy.System(policy.Str("ignored"))
	applyPhilipsMetadata(root, list)

	objects := []*etree.Element{root}
	assert.Nil(t, philipsAttr(objects, "DICOM_MANUFACTURER", nil))
	assert.Nil(t, philipsAttr(objects, "NOT_A_PHILIPS_TAG", nil))
	assert.Nil(t, philipsSubAttr(objects, philipsScannedImages, "DICOM_DERIVATION_DESCRIPTION", nil))

	first := root.ChildElements()[0]
	assert.Equal(t, philipsOperator, first.SelectAttrValue("Name", ""))
	assert.Equal(t, "0x101D", first.SelectAttrValue("Group", ""))
	assert.Equal(t, "CASE", first.Text())

	barcode := philipsAttr(objects, philipsBarcode, nil)
	require.NotNil(t, barcode)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("CASE|x")), barcode.Text())
	assert.Len(t, root.SelectElements("Attribute"), 5)
}

func TestPhilipsApply(t *testing.T) {
	slide := writeTestSlide(t, createTestPhilipsContainer(t), "slide.tiff")
	h := NewPhilipsHandler(nil)
	plan := testPlan(t, h, slide, "CASE-5", nil)
	plan.Label = solidImage(50, 25, green)
	plan.Macro = solidImage(70, 30, gray)

	paths, err := h.Apply(context.Background(), slide, plan)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(paths[0], "philips.tiff"))
	out := readOutput(t, paths)

	require.Len(t, out.Directories, 4)
	assert.Equal(t, "Macro", out.Directories[2].Description())
	assert.Equal(t, uint64(70), out.Directories[2].Width())
	assert.Equal(t, "Label", out.Directories[3].Description())
	assert.Equal(t, uint64(50), out.Directories[3].Width())
	assert.Contains(t, out.Directories[0].ASCII(types.TagSoftware), app.Marker())

	desc := out.Directories[0].Description()
	assert.Equal(t, []string{"WSI", "MACROIMAGE", "LABELIMAGE"}, scannedImageTypes(t, desc))
	assert.NotContains(t, desc, "jdoe")
	assert.Contains(t, desc, "20210101103000.000000")

	doc, err := parsePhilipsXML(desc)
	require.NoError(t, err)
	label := scannedImage(doc.Root(), "LABELIMAGE")
	require.NotNil(t, label)
	data := philipsAttr([]*etree.Element{label}, philipsImageData, nil)
	require.NotNil(t, data)
	raw, err := base64.StdEncoding.DecodeString(data.Text())
	require.NoError(t, err)
	img, err := jpeg.Decode(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, 50, img.Bounds().Dx())
}
