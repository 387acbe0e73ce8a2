package tiff

import (
	"bytes"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zeebo/blake3"

	"github.com/deploymenttheory/go-wsi-deid/internal/types"
	"github.com/deploymenttheory/go-wsi-deid/pkg/app"
)

// createTestContainer builds an in-memory container with two strip images,
// the first carrying a SubIFD chain.
func createTestContainer() *Container {
	first := NewStripDirectory(4, 2, 1, [][]byte{
		bytes.Repeat([]byte{0x11}, 12),
		bytes.Repeat([]byte{0x22}, 12),
	})
	first.SetASCII(types.TagImageDescription, "Aperio Image Library|AppMag = 20")
	first.Set(NewShorts(types.TagBitsPerSample, 8, 8, 8))
	first.Set(NewRationals(types.TagXResolution, 72, 1))
	first.Set(NewSLongs(types.TagNDPISourceLens, -1))
	first.Set(&Entry{Tag: types.TagSampleFormat, Type: types.DatatypeDouble, Floats: []float64{1.5}})
	first.SubDirectories = [][]*Directory{{
		NewStripDirectory(2, 1, 1, [][]byte{bytes.Repeat([]byte{0x33}, 6)}),
	}}

	second := NewStripDirectory(2, 2, 2, [][]byte{bytes.Repeat([]byte{0x44}, 12)})
	second.SetASCII(types.TagImageDescription, "label 2x2")

	return &Container{
		ByteOrder:   binary.LittleEndian,
		Directories: []*Directory{first, second},
	}
}

// stripDigests hashes every strip payload of every top-level directory.
func stripDigests(t *testing.T, c *Container) [][][32]byte {
	t.Helper()
	r := NewPayloadReader()
	defer r.Close()

	var out [][][32]byte
	for _, d := range c.Directories {
		payloads, err := r.ReadAll(d, types.TagStripOffsets)
		require.NoError(t, err)
		var sums [][32]byte
		for _, p := range payloads {
			sums = append(sums, blake3.Sum256(p))
		}
		out = append(out, sums)
	}
	return out
}

func TestWriteRoundTrip(t *testing.T) {
	dir := t.TempDir()
	src := createTestContainer()
	want := stripDigests(t, src)

	firstPath := filepath.Join(dir, "first.tif")
	require.NoError(t, Write(src, firstPath, WriteOptions{}))

	first, err := Read(firstPath)
	require.NoError(t, err)
	require.Len(t, first.Directories, 2)
	assert.Equal(t, want, stripDigests(t, first))

	d0 := first.Directories[0]
	assert.Equal(t, "Aperio Image Library|AppMag = 20", d0.Description())
	assert.Equal(t, []uint64{8, 8, 8}, d0.Get(types.TagBitsPerSample).Values())
	assert.Equal(t, []uint64{72, 1}, d0.Get(types.TagXResolution).Uints)
	assert.Equal(t, int64(-1), d0.Get(types.TagNDPISourceLens).Int(0))
	assert.Equal(t, []float64{1.5}, d0.Get(types.TagSampleFormat).Floats)
	require.Len(t, d0.SubDirectories, 1)
	require.Len(t, d0.SubDirectories[0], 1)
	assert.Equal(t, uint64(2), d0.SubDirectories[0][0].Width())

	// Writing the parsed container again copies payloads from disk.
	secondPath := filepath.Join(dir, "second.tif")
	require.NoError(t, Write(first, secondPath, WriteOptions{}))
	second, err := Read(secondPath)
	require.NoError(t, err)
	assert.Equal(t, want, stripDigests(t, second))

	for i := range first.Directories {
		assert.Equal(t, first.Directories[i].SortedTags(), second.Directories[i].SortedTags())
		for _, tag := range first.Directories[i].SortedTags() {
			if tag == types.TagStripOffsets || tag == types.TagSubIFD {
				continue
			}
			assert.Equal(t, first.Directories[i].Get(tag), second.Directories[i].Get(tag), "tag %d", tag)
		}
	}
}

func TestWriteNextPointersMoveForward(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chain.tif")
	require.NoError(t, Write(createTestContainer(), path, WriteOptions{}))

	c, err := Read(path)
	require.NoError(t, err)
	for i := 1; i < len(c.Directories); i++ {
		assert.Greater(t, c.Directories[i].Offset, c.Directories[i-1].Offset)
	}
}

func TestWriteBigEndianAndBigTIFF(t *testing.T) {
	yes := true
	path := filepath.Join(t.TempDir(), "big.tif")
	require.NoError(t, Write(createTestContainer(), path, WriteOptions{BigEndian: &yes, Big: &yes}))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte{'M', 'M', 0x00, 0x2B, 0x00, 0x08, 0x00, 0x00}, raw[:8])

	c, err := Read(path)
	require.NoError(t, err)
	assert.True(t, c.Big)
	assert.Equal(t, binary.BigEndian, c.ByteOrder)
	assert.Equal(t, "label 2x2", c.Directories[1].Description())
}

func TestWriteFallsBackToBigTIFF(t *testing.T) {
	saved := classicOffsetLimit
	classicOffsetLimit = 64
	defer func() { classicOffsetLimit = saved }()

	dir := t.TempDir()
	path := filepath.Join(dir, "grown.tif")
	require.NoError(t, Write(createTestContainer(), path, WriteOptions{}))

	c, err := Read(path)
	require.NoError(t, err)
	assert.True(t, c.Big)
	assert.Len(t, c.Directories, 2)

	leftovers, err := filepath.Glob(filepath.Join(dir, ".*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestWriteForceClassicOverflow(t *testing.T) {
	saved := classicOffsetLimit
	classicOffsetLimit = 64
	defer func() { classicOffsetLimit = saved }()

	path := filepath.Join(t.TempDir(), "classic.tif")
	err := Write(createTestContainer(), path, WriteOptions{ForceClassic: true})
	require.Error(t, err)
	assert.True(t, errors.Is(err, app.ErrOffsetOverflow))

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestWriteRefusesExistingOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "exists.tif")
	require.NoError(t, os.WriteFile(path, []byte("keep"), 0o644))

	err := Write(createTestContainer(), path, WriteOptions{})
	assert.True(t, errors.Is(err, app.ErrIO))

	raw, _ := os.ReadFile(path)
	assert.Equal(t, "keep", string(raw))

	require.NoError(t, Write(createTestContainer(), path, WriteOptions{AllowExisting: true}))
}

func TestWriteDoesNotMutateInput(t *testing.T) {
	c := createTestContainer()
	before := c.Directories[0].Get(types.TagStripOffsets)
	require.NoError(t, Write(c, filepath.Join(t.TempDir(), "out.tif"), WriteOptions{}))
	assert.Same(t, before, c.Directories[0].Get(types.TagStripOffsets))
	assert.Equal(t, []uint64{0, 0}, before.Uints)
}

func TestCopyPayloads(t *testing.T) {
	src := bytes.NewReader([]byte("0123456789abcdef"))
	f, err := os.Create(filepath.Join(t.TempDir(), "dst.bin"))
	require.NoError(t, err)
	defer f.Close()

	_, err = f.Write([]byte("HDR"))
	require.NoError(t, err)

	placed, err := CopyPayloads(f, src, []uint64{10, 0}, []uint64{6, 4})
	require.NoError(t, err)
	assert.Equal(t, []uint64{3, 9}, placed)

	raw, err := os.ReadFile(f.Name())
	require.NoError(t, err)
	assert.Equal(t, "HDRabcdef0123", string(raw))

	_, err = CopyPayloads(f, src, []uint64{0}, []uint64{})
	assert.Error(t, err)
}

func TestRemoveDirectoriesDescending(t *testing.T) {
	c := &Container{}
	for i := 0; i < 5; i++ {
		d := NewDirectory("")
		d.Set(NewLongs(types.TagImageWidth, uint64(i)))
		c.Directories = append(c.Directories, d)
	}

	c.RemoveDirectories([]int{1, 3, 3, 9})
	var widths []uint64
	for _, d := range c.Directories {
		widths = append(widths, d.Width())
	}
	assert.Equal(t, []uint64{0, 2, 4}, widths)

	c.InsertDirectory(1, NewStripDirectory(7, 1, 1, [][]byte{{0}}))
	assert.Equal(t, uint64(7), c.Directories[1].Width())
}

func TestConcat(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.tif")
	b := filepath.Join(dir, "b.tif")
	require.NoError(t, Write(createTestContainer(), a, WriteOptions{}))
	require.NoError(t, Write(createTestContainer(), b, WriteOptions{}))

	out := filepath.Join(dir, "ab.tif")
	require.NoError(t, Concat([]string{a, b}, out, WriteOptions{}))

	c, err := Read(out)
	require.NoError(t, err)
	assert.Len(t, c.Directories, 4)
	assert.Equal(t, "label 2x2", c.Directories[3].Description())
}

func TestDescribe(t *testing.T) {
	summary := Describe(createTestContainer())
	require.Len(t, summary.Directories, 2)
	assert.Equal(t, "little-endian", summary.ByteOrder)
	assert.Equal(t, uint64(4), summary.Directories[0].Width)
	assert.Len(t, summary.Directories[0].SubDirectories, 1)

	var names []string
	for _, tag := range summary.Directories[1].Tags {
		names = append(names, tag.Name)
	}
	assert.Contains(t, names, "ImageDescription")
}
