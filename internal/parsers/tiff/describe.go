package tiff

import (
	"github.com/deploymenttheory/go-wsi-deid/internal/types"
)

// TagSummary is a printable view of one entry.
type TagSummary struct {
	Tag      uint16 `json:"tag" yaml:"tag"`
	Name     string `json:"name" yaml:"name"`
	Datatype string `json:"datatype" yaml:"datatype"`
	Count    uint64 `json:"count" yaml:"count"`
	Value    string `json:"value" yaml:"value"`
}

// DirectorySummary is a printable view of one directory and its
// SubIFD chains.
type DirectorySummary struct {
	Offset         uint64               `json:"offset" yaml:"offset"`
	Width          uint64               `json:"width" yaml:"width"`
	Height         uint64               `json:"height" yaml:"height"`
	Tags           []TagSummary         `json:"tags" yaml:"tags"`
	SubDirectories [][]DirectorySummary `json:"subDirectories,omitempty" yaml:"subDirectories,omitempty"`
}

// ContainerSummary describes a container for the info command.
type ContainerSummary struct {
	Path        string             `json:"path" yaml:"path"`
	ByteOrder   string             `json:"byteOrder" yaml:"byteOrder"`
	BigTIFF     bool               `json:"bigtiff" yaml:"bigtiff"`
	Directories []DirectorySummary `json:"directories" yaml:"directories"`
}

// Describe summarizes a container.
func Describe(c *Container) ContainerSummary {
	out := ContainerSummary{Path: c.Path, ByteOrder: "little-endian", BigTIFF: c.Big}
	if c.ByteOrder != nil && c.ByteOrder.String() == "BigEndian" {
		out.ByteOrder = "big-endian"
	}
	for _, d := range c.Directories {
		out.Directories = append(out.Directories, describeDirectory(d))
	}
	return out
}

func describeDirectory(d *Directory) DirectorySummary {
	s := DirectorySummary{Offset: d.Offset, Width: d.Width(), Height: d.Height()}
	for _, tag := range d.SortedTags() {
		e := d.Entries[tag]
		s.Tags = append(s.Tags, TagSummary{
			Tag:      tag,
			Name:     types.TagName(tag),
			Datatype: e.Type.String(),
			Count:    e.Len(),
			Value:    e.String(),
		})
	}
	for _, chain := range d.SubDirectories {
		var sub []DirectorySummary
		for _, sd := range chain {
			sub = append(sub, describeDirectory(sd))
		}
		s.SubDirectories = append(s.SubDirectories, sub)
	}
	return s
}
