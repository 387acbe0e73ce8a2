package tiff

import (
	"encoding/binary"
	"fmt"
)

// Concat reads each source and writes their top-level directories, in
// order, as a single chain at dest. The output keeps the byte order of
// the first source and is BigTIFF when any source is.
func Concat(sources []string, dest string, opts WriteOptions) error {
	if len(sources) == 0 {
		return fmt.Errorf("no sources to concatenate")
	}
	out := &Container{Path: dest}
	for i, src := range sources {
		c, err := Read(src)
		if err != nil {
			return err
		}
		if i == 0 {
			out.ByteOrder = c.ByteOrder
		}
		out.Big = out.Big || c.Big
		out.Directories = append(out.Directories, c.Directories...)
	}
	if out.ByteOrder == nil {
		out.ByteOrder = binary.LittleEndian
	}
	return Write(out, dest, opts)
}
