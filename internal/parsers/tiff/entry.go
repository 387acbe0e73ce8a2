package tiff

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	"github.com/deploymenttheory/go-wsi-deid/internal/types"
)

// Entry is one decoded tag record. Exactly one of Text, Bytes, Uints,
// Ints or Floats carries the data, selected by Type. Rational values are
// stored as flattened numerator/denominator pairs.
type Entry struct {
	Tag    uint16
	Type   types.Datatype
	Text   string
	Bytes  []byte
	Uints  []uint64
	Ints   []int64
	Floats []float64
}

// NewASCII builds an ASCII entry.
func NewASCII(tag uint16, text string) *Entry {
	return &Entry{Tag: tag, Type: types.DatatypeASCII, Text: text}
}

// NewShorts builds a SHORT entry.
func NewShorts(tag uint16, values ...uint64) *Entry {
	return &Entry{Tag: tag, Type: types.DatatypeShort, Uints: values}
}

// NewLongs builds a LONG entry.
func NewLongs(tag uint16, values ...uint64) *Entry {
	return &Entry{Tag: tag, Type: types.DatatypeLong, Uints: values}
}

// NewLong8s builds a LONG8 entry.
func NewLong8s(tag uint16, values ...uint64) *Entry {
	return &Entry{Tag: tag, Type: types.DatatypeLong8, Uints: values}
}

// NewSLongs builds an SLONG entry.
func NewSLongs(tag uint16, values ...int64) *Entry {
	return &Entry{Tag: tag, Type: types.DatatypeSLong, Ints: values}
}

// NewRationals builds a RATIONAL entry from numerator/denominator pairs.
func NewRationals(tag uint16, pairs ...uint64) *Entry {
	return &Entry{Tag: tag, Type: types.DatatypeRational, Uints: pairs}
}

// NewUndefined builds an UNDEFINED entry.
func NewUndefined(tag uint16, data []byte) *Entry {
	return &Entry{Tag: tag, Type: types.DatatypeUndefined, Bytes: data}
}

// NewBytes builds a BYTE entry.
func NewBytes(tag uint16, data []byte) *Entry {
	return &Entry{Tag: tag, Type: types.DatatypeByte, Bytes: data}
}

// Len returns the TIFF count of the entry.
func (e *Entry) Len() uint64 {
	switch {
	case e.Type == types.DatatypeASCII:
		return uint64(len(e.Text)) + 1
	case e.Type == types.DatatypeByte || e.Type == types.DatatypeUndefined:
		return uint64(len(e.Bytes))
	case e.Type.Float():
		return uint64(len(e.Floats))
	case e.Type.Rational() && e.Type.Signed():
		return uint64(len(e.Ints)) / 2
	case e.Type.Rational():
		return uint64(len(e.Uints)) / 2
	case e.Type.Signed():
		return uint64(len(e.Ints))
	}
	return uint64(len(e.Uints))
}

// ByteLen returns the encoded size of the entry data.
func (e *Entry) ByteLen() uint64 {
	return e.Len() * uint64(e.Type.Size())
}

// Uint returns value i as an unsigned integer. Rationals return the
// numerator.
func (e *Entry) Uint(i int) uint64 {
	if e.Type.Rational() {
		i *= 2
	}
	switch {
	case e.Type == types.DatatypeByte || e.Type == types.DatatypeUndefined:
		return uint64(e.Bytes[i])
	case e.Type.Float():
		return uint64(e.Floats[i])
	case e.Type.Signed():
		return uint64(e.Ints[i])
	}
	return e.Uints[i]
}

// Int returns value i as a signed integer.
func (e *Entry) Int(i int) int64 {
	switch {
	case e.Type.Float():
		return int64(e.Floats[i])
	case e.Type.Signed() && !e.Type.Rational():
		return e.Ints[i]
	}
	return int64(e.Uint(i))
}

// Values returns every value as an unsigned integer.
func (e *Entry) Values() []uint64 {
	n := int(e.Len())
	if e.Type == types.DatatypeASCII {
		n = 0
	}
	out := make([]uint64, n)
	for i := range out {
		out[i] = e.Uint(i)
	}
	return out
}

// Clone returns a deep copy of the entry.
func (e *Entry) Clone() *Entry {
	c := *e
	c.Bytes = append([]byte(nil), e.Bytes...)
	c.Uints = append([]uint64(nil), e.Uints...)
	c.Ints = append([]int64(nil), e.Ints...)
	c.Floats = append([]float64(nil), e.Floats...)
	return &c
}

// String renders a short human readable value.
func (e *Entry) String() string {
	const limit = 8
	switch {
	case e.Type == types.DatatypeASCII:
		return e.Text
	case e.Type == types.DatatypeByte || e.Type == types.DatatypeUndefined:
		if len(e.Bytes) > limit*4 {
			return fmt.Sprintf("<%d bytes>", len(e.Bytes))
		}
		return fmt.Sprintf("% x", e.Bytes)
	}
	var parts []string
	n := int(e.Len())
	for i := 0; i < n && i < limit; i++ {
		switch {
		case e.Type.Float():
			parts = append(parts, fmt.Sprintf("%g", e.Floats[i]))
		case e.Type.Rational() && e.Type.Signed():
			parts = append(parts, fmt.Sprintf("%d/%d", e.Ints[2*i], e.Ints[2*i+1]))
		case e.Type.Rational():
			parts = append(parts, fmt.Sprintf("%d/%d", e.Uints[2*i], e.Uints[2*i+1]))
		default:
			parts = append(parts, fmt.Sprintf("%d", e.Int(i)))
		}
	}
	s := strings.Join(parts, " ")
	if n > limit {
		s += fmt.Sprintf(" ... (%d values)", n)
	}
	return s
}

// unpack decodes count values of datatype dt from data.
func unpack(order binary.ByteOrder, tag uint16, dt types.Datatype, count uint64, data []byte) (*Entry, error) {
	e := &Entry{Tag: tag, Type: dt}
	n := int(count)
	if dt.Rational() {
		n *= 2
	}
	switch dt {
	case types.DatatypeASCII:
		e.Text = strings.TrimRight(string(data), "\x00")
	case types.DatatypeByte, types.DatatypeUndefined:
		e.Bytes = append([]byte(nil), data...)
	case types.DatatypeSByte:
		e.Ints = make([]int64, n)
		for i := range e.Ints {
			e.Ints[i] = int64(int8(data[i]))
		}
	case types.DatatypeShort:
		e.Uints = make([]uint64, n)
		for i := range e.Uints {
			e.Uints[i] = uint64(order.Uint16(data[i*2:]))
		}
	case types.DatatypeSShort:
		e.Ints = make([]int64, n)
		for i := range e.Ints {
			e.Ints[i] = int64(int16(order.Uint16(data[i*2:])))
		}
	case types.DatatypeLong, types.DatatypeIFD, types.DatatypeRational:
		e.Uints = make([]uint64, n)
		for i := range e.Uints {
			e.Uints[i] = uint64(order.Uint32(data[i*4:]))
		}
	case types.DatatypeSLong, types.DatatypeSRational:
		e.Ints = make([]int64, n)
		for i := range e.Ints {
			e.Ints[i] = int64(int32(order.Uint32(data[i*4:])))
		}
	case types.DatatypeLong8, types.DatatypeIFD8:
		e.Uints = make([]uint64, n)
		for i := range e.Uints {
			e.Uints[i] = order.Uint64(data[i*8:])
		}
	case types.DatatypeSLong8:
		e.Ints = make([]int64, n)
		for i := range e.Ints {
			e.Ints[i] = int64(order.Uint64(data[i*8:]))
		}
	case types.DatatypeFloat:
		e.Floats = make([]float64, n)
		for i := range e.Floats {
			e.Floats[i] = float64(math.Float32frombits(order.Uint32(data[i*4:])))
		}
	case types.DatatypeDouble:
		e.Floats = make([]float64, n)
		for i := range e.Floats {
			e.Floats[i] = math.Float64frombits(order.Uint64(data[i*8:]))
		}
	default:
		return nil, fmt.Errorf("tag %d: unknown datatype %d", tag, dt)
	}
	return e, nil
}

// pack encodes the entry data in order. The result is always
// Len() * Type.Size() bytes.
func (e *Entry) pack(order binary.ByteOrder) []byte {
	size := e.Type.Size()
	out := make([]byte, int(e.Len())*size)
	switch e.Type {
	case types.DatatypeASCII:
		copy(out, e.Text)
	case types.DatatypeByte, types.DatatypeUndefined:
		copy(out, e.Bytes)
	case types.DatatypeSByte:
		for i, v := range e.Ints {
			out[i] = byte(int8(v))
		}
	case types.DatatypeShort:
		for i, v := range e.Uints {
			order.PutUint16(out[i*2:], uint16(v))
		}
	case types.DatatypeSShort:
		for i, v := range e.Ints {
			order.PutUint16(out[i*2:], uint16(int16(v)))
		}
	case types.DatatypeLong, types.DatatypeIFD, types.DatatypeRational:
		for i, v := range e.Uints {
			order.PutUint32(out[i*4:], uint32(v))
		}
	case types.DatatypeSLong, types.DatatypeSRational:
		for i, v := range e.Ints {
			order.PutUint32(out[i*4:], uint32(int32(v)))
		}
	case types.DatatypeLong8, types.DatatypeIFD8:
		for i, v := range e.Uints {
			order.PutUint64(out[i*8:], v)
		}
	case types.DatatypeSLong8:
		for i, v := range e.Ints {
			order.PutUint64(out[i*8:], uint64(v))
		}
	case types.DatatypeFloat:
		for i, v := range e.Floats {
			order.PutUint32(out[i*4:], math.Float32bits(float32(v)))
		}
	case types.DatatypeDouble:
		for i, v := range e.Floats {
			order.PutUint64(out[i*8:], math.Float64bits(v))
		}
	}
	return out
}

// narrowed returns the entry converted to a 32-bit datatype for classic
// output. ok is false when a value does not fit.
func (e *Entry) narrowed() (*Entry, bool) {
	var to types.Datatype
	switch e.Type {
	case types.DatatypeLong8:
		to = types.DatatypeLong
	case types.DatatypeIFD8:
		to = types.DatatypeIFD
	case types.DatatypeSLong8:
		to = types.DatatypeSLong
	default:
		return e, true
	}
	for _, v := range e.Uints {
		if v > math.MaxUint32 {
			return nil, false
		}
	}
	for _, v := range e.Ints {
		if v > math.MaxInt32 || v < math.MinInt32 {
			return nil, false
		}
	}
	c := e.Clone()
	c.Type = to
	return c, true
}
