package formats

import "strings"

// PropertyMap is the ordered key=value list NDPI stores in its property
// map tag.
type PropertyMap struct {
	keys   []string
	values map[string]string
}

// ParsePropertyMap splits text on CR or LF and keeps lines holding '='.
// A repeated key keeps its first position and last value.
func ParsePropertyMap(text string) *PropertyMap {
	m := &PropertyMap{values: make(map[string]string)}
	for _, line := range strings.FieldsFunc(text, func(r rune) bool { return r == '\r' || r == '\n' }) {
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		m.Set(key, value)
	}
	return m
}

// Get returns a value and whether it is present.
func (m *PropertyMap) Get(key string) (string, bool) {
	v, ok := m.values[key]
	return v, ok
}

// Set replaces or appends key.
func (m *PropertyMap) Set(key, value string) {
	if _, ok := m.values[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.values[key] = value
}

// Delete removes key.
func (m *PropertyMap) Delete(key string) {
	if _, ok := m.values[key]; !ok {
		return
	}
	delete(m.values, key)
	for i, k := range m.keys {
		if k == key {
			m.keys = append(m.keys[:i], m.keys[i+1:]...)
			break
		}
	}
}

// Keys returns the keys in order.
func (m *PropertyMap) Keys() []string {
	return append([]string(nil), m.keys...)
}

// String serializes the map with CRLF line endings.
func (m *PropertyMap) String() string {
	var b strings.Builder
	for _, k := range m.keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(m.values[k])
		b.WriteString("\r\n")
	}
	return b.String()
}
