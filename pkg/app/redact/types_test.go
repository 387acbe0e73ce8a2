package redact

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOutputResultFormatSize(t *testing.T) {
	tests := []struct {
		size int64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.0 KB"},
		{1536, "1.5 KB"},
		{5 * 1024 * 1024, "5.0 MB"},
		{2 * 1024 * 1024 * 1024, "2.0 GB"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			o := OutputResult{Size: tt.size}
			assert.Equal(t, tt.want, o.FormatSize())
		})
	}
}

func TestResponseTotalSize(t *testing.T) {
	r := &Response{Outputs: []OutputResult{{Size: 10}, {Size: 32}}}
	assert.Equal(t, int64(42), r.TotalSize())
	assert.Equal(t, int64(0), (&Response{}).TotalSize())
}
