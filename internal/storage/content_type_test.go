package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContentType(t *testing.T) {
	jpeg := []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00}
	mp4 := []byte{0x00, 0x00, 0x00, 0x18, 'f', 't', 'y', 'p', 'm', 'p', '4', '2', 0x00, 0x00, 0x00, 0x00}

	tests := []struct {
		name string
		key  string
		data []byte
		want string
	}{
		{"jpeg frame", "abc/frames/frame_0000_0.00s.jpg", jpeg, "image/jpeg"},
		{"mp4 video", "abc/video/abc.mp4", mp4, "video/mp4"},
		{"json record", "abc/aggregated/aggregated.json", []byte(`{"a":1}`), "application/json"},
		{"text report", "abc/aggregated/report.txt", []byte("report"), "text/plain; charset=utf-8"},
		{"unknown", "abc/metadata/blob", []byte("??"), "application/octet-stream"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ContentType(tt.key, tt.data))
		})
	}
}
