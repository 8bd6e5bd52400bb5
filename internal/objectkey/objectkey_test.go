package objectkey

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGenerator_Key(t *testing.T) {
	g := New("videos/")
	ts := time.Date(2026, 10, 16, 23, 30, 0, 0, time.UTC)

	key := g.Key("Holiday.MP4", "video/mp4", ts)

	assert.True(t, strings.HasPrefix(key, "videos/2026/10/16/"), key)
	assert.True(t, strings.HasSuffix(key, ".mp4"), key)
	assert.True(t, g.Owns(key), key)
}

func TestGenerator_KeysAreUnique(t *testing.T) {
	g := New("")
	ts := time.Now()
	seen := make(map[string]struct{})
	for i := 0; i < 1000; i++ {
		k := g.Key("a.mp4", "video/mp4", ts)
		_, dup := seen[k]
		assert.False(t, dup)
		seen[k] = struct{}{}
	}
}

func TestGenerator_Owns(t *testing.T) {
	g := New("videos")

	assert.False(t, g.Owns("other/2026/10/16/2HbR8xQ2wH7Rj5a3ZKc1cXk9YyV.mp4"))
	assert.False(t, g.Owns("videos/readme.txt"))
	assert.False(t, g.Owns("videos/2026/10/16/short.mp4"))
	assert.True(t, g.Owns("videos/2026/10/16/2HbR8xQ2wH7Rj5a3ZKc1cXk9YyV"))
}

func TestExtension(t *testing.T) {
	tests := []struct {
		name        string
		fileName    string
		contentType string
		want        string
	}{
		{"from_name", "clip.MOV", "video/quicktime", ".mov"},
		{"from_content_type", "clip", "video/mp4", ".mp4"},
		{"unsafe_name_ext", "clip.m p4", "video/webm", ".webm"},
		{"unknown", "clip", "application/x-unknown-thing", ""},
		{"nothing", "clip", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Extension(tt.fileName, tt.contentType))
		})
	}
}
