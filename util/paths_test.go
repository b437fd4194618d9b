package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIdForKey(t *testing.T) {
	assert.Equal(t, "sunset", IdForKey("photos/2024/sunset.jpg"))
	assert.Equal(t, "sunset", IdForKey("sunset.jpg"))
	assert.Equal(t, "archive.tar", IdForKey("backups/archive.tar.gz"))
	assert.Equal(t, "noext", IdForKey("photos/noext"))
}

func TestStem(t *testing.T) {
	assert.Equal(t, "photos/IMG_0001", Stem("photos/IMG_0001.jpg"))
	assert.Equal(t, "photos/IMG_0001", Stem("photos/IMG_0001.mov"))
	assert.Equal(t, "photos/noext", Stem("photos/noext"))
}

func TestExtension(t *testing.T) {
	assert.Equal(t, "jpg", Extension("photos/a.JPG"))
	assert.Equal(t, "webp", Extension("a.webp"))
	assert.Equal(t, "", Extension("noext"))
}

func TestArrayContains(t *testing.T) {
	formats := []string{"jpg", "png"}
	assert.True(t, ArrayContains(formats, "jpg"))
	assert.False(t, ArrayContains(formats, "gif"))
	assert.False(t, ArrayContains(nil, "jpg"))
}
