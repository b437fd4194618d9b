package util

import (
	"path"
	"strings"
)

// IdForKey derives the stable item id from an object key: the basename with
// the extension stripped.
func IdForKey(key string) string {
	base := path.Base(key)
	return strings.TrimSuffix(base, path.Ext(base))
}

// Stem is the object key without its extension, directory included. Live
// photo pairs share a stem.
func Stem(key string) string {
	return strings.TrimSuffix(key, path.Ext(key))
}

// Extension returns the lowercased extension without the leading dot.
func Extension(key string) string {
	return strings.ToLower(strings.TrimPrefix(path.Ext(key), "."))
}

func ArrayContains(arr []string, val string) bool {
	for _, a := range arr {
		if a == val {
			return true
		}
	}
	return false
}
