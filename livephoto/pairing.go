// Package livephoto pairs still images with the short motion assets some
// cameras record alongside them. A pair shares its full basename (directory
// and stem) and differs only by extension.
package livephoto

import (
	"github.com/afilmory/builder/storage"
	"github.com/afilmory/builder/util"
)

var motionExtensions = []string{"mov", "mp4"}

// Index is built once per build from the full object listing and is
// read-only afterwards, so it is safe to consult from concurrent tasks.
type Index struct {
	videos map[string]storage.StorageObject
}

func IsMotionAsset(key string) bool {
	return util.ArrayContains(motionExtensions, util.Extension(key))
}

// BuildIndex scans the listing once, O(n), keying motion assets by stem.
func BuildIndex(objects []storage.StorageObject) *Index {
	videos := make(map[string]storage.StorageObject)
	for _, obj := range objects {
		if IsMotionAsset(obj.Key) {
			videos[util.Stem(obj.Key)] = obj
		}
	}
	return &Index{videos: videos}
}

// Lookup returns the motion asset paired with the given still image key.
func (i *Index) Lookup(imageKey string) (storage.StorageObject, bool) {
	obj, ok := i.videos[util.Stem(imageKey)]
	return obj, ok
}

func (i *Index) Len() int {
	return len(i.videos)
}
