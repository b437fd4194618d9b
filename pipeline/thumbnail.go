package pipeline

import (
	"image"
	"os"
	"path"

	"github.com/buckket/go-blurhash"
	"github.com/disintegration/imaging"
)

const blurhashXComponents = 4
const blurhashYComponents = 3

func applyOrientation(src image.Image, orientation *ExifOrientation) image.Image {
	if orientation == nil {
		return src
	}

	result := src

	// Rotate first
	if orientation.RotateDegrees == 90 {
		result = imaging.Rotate90(result)
	} else if orientation.RotateDegrees == 180 {
		result = imaging.Rotate180(result)
	} else if orientation.RotateDegrees == 270 {
		result = imaging.Rotate270(result)
	} // else we don't care to rotate

	// Flip second
	if orientation.FlipHorizontal {
		result = imaging.FlipH(result)
	}
	if orientation.FlipVertical {
		result = imaging.FlipV(result)
	}

	return result
}

// makeThumbnail scales the source down to fit within maxSize on the long
// edge. Images already small enough pass through untouched.
func makeThumbnail(src image.Image, maxSize int) image.Image {
	b := src.Bounds()
	if b.Dx() <= maxSize && b.Dy() <= maxSize {
		return src
	}
	return imaging.Fit(src, maxSize, maxSize, imaging.Lanczos)
}

// writeThumbnail encodes the thumbnail as JPEG under dir as <id>.jpg and
// returns the file name.
func writeThumbnail(dir string, id string, thumb image.Image) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}

	name := id + ".jpg"
	f, err := os.OpenFile(path.Join(dir, name), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return "", err
	}
	defer f.Close()

	if err = imaging.Encode(f, thumb, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		return "", err
	}
	return name, nil
}

// computeBlurhash encodes a compact visual placeholder. The hash is computed
// from a small resized copy; blurhash gains nothing from more pixels.
func computeBlurhash(src image.Image) (string, error) {
	small := imaging.Fit(src, 64, 64, imaging.Lanczos)
	return blurhash.Encode(blurhashXComponents, blurhashYComponents, small)
}
