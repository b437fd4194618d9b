package pipeline

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/afilmory/builder/manifest"
	"github.com/dsoprea/go-exif/v3"
	exifcommon "github.com/dsoprea/go-exif/v3/common"
)

type ExifOrientation struct {
	RotateDegrees  int // should be 0, 90, 180, or 270
	FlipVertical   bool
	FlipHorizontal bool
}

const exifTimeLayout = "2006:01:02 15:04:05"

// extractExif pulls the picked tag subset, the capture time and the
// orientation out of the raw image bytes. Photos without EXIF data return
// all-nil without an error.
func extractExif(b []byte) (*manifest.ExifInfo, *ExifOrientation, time.Time, error) {
	var dateTaken time.Time

	rawExif, err := exif.SearchAndExtractExif(b)
	if err != nil {
		if errors.Is(err, exif.ErrNoExif) {
			return nil, nil, dateTaken, nil
		}
		return nil, nil, dateTaken, fmt.Errorf("exif: error reading possible exif data: %w", err)
	}

	tags, _, err := exif.GetFlatExifData(rawExif, nil)
	if err != nil {
		return nil, nil, dateTaken, fmt.Errorf("exif: error parsing exif data: %w", err)
	}

	info := &manifest.ExifInfo{}
	var orientation *ExifOrientation

	for _, t := range tags {
		switch t.TagName {
		case "Make":
			info.Make = tagString(t)
		case "Model":
			info.Model = tagString(t)
		case "LensModel":
			info.LensModel = tagString(t)
		case "FNumber":
			if f, ok := tagRational(t.Value); ok {
				info.FNumber = fmt.Sprintf("f/%.1f", f)
			}
		case "ExposureTime":
			info.ExposureTime = tagString(t)
		case "ISOSpeedRatings", "PhotographicSensitivity":
			if v, ok := tagInt(t.Value); ok && info.ISO == 0 {
				info.ISO = v
			}
		case "FocalLength":
			if f, ok := tagRational(t.Value); ok {
				info.FocalLength = f
			}
		case "FocalLengthIn35mmFilm":
			if v, ok := tagInt(t.Value); ok {
				info.FocalLength35mm = v
			}
		case "DateTimeOriginal":
			info.DateTimeOriginal = tagString(t)
			if parsed, perr := time.Parse(exifTimeLayout, info.DateTimeOriginal); perr == nil {
				dateTaken = parsed
			}
		case "Orientation":
			orientation = parseOrientation(t.Value)
		}
	}

	if *info == (manifest.ExifInfo{}) {
		info = nil
	}
	return info, orientation, dateTaken, nil
}

func tagString(t exif.ExifTag) string {
	if s, ok := t.Value.(string); ok {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(t.FormattedFirst)
}

func tagRational(v interface{}) (float64, bool) {
	switch r := v.(type) {
	case []exifcommon.Rational:
		if len(r) > 0 && r[0].Denominator != 0 {
			return float64(r[0].Numerator) / float64(r[0].Denominator), true
		}
	case []exifcommon.SignedRational:
		if len(r) > 0 && r[0].Denominator != 0 {
			return float64(r[0].Numerator) / float64(r[0].Denominator), true
		}
	}
	return 0, false
}

func tagInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case uint16:
		return int(n), true
	case []uint16:
		if len(n) > 0 {
			return int(n[0]), true
		}
	case uint32:
		return int(n), true
	case []uint32:
		if len(n) > 0 {
			return int(n[0]), true
		}
	}
	return 0, false
}

func parseOrientation(v interface{}) *ExifOrientation {
	var orientation uint16
	vals, ok := v.([]uint16)
	if !ok || len(vals) <= 0 {
		orientation, ok = v.(uint16)
		if !ok {
			return nil
		}
	} else {
		orientation = vals[0]
	}

	// Some devices produce invalid exif data when they intend to mean "no
	// orientation"
	if orientation < 1 || orientation > 8 {
		return nil
	}

	flipHorizontal := orientation < 5 && (orientation%2) == 0
	flipVertical := orientation > 4 && (orientation%2) != 0
	degrees := 0

	if orientation == 3 || orientation == 4 {
		degrees = 180
	} else if orientation == 5 || orientation == 6 {
		degrees = 270
	} else if orientation == 7 || orientation == 8 {
		degrees = 90
	}

	return &ExifOrientation{degrees, flipVertical, flipHorizontal}
}
