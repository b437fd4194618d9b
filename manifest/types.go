package manifest

import (
	"time"
)

// SchemaVersion tags a manifest with the migration steps already applied to
// it. The set is closed: new versions are appended here and given a step in
// the migrate package.
type SchemaVersion string

const (
	V1 SchemaVersion = "v1"
	V2 SchemaVersion = "v2"
	V3 SchemaVersion = "v3"
	V4 SchemaVersion = "v4"
	V5 SchemaVersion = "v5"
	V6 SchemaVersion = "v6"

	CurrentVersion = V6
)

const CompressedHistogramBuckets = 64
const HistogramScale = 10000

type ExifInfo struct {
	Make             string  `json:"make,omitempty"`
	Model            string  `json:"model,omitempty"`
	LensModel        string  `json:"lensModel,omitempty"`
	FNumber          string  `json:"fNumber,omitempty"`
	ExposureTime     string  `json:"exposureTime,omitempty"`
	ISO              int     `json:"iso,omitempty"`
	FocalLength      float64 `json:"focalLength,omitempty"`
	FocalLength35mm  int     `json:"focalLength35mm,omitempty"`
	DateTimeOriginal string  `json:"dateTimeOriginal,omitempty"`
}

// CompressedHistogramData stores a 256-bucket histogram down-sampled to 64
// buckets per channel, each bucket a fraction scaled by HistogramScale.
type CompressedHistogramData struct {
	Red       []int `json:"red"`
	Green     []int `json:"green"`
	Blue      []int `json:"blue"`
	Luminance []int `json:"luminance"`
}

type ToneAnalysis struct {
	DominantTone string                   `json:"dominantTone"`
	Brightness   float64                  `json:"brightness"`
	Contrast     float64                  `json:"contrast"`
	Histogram    *CompressedHistogramData `json:"histogram,omitempty"`
}

type PhotoManifestItem struct {
	Id                  string        `json:"id"`
	S3Key               string        `json:"s3Key"`
	LastModified        time.Time     `json:"lastModified"`
	DateTaken           time.Time     `json:"dateTaken"`
	Width               int           `json:"width"`
	Height              int           `json:"height"`
	AspectRatio         float64       `json:"aspectRatio"`
	Exif                *ExifInfo     `json:"exif,omitempty"`
	ThumbnailUrl        string        `json:"thumbnailUrl"`
	Blurhash            string        `json:"blurhash,omitempty"`
	ToneAnalysis        *ToneAnalysis `json:"toneAnalysis,omitempty"`
	IsLivePhoto         bool          `json:"isLivePhoto"`
	LivePhotoVideoS3Key string        `json:"livePhotoVideoS3Key,omitempty"`
	LivePhotoVideoUrl   string        `json:"livePhotoVideoUrl,omitempty"`
}

// CaptureDate orders items in the persisted manifest. EXIF capture time wins
// when present, otherwise the storage timestamp.
func (i *PhotoManifestItem) CaptureDate() time.Time {
	if !i.DateTaken.IsZero() {
		return i.DateTaken
	}
	return i.LastModified
}

type CameraInfo struct {
	Make  string `json:"make"`
	Model string `json:"model"`
}

type LensInfo struct {
	Model string `json:"model"`
}

type AfilmoryManifest struct {
	Version SchemaVersion        `json:"version"`
	Data    []*PhotoManifestItem `json:"data"`
	Cameras []CameraInfo         `json:"cameras,omitempty"`
	Lenses  []LensInfo           `json:"lenses,omitempty"`
}

func NewEmptyManifest() *AfilmoryManifest {
	return &AfilmoryManifest{
		Version: CurrentVersion,
		Data:    []*PhotoManifestItem{},
	}
}
