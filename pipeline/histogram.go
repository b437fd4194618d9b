package pipeline

import (
	"image"
	"math"

	"github.com/afilmory/builder/manifest"
)

const rawBuckets = 256
const bucketStride = rawBuckets / manifest.CompressedHistogramBuckets // 4

// Histogram holds the raw per-channel brightness distribution as fractions
// of the total pixel count (each channel sums to ~1.0).
type Histogram struct {
	Red       [rawBuckets]float64
	Green     [rawBuckets]float64
	Blue      [rawBuckets]float64
	Luminance [rawBuckets]float64
}

// ComputeHistogram buckets every pixel of img into 256 levels per channel.
// Luminance uses the Rec. 601 weights.
func ComputeHistogram(img image.Image) *Histogram {
	h := &Histogram{}
	bounds := img.Bounds()
	total := float64(bounds.Dx() * bounds.Dy())
	if total == 0 {
		return h
	}

	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			r8 := r >> 8
			g8 := g >> 8
			b8 := b >> 8
			lum := uint32(0.299*float64(r8) + 0.587*float64(g8) + 0.114*float64(b8))
			if lum > 255 {
				lum = 255
			}
			h.Red[r8]++
			h.Green[g8]++
			h.Blue[b8]++
			h.Luminance[lum]++
		}
	}

	for i := 0; i < rawBuckets; i++ {
		h.Red[i] /= total
		h.Green[i] /= total
		h.Blue[i] /= total
		h.Luminance[i] /= total
	}
	return h
}

// Compress down-samples 256 raw buckets to 64 per channel by taking every
// 4th bucket and truncating its fraction scaled by HistogramScale. Lossy:
// the discarded buckets are not recoverable.
func Compress(h *Histogram) *manifest.CompressedHistogramData {
	compress := func(raw *[rawBuckets]float64) []int {
		out := make([]int, manifest.CompressedHistogramBuckets)
		for i := 0; i < manifest.CompressedHistogramBuckets; i++ {
			out[i] = int(raw[i*bucketStride] * manifest.HistogramScale)
		}
		return out
	}
	return &manifest.CompressedHistogramData{
		Red:       compress(&h.Red),
		Green:     compress(&h.Green),
		Blue:      compress(&h.Blue),
		Luminance: compress(&h.Luminance),
	}
}

// Decompress reconstructs 256 display points per channel by linear
// interpolation between consecutive compressed buckets. Reproduces the
// compressed sample exactly at every index divisible by 4.
func Decompress(c *manifest.CompressedHistogramData) map[string][]float64 {
	decompress := func(buckets []int) []float64 {
		out := make([]float64, rawBuckets)
		if len(buckets) == 0 {
			return out
		}
		for i := 0; i < rawBuckets; i++ {
			idx := i / bucketStride
			if idx >= len(buckets) {
				idx = len(buckets) - 1
			}
			next := idx + 1
			if next > len(buckets)-1 {
				next = len(buckets) - 1
			}
			v1 := float64(buckets[idx]) / manifest.HistogramScale
			v2 := float64(buckets[next]) / manifest.HistogramScale
			t := float64(i%bucketStride) / bucketStride
			out[i] = v1*(1-t) + v2*t
		}
		return out
	}
	return map[string][]float64{
		"red":       decompress(c.Red),
		"green":     decompress(c.Green),
		"blue":      decompress(c.Blue),
		"luminance": decompress(c.Luminance),
	}
}

// AnalyzeTone classifies the photo from its luminance distribution.
func AnalyzeTone(h *Histogram) *manifest.ToneAnalysis {
	var mean float64
	for i, frac := range h.Luminance {
		mean += (float64(i) / 255.0) * frac
	}

	var variance float64
	for i, frac := range h.Luminance {
		d := float64(i)/255.0 - mean
		variance += d * d * frac
	}
	// stddev of a uniform 0..1 distribution is ~0.289; normalize so a flat
	// histogram lands near 1.0
	contrast := math.Sqrt(variance) / 0.289

	tone := "normal"
	switch {
	case contrast > 1.15:
		tone = "high-contrast"
	case mean < 0.35:
		tone = "dark"
	case mean > 0.65:
		tone = "light"
	}

	return &manifest.ToneAnalysis{
		DominantTone: tone,
		Brightness:   mean,
		Contrast:     contrast,
		Histogram:    Compress(h),
	}
}
