// Package migrate upgrades a loaded manifest from the schema version it was
// written at to the version this build understands. Steps form a directed
// chain over the closed SchemaVersion set; individual steps may be
// destructive when no faithful transform exists for a legacy layout.
package migrate

import (
	"fmt"
	"strings"

	"github.com/afilmory/builder/common"
	"github.com/afilmory/builder/common/rcontext"
	"github.com/afilmory/builder/manifest"
)

type Step struct {
	From manifest.SchemaVersion
	To   manifest.SchemaVersion
	Exec func(m *manifest.AfilmoryManifest) error
}

// steps is ordered and registered at process start. The chain does not have
// to cover every version pair: unmatched versions fall through to the no-op
// bump in Run.
var steps = []Step{
	{From: manifest.V1, To: manifest.V6, Exec: resetLegacyData},
	{From: manifest.V2, To: manifest.V3, Exec: recomputeAspectRatios},
	{From: manifest.V3, To: manifest.V4, Exec: defaultToneAnalysis},
	{From: manifest.V4, To: manifest.V5, Exec: rewriteThumbnailExtensions},
	{From: manifest.V5, To: manifest.V6, Exec: rescaleHistograms},
}

// Run walks the step table until the manifest reaches target. A version with
// no registered step, or a repeated (from -> target) attempt, gets a no-op
// version bump so the loop always terminates. A step returning an error is
// fatal: the manifest can no longer be trusted.
func Run(ctx rcontext.BuildContext, m *manifest.AfilmoryManifest, target manifest.SchemaVersion) error {
	return run(ctx, m, target, steps)
}

func run(ctx rcontext.BuildContext, m *manifest.AfilmoryManifest, target manifest.SchemaVersion, table []Step) error {
	visited := make(map[string]bool)

	for m.Version != target {
		pair := string(m.Version) + "->" + string(target)
		if visited[pair] {
			ctx.Log.Warn("Migration revisited ", pair, " - forcing version to ", target)
			m.Version = target
			break
		}
		visited[pair] = true

		step := findStep(m.Version, table)
		if step == nil {
			// No transform registered for this version. The content is
			// carried over untouched, which can mask data loss for
			// unregistered legacy versions - make it visible at least.
			ctx.Log.Warn("No migration step from ", m.Version, " - bumping version to ", target, " without transforming data")
			m.Version = target
			break
		}

		ctx.Log.Info("Migrating manifest ", step.From, " -> ", step.To)
		if err := step.Exec(m); err != nil {
			return fmt.Errorf("%w: %s -> %s: %v", common.ErrMigrationFailed, step.From, step.To, err)
		}
		m.Version = step.To
	}

	return nil
}

func findStep(from manifest.SchemaVersion, table []Step) *Step {
	for i := range table {
		if table[i].From == from {
			return &table[i]
		}
	}
	return nil
}

// resetLegacyData discards everything: the v1 layout predates per-item
// derived assets and there is no faithful transform, so all photos get
// reprocessed on the next build.
func resetLegacyData(m *manifest.AfilmoryManifest) error {
	m.Data = []*manifest.PhotoManifestItem{}
	m.Cameras = nil
	m.Lenses = nil
	return nil
}

func recomputeAspectRatios(m *manifest.AfilmoryManifest) error {
	for _, item := range m.Data {
		if item.Height > 0 {
			item.AspectRatio = float64(item.Width) / float64(item.Height)
		}
	}
	return nil
}

func defaultToneAnalysis(m *manifest.AfilmoryManifest) error {
	for _, item := range m.Data {
		if item.ToneAnalysis == nil {
			item.ToneAnalysis = &manifest.ToneAnalysis{DominantTone: "normal"}
		}
	}
	return nil
}

func rewriteThumbnailExtensions(m *manifest.AfilmoryManifest) error {
	for _, item := range m.Data {
		if strings.HasSuffix(item.ThumbnailUrl, ".webp") {
			item.ThumbnailUrl = strings.TrimSuffix(item.ThumbnailUrl, ".webp") + ".jpg"
		}
	}
	return nil
}

// rescaleHistograms converts v5 histograms (scale 1,000) to the current
// scale of 10,000.
func rescaleHistograms(m *manifest.AfilmoryManifest) error {
	rescale := func(buckets []int) {
		for i := range buckets {
			buckets[i] *= 10
		}
	}
	for _, item := range m.Data {
		if item.ToneAnalysis == nil || item.ToneAnalysis.Histogram == nil {
			continue
		}
		h := item.ToneAnalysis.Histogram
		rescale(h.Red)
		rescale(h.Green)
		rescale(h.Blue)
		rescale(h.Luminance)
	}
	return nil
}
