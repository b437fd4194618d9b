package migrate

import (
	"errors"
	"testing"
	"time"

	"github.com/afilmory/builder/common"
	"github.com/afilmory/builder/common/config"
	"github.com/afilmory/builder/common/rcontext"
	"github.com/afilmory/builder/manifest"
	"github.com/stretchr/testify/assert"
)

func testCtx() rcontext.BuildContext {
	return rcontext.Initial(config.NewDefaultBuilderConfig())
}

func manifestAt(v manifest.SchemaVersion, items ...*manifest.PhotoManifestItem) *manifest.AfilmoryManifest {
	return &manifest.AfilmoryManifest{Version: v, Data: items}
}

func TestRunAlreadyCurrent(t *testing.T) {
	m := manifestAt(manifest.CurrentVersion, &manifest.PhotoManifestItem{Id: "a"})
	err := Run(testCtx(), m, manifest.CurrentVersion)
	assert.NoError(t, err)
	assert.Len(t, m.Data, 1)
}

func TestRunDestructiveLegacyStep(t *testing.T) {
	m := manifestAt(manifest.V1, &manifest.PhotoManifestItem{Id: "a"}, &manifest.PhotoManifestItem{Id: "b"})
	err := Run(testCtx(), m, manifest.CurrentVersion)
	assert.NoError(t, err)
	assert.Equal(t, manifest.CurrentVersion, m.Version)
	assert.Empty(t, m.Data)
}

func TestRunChainFromV2(t *testing.T) {
	item := &manifest.PhotoManifestItem{
		Id:           "a",
		Width:        3000,
		Height:       2000,
		ThumbnailUrl: "/thumbnails/a.webp",
	}
	m := manifestAt(manifest.V2, item)

	err := Run(testCtx(), m, manifest.CurrentVersion)
	assert.NoError(t, err)
	assert.Equal(t, manifest.CurrentVersion, m.Version)
	assert.InDelta(t, 1.5, item.AspectRatio, 0.0001)
	assert.NotNil(t, item.ToneAnalysis)
	assert.Equal(t, "/thumbnails/a.jpg", item.ThumbnailUrl)
}

func TestRunHistogramRescale(t *testing.T) {
	item := &manifest.PhotoManifestItem{
		Id: "a",
		ToneAnalysis: &manifest.ToneAnalysis{
			DominantTone: "normal",
			Histogram: &manifest.CompressedHistogramData{
				Red: []int{100, 200}, Green: []int{1}, Blue: []int{2}, Luminance: []int{3},
			},
		},
	}
	m := manifestAt(manifest.V5, item)

	err := Run(testCtx(), m, manifest.CurrentVersion)
	assert.NoError(t, err)
	assert.Equal(t, []int{1000, 2000}, item.ToneAnalysis.Histogram.Red)
	assert.Equal(t, []int{30}, item.ToneAnalysis.Histogram.Luminance)
}

func TestRunMissingStepFallsBackToNoOpBump(t *testing.T) {
	// No step is registered from this version; data is carried unchanged.
	m := manifestAt("v99", &manifest.PhotoManifestItem{Id: "a"})
	err := Run(testCtx(), m, manifest.CurrentVersion)
	assert.NoError(t, err)
	assert.Equal(t, manifest.CurrentVersion, m.Version)
	assert.Len(t, m.Data, 1)
}

func TestRunCycleGuardTerminates(t *testing.T) {
	looping := []Step{
		{From: "a", To: "b", Exec: func(m *manifest.AfilmoryManifest) error { return nil }},
		{From: "b", To: "a", Exec: func(m *manifest.AfilmoryManifest) error { return nil }},
	}

	m := manifestAt("a")
	done := make(chan error, 1)
	go func() {
		done <- run(testCtx(), m, "z", looping)
	}()

	select {
	case err := <-done:
		assert.NoError(t, err)
		assert.Equal(t, manifest.SchemaVersion("z"), m.Version)
	case <-time.After(5 * time.Second):
		t.Fatal("migration did not terminate")
	}
}

func TestRunStepErrorIsFatal(t *testing.T) {
	failing := []Step{
		{From: "a", To: "b", Exec: func(m *manifest.AfilmoryManifest) error { return errors.New("boom") }},
	}

	m := manifestAt("a")
	err := run(testCtx(), m, "b", failing)
	assert.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrMigrationFailed))
}
