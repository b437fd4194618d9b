package builder_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image/color"
	"os"
	"path"
	"sync"
	"testing"
	"time"

	"github.com/afilmory/builder/builder"
	"github.com/afilmory/builder/common"
	"github.com/afilmory/builder/common/config"
	"github.com/afilmory/builder/common/rcontext"
	"github.com/afilmory/builder/manifest"
	"github.com/afilmory/builder/storage"
	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeProvider serves objects from memory and counts fetches, which is what
// lets the tests assert the skip law.
type fakeProvider struct {
	mu          sync.Mutex
	objects     []storage.StorageObject
	data        map[string][]byte
	fetches     map[string]int
	unreachable bool
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		data:    make(map[string][]byte),
		fetches: make(map[string]int),
	}
}

func (f *fakeProvider) addPhoto(key string, lastModified time.Time) {
	img := imaging.New(32, 24, color.NRGBA{R: 90, G: 100, B: 110, A: 255})
	buf := &bytes.Buffer{}
	if err := imaging.Encode(buf, img, imaging.JPEG); err != nil {
		panic(err)
	}
	f.addRaw(key, buf.Bytes(), lastModified)
}

func (f *fakeProvider) addRaw(key string, b []byte, lastModified time.Time) {
	f.objects = append(f.objects, storage.StorageObject{
		Key:          key,
		Size:         int64(len(b)),
		LastModified: lastModified,
	})
	f.data[key] = b
}

func (f *fakeProvider) List(ctx rcontext.BuildContext, prefix string) (<-chan storage.ObjectInfo, error) {
	if f.unreachable {
		return nil, fmt.Errorf("list: %w", common.ErrStorageUnreachable)
	}
	ch := make(chan storage.ObjectInfo)
	go func() {
		defer close(ch)
		for _, obj := range f.objects {
			ch <- storage.ObjectInfo{StorageObject: obj}
		}
	}()
	return ch, nil
}

func (f *fakeProvider) Fetch(ctx rcontext.BuildContext, key string) ([]byte, error) {
	f.mu.Lock()
	f.fetches[key]++
	f.mu.Unlock()

	b, ok := f.data[key]
	if !ok {
		return nil, fmt.Errorf("fetch %s: %w", key, common.ErrObjectNotFound)
	}
	return b, nil
}

func (f *fakeProvider) fetchCount(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches[key]
}

func (f *fakeProvider) BaseUrl() string {
	return "https://cdn.example.com"
}

type buildEnv struct {
	cfg      config.BuilderConfig
	ctx      rcontext.BuildContext
	provider *fakeProvider
}

func newBuildEnv(t *testing.T) *buildEnv {
	dir := t.TempDir()
	cfg := config.NewDefaultBuilderConfig()
	cfg.Options.ManifestPath = path.Join(dir, "manifest.json")
	cfg.Options.ThumbnailDir = path.Join(dir, "thumbnails")
	cfg.Options.DefaultConcurrency = 2

	return &buildEnv{
		cfg:      cfg,
		ctx:      rcontext.Initial(cfg),
		provider: newFakeProvider(),
	}
}

func (e *buildEnv) run(t *testing.T) *builder.Summary {
	b := builder.NewWithProvider(e.cfg, "", e.provider)
	summary, err := b.Run(e.ctx)
	require.NoError(t, err)
	return summary
}

func (e *buildEnv) seedManifest(t *testing.T, items ...*manifest.PhotoManifestItem) {
	m := &manifest.AfilmoryManifest{Version: manifest.CurrentVersion, Data: items}
	b, err := json.MarshalIndent(m, "", "  ")
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(path.Dir(e.cfg.Options.ManifestPath), 0755))
	require.NoError(t, os.WriteFile(e.cfg.Options.ManifestPath, b, 0644))
}

func (e *buildEnv) readManifest(t *testing.T) *manifest.AfilmoryManifest {
	b, err := os.ReadFile(e.cfg.Options.ManifestPath)
	require.NoError(t, err)
	m := &manifest.AfilmoryManifest{}
	require.NoError(t, json.Unmarshal(b, m))
	return m
}

func TestBuildFromScratch(t *testing.T) {
	env := newBuildEnv(t)
	base := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	env.provider.addPhoto("photos/a.jpg", base)
	env.provider.addPhoto("photos/b.jpg", base.Add(time.Hour))

	summary := env.run(t)
	assert.Equal(t, 2, summary.Processed)
	assert.Equal(t, 0, summary.Skipped)
	assert.Equal(t, 0, summary.Failed)
	assert.Equal(t, 0, summary.Deleted)

	m := env.readManifest(t)
	require.Len(t, m.Data, 2)
	// capture date descending
	assert.Equal(t, "b", m.Data[0].Id)
	assert.Equal(t, "a", m.Data[1].Id)
}

func TestSkipLawNoRefetchForUnchangedObjects(t *testing.T) {
	env := newBuildEnv(t)
	base := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	env.provider.addPhoto("photos/a.jpg", base)
	env.seedManifest(t, &manifest.PhotoManifestItem{
		Id:           "a",
		S3Key:        "photos/a.jpg",
		LastModified: base,
		ThumbnailUrl: "/thumbnails/a.jpg",
	})

	summary := env.run(t)
	assert.Equal(t, 0, summary.Processed)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 0, env.provider.fetchCount("photos/a.jpg"))

	m := env.readManifest(t)
	require.Len(t, m.Data, 1)
	assert.Equal(t, "/thumbnails/a.jpg", m.Data[0].ThumbnailUrl)
}

func TestStaleAndNewObjectsAreProcessed(t *testing.T) {
	env := newBuildEnv(t)
	t0 := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Hour)
	t2 := t0.Add(2 * time.Hour)

	env.provider.addPhoto("photos/A.jpg", t1)
	env.provider.addPhoto("photos/B.jpg", t2)
	env.seedManifest(t, &manifest.PhotoManifestItem{
		Id:           "A",
		S3Key:        "photos/A.jpg",
		LastModified: t0,
	})

	summary := env.run(t)
	assert.Equal(t, 2, summary.Processed)
	assert.Equal(t, 0, summary.Skipped)
	assert.Equal(t, 0, summary.Deleted)
	assert.Equal(t, 1, env.provider.fetchCount("photos/A.jpg"))
	assert.Equal(t, 1, env.provider.fetchCount("photos/B.jpg"))

	m := env.readManifest(t)
	require.Len(t, m.Data, 2)
	assert.Equal(t, "B", m.Data[0].Id)
	assert.Equal(t, "A", m.Data[1].Id)
	// A really was reprocessed
	assert.Equal(t, t1, m.Data[1].LastModified.UTC())
	assert.NotEmpty(t, m.Data[1].Blurhash)
}

func TestDeletionScenario(t *testing.T) {
	env := newBuildEnv(t)
	base := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	env.provider.addPhoto("photos/A.jpg", base)
	env.seedManifest(t,
		&manifest.PhotoManifestItem{Id: "A", S3Key: "photos/A.jpg", LastModified: base},
		&manifest.PhotoManifestItem{Id: "C", S3Key: "photos/C.jpg", LastModified: base},
	)
	require.NoError(t, os.MkdirAll(env.cfg.Options.ThumbnailDir, 0755))
	require.NoError(t, os.WriteFile(path.Join(env.cfg.Options.ThumbnailDir, "A.jpg"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(path.Join(env.cfg.Options.ThumbnailDir, "C.jpg"), []byte("x"), 0644))

	summary := env.run(t)
	assert.Equal(t, 1, summary.Deleted)

	m := env.readManifest(t)
	require.Len(t, m.Data, 1)
	assert.Equal(t, "A", m.Data[0].Id)

	_, err := os.Stat(path.Join(env.cfg.Options.ThumbnailDir, "C.jpg"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(path.Join(env.cfg.Options.ThumbnailDir, "A.jpg"))
	assert.NoError(t, err)
}

func TestRebuildIsIdempotent(t *testing.T) {
	env := newBuildEnv(t)
	base := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	env.provider.addPhoto("photos/a.jpg", base)
	env.provider.addPhoto("photos/b.jpg", base.Add(time.Hour))

	env.run(t)
	first, err := os.ReadFile(env.cfg.Options.ManifestPath)
	require.NoError(t, err)

	summary := env.run(t)
	assert.Equal(t, 2, summary.Skipped)
	second, err := os.ReadFile(env.cfg.Options.ManifestPath)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestBrokenObjectPreservesPriorItemAndContinues(t *testing.T) {
	env := newBuildEnv(t)
	base := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	env.provider.addRaw("photos/broken.jpg", []byte("definitely not a jpeg"), base.Add(time.Hour))
	env.provider.addPhoto("photos/ok.jpg", base)
	env.seedManifest(t, &manifest.PhotoManifestItem{
		Id:           "broken",
		S3Key:        "photos/broken.jpg",
		LastModified: base,
		ThumbnailUrl: "/thumbnails/broken.jpg",
	})

	summary := env.run(t)
	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 1, summary.Failed)

	// prior cached item survives the failed update
	m := env.readManifest(t)
	require.Len(t, m.Data, 2)
	ids := []string{m.Data[0].Id, m.Data[1].Id}
	assert.Contains(t, ids, "broken")
	assert.Contains(t, ids, "ok")
}

func TestLivePhotoPairingEndToEnd(t *testing.T) {
	env := newBuildEnv(t)
	base := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	env.provider.addPhoto("photos/IMG_1.jpg", base)
	env.provider.addRaw("photos/IMG_1.mov", []byte("movdata"), base)

	summary := env.run(t)
	assert.Equal(t, 1, summary.Processed)

	m := env.readManifest(t)
	require.Len(t, m.Data, 1)
	assert.True(t, m.Data[0].IsLivePhoto)
	assert.Equal(t, "photos/IMG_1.mov", m.Data[0].LivePhotoVideoS3Key)
	assert.Equal(t, "https://cdn.example.com/photos/IMG_1.mov", m.Data[0].LivePhotoVideoUrl)
}

func TestAbortKeepsPriorStateForUndispatchedPhotos(t *testing.T) {
	env := newBuildEnv(t)
	base := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	env.provider.addPhoto("photos/A.jpg", base.Add(time.Hour))
	env.provider.addPhoto("photos/B.jpg", base.Add(time.Hour))
	env.seedManifest(t,
		&manifest.PhotoManifestItem{Id: "A", S3Key: "photos/A.jpg", LastModified: base, ThumbnailUrl: "/thumbnails/A.jpg"},
		&manifest.PhotoManifestItem{Id: "B", S3Key: "photos/B.jpg", LastModified: base, ThumbnailUrl: "/thumbnails/B.jpg"},
	)
	require.NoError(t, os.MkdirAll(env.cfg.Options.ThumbnailDir, 0755))
	require.NoError(t, os.WriteFile(path.Join(env.cfg.Options.ThumbnailDir, "A.jpg"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(path.Join(env.cfg.Options.ThumbnailDir, "B.jpg"), []byte("x"), 0644))

	cctx, cancel := context.WithCancel(context.Background())
	cancel()

	b := builder.NewWithProvider(env.cfg, "", env.provider)
	summary, err := b.Run(env.ctx.WithContext(cctx))
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Processed)
	assert.Equal(t, 2, summary.Failed)
	assert.Equal(t, 0, summary.Deleted)

	// both stale photos survive with their prior items and thumbnails
	m := env.readManifest(t)
	require.Len(t, m.Data, 2)
	ids := []string{m.Data[0].Id, m.Data[1].Id}
	assert.Contains(t, ids, "A")
	assert.Contains(t, ids, "B")
	_, err = os.Stat(path.Join(env.cfg.Options.ThumbnailDir, "A.jpg"))
	assert.NoError(t, err)
	_, err = os.Stat(path.Join(env.cfg.Options.ThumbnailDir, "B.jpg"))
	assert.NoError(t, err)
}

func TestUnreachableStorageIsFatal(t *testing.T) {
	env := newBuildEnv(t)
	env.provider.unreachable = true

	b := builder.NewWithProvider(env.cfg, "", env.provider)
	_, err := b.Run(env.ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrStorageUnreachable)
}

func TestForceModeReprocessesEverything(t *testing.T) {
	env := newBuildEnv(t)
	base := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	env.provider.addPhoto("photos/a.jpg", base)

	env.run(t)
	require.Equal(t, 1, env.provider.fetchCount("photos/a.jpg"))

	env.cfg.Options.ForceMode = true
	summary := env.run(t)
	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 0, summary.Skipped)
	assert.Equal(t, 2, env.provider.fetchCount("photos/a.jpg"))
}
