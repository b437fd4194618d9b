// Package builder is the composition root of the build pipeline: it lists
// the library, loads and migrates the manifest, dispatches per-photo tasks
// to the worker pool, merges results, runs deletion detection and saves.
package builder

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/afilmory/builder/common"
	"github.com/afilmory/builder/common/config"
	"github.com/afilmory/builder/common/rcontext"
	"github.com/afilmory/builder/livephoto"
	"github.com/afilmory/builder/manifest"
	"github.com/afilmory/builder/manifest/migrate"
	"github.com/afilmory/builder/metrics"
	"github.com/afilmory/builder/pipeline"
	"github.com/afilmory/builder/pool"
	"github.com/afilmory/builder/storage"
	"github.com/afilmory/builder/util"
	"github.com/dustin/go-humanize"
	"github.com/getsentry/sentry-go"
)

type Builder struct {
	cfg        config.BuilderConfig
	configPath string
	provider   storage.Provider
	manager    *manifest.Manager
}

type Summary struct {
	Processed    int
	Skipped      int
	Failed       int
	Deleted      int
	FetchedBytes int64
	Elapsed      time.Duration
}

func New(cfg config.BuilderConfig, configPath string) (*Builder, error) {
	provider, err := storage.NewProvider(cfg.Storage)
	if err != nil {
		return nil, err
	}
	return NewWithProvider(cfg, configPath, provider), nil
}

// NewWithProvider wires an already-constructed provider; callers that embed
// the builder (and tests) use this to supply their own storage.
func NewWithProvider(cfg config.BuilderConfig, configPath string, provider storage.Provider) *Builder {
	manager := manifest.NewManager(cfg.Options)
	manager.Migrate = migrate.Run

	return &Builder{
		cfg:        cfg,
		configPath: configPath,
		provider:   provider,
		manager:    manager,
	}
}

// Run executes one full build. The returned error is non-nil only for the
// fatal failure classes: unreachable storage, a failing migration step, or
// a manifest save that did not complete.
func (b *Builder) Run(ctx rcontext.BuildContext) (*Summary, error) {
	start := time.Now()
	summary := &Summary{}

	// List everything up front. The listing is consumed exactly once; both
	// live photo pairing and dispatch work from this snapshot.
	listing, err := b.provider.List(ctx, b.cfg.Storage.Prefix)
	if err != nil {
		sentry.CaptureException(err)
		return nil, err
	}
	var objects []storage.StorageObject
	for info := range listing {
		if info.Err != nil {
			sentry.CaptureException(info.Err)
			return nil, info.Err
		}
		objects = append(objects, info.StorageObject)
	}
	ctx.Log.Info("Listed ", len(objects), " objects")

	var images []storage.StorageObject
	for _, obj := range objects {
		if util.ArrayContains(b.cfg.Options.SupportedFormats, util.Extension(obj.Key)) {
			images = append(images, obj)
		}
	}

	var livePhotos *livephoto.Index
	if b.cfg.Options.EnableLivePhotoDetection {
		livePhotos = livephoto.BuildIndex(objects)
		ctx.Log.Info("Found ", livePhotos.Len(), " motion asset candidates")
	}

	existing, err := b.manager.Load(ctx)
	if err != nil {
		sentry.CaptureException(err)
		return nil, err
	}
	byKey := make(map[string]*manifest.PhotoManifestItem, len(existing.Data))
	for _, item := range existing.Data {
		byKey[item.S3Key] = item
	}

	flags := pipeline.FlagsFromConfig(b.cfg.Options)
	pipe := pipeline.New(b.provider, livePhotos, b.cfg.Options)

	poolOpts := pool.Options{
		Workers:        b.cfg.WorkerCount(),
		TaskTimeout:    time.Duration(b.cfg.Performance.Worker.TimeoutSeconds) * time.Second,
		TasksPerSecond: b.cfg.Performance.Worker.TasksPerSecond,
	}
	if b.cfg.Performance.Worker.UseClusterMode {
		poolOpts.ClusterRun = pool.NewClusterRunner(b.configPath)
	}
	workers, err := pool.NewWorkerPool(poolOpts, "photos")
	if err != nil {
		return nil, err
	}
	defer workers.Shutdown()

	// Partition: reusable items vs objects that need the pipeline.
	var items []*manifest.PhotoManifestItem
	var pending []storage.StorageObject
	for _, obj := range images {
		ex := byKey[obj.Key]
		if pipeline.ShouldSkip(ex, obj, flags) {
			items = append(items, ex)
			summary.Skipped++
			continue
		}
		pending = append(pending, obj)
	}
	ctx.Log.Info("Reusing ", summary.Skipped, " up-to-date items, processing ", len(pending))

	var fetchedBytes atomic.Int64
	objByKey := make(map[string]storage.StorageObject, len(pending))
	for _, obj := range pending {
		objByKey[obj.Key] = obj
	}

	finalizeFailure := func(key string, taskErr error) {
		summary.Failed++
		ctx.Log.WithField("photo", key).Error("Processing failed: ", taskErr)
		if prior := byKey[key]; prior != nil {
			// Keep last known good state rather than dropping the photo.
			items = append(items, prior)
		}
	}

	for round := 0; ; round++ {
		aborted := false
		for i := 0; i < len(pending); i++ {
			if ctx.Err() != nil {
				// External abort: no new dispatch, in-flight tasks finish on
				// their own. Photos that were never dispatched keep their
				// prior manifest state so the save and deletion scan below
				// don't treat them as gone.
				aborted = true
				for _, rest := range pending[i:] {
					finalizeFailure(rest.Key, common.ErrTaskAborted)
				}
				break
			}
			obj := pending[i]
			submitErr := workers.Submit(ctx, obj.Key, func(tctx rcontext.BuildContext) (*manifest.PhotoManifestItem, error) {
				item, perr := pipe.Process(tctx, obj, byKey[obj.Key], flags)
				if perr == nil {
					fetchedBytes.Add(obj.Size)
				}
				return item, perr
			})
			if submitErr != nil {
				finalizeFailure(obj.Key, submitErr)
			}
		}

		res := workers.Wait()
		for _, s := range res.Succeeded {
			items = append(items, s.Item)
			summary.Processed++
		}

		var retry []storage.StorageObject
		for _, f := range res.Failed {
			if round < b.cfg.Options.MaxRetries && isRetryable(f.Err) && ctx.Err() == nil {
				ctx.Log.WithField("photo", f.Key).Warn("Retrying after: ", f.Err)
				retry = append(retry, objByKey[f.Key])
			} else {
				finalizeFailure(f.Key, f.Err)
			}
		}

		if aborted {
			ctx.Log.Warn("Build aborted - preserving prior state for unprocessed photos")
			break
		}
		if len(retry) == 0 {
			break
		}
		pending = retry
	}

	items = dedupeIds(ctx, items)
	summary.FetchedBytes = fetchedBytes.Load()

	if err = b.manager.Save(ctx, items); err != nil {
		sentry.CaptureException(err)
		return nil, err
	}

	summary.Deleted = b.manager.DetectDeletions(ctx, items)
	summary.Elapsed = time.Since(start)

	metrics.PhotosProcessed.Add(float64(summary.Processed))
	metrics.PhotosSkipped.Add(float64(summary.Skipped))
	metrics.PhotosFailed.Add(float64(summary.Failed))
	metrics.ThumbnailsDeleted.Add(float64(summary.Deleted))
	metrics.BytesFetched.Add(float64(summary.FetchedBytes))
	metrics.BuildDuration.Observe(summary.Elapsed.Seconds())

	ctx.Log.Infof("Build finished in %s: %d processed, %d skipped, %d failed, %d deleted (%s fetched)",
		summary.Elapsed.Round(time.Millisecond), summary.Processed, summary.Skipped,
		summary.Failed, summary.Deleted, humanize.Bytes(uint64(summary.FetchedBytes)))

	return summary, nil
}

// ProcessOne processes a single photo from scratch and returns the item.
// This is the child side of cluster mode: the parent already decided the
// photo needs work, so the skip policy does not apply here. Force-flag
// granularity does not subdivide across the process boundary either - the
// child has no cached item to reuse parts of, so it always regenerates
// everything. The listing is scoped to the photo's stem, which also
// captures a live-photo sibling.
func (b *Builder) ProcessOne(ctx rcontext.BuildContext, key string) (*manifest.PhotoManifestItem, error) {
	listing, err := b.provider.List(ctx, util.Stem(key))
	if err != nil {
		return nil, err
	}

	var objects []storage.StorageObject
	var target *storage.StorageObject
	for info := range listing {
		if info.Err != nil {
			return nil, info.Err
		}
		objects = append(objects, info.StorageObject)
		if info.Key == key {
			obj := info.StorageObject
			target = &obj
		}
	}
	if target == nil {
		return nil, common.ErrObjectNotFound
	}

	var livePhotos *livephoto.Index
	if b.cfg.Options.EnableLivePhotoDetection {
		livePhotos = livephoto.BuildIndex(objects)
	}

	pipe := pipeline.New(b.provider, livePhotos, b.cfg.Options)
	return pipe.Process(ctx, *target, nil, pipeline.ForceFlags{All: true})
}

// isRetryable separates task-level failures (worth another attempt) from
// object-level ones where the object itself is the problem.
func isRetryable(err error) bool {
	if errors.Is(err, common.ErrObjectNotFound) ||
		errors.Is(err, common.ErrUnsupportedFormat) ||
		errors.Is(err, common.ErrDecodeFailed) ||
		errors.Is(err, common.ErrTaskAborted) {
		return false
	}
	return true
}

// dedupeIds enforces the unique-id invariant; duplicate basenames in
// different directories would otherwise collide in the manifest and the
// thumbnail directory.
func dedupeIds(ctx rcontext.BuildContext, items []*manifest.PhotoManifestItem) []*manifest.PhotoManifestItem {
	seen := make(map[string]bool, len(items))
	out := items[:0]
	for _, item := range items {
		if item == nil {
			continue
		}
		if seen[item.Id] {
			ctx.Log.Warn("Duplicate item id ", item.Id, " (", item.S3Key, ") - keeping first occurrence")
			continue
		}
		seen[item.Id] = true
		out = append(out, item)
	}
	return out
}
