// Package pipeline turns one storage object into one manifest item: fetch,
// decode and orientation-normalize, extract the EXIF subset, generate the
// thumbnail and blurhash, and analyze tone. Each stage short-circuits on
// error; a failure only ever affects its own photo.
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/afilmory/builder/common"
	"github.com/afilmory/builder/common/config"
	"github.com/afilmory/builder/common/rcontext"
	"github.com/afilmory/builder/livephoto"
	"github.com/afilmory/builder/manifest"
	"github.com/afilmory/builder/storage"
	"github.com/afilmory/builder/util"
	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// ForceFlags are orthogonal and may combine. All wins over the other two.
type ForceFlags struct {
	All            bool // ignore the skip policy entirely
	ManifestOnly   bool // recompute metadata/EXIF, reuse cached thumbnail
	ThumbnailsOnly bool // regenerate thumbnail/hash, reuse cached metadata
}

func (f ForceFlags) Any() bool {
	return f.All || f.ManifestOnly || f.ThumbnailsOnly
}

func FlagsFromConfig(opts config.OptionsConfig) ForceFlags {
	return ForceFlags{
		All:            opts.ForceMode,
		ManifestOnly:   opts.ForceManifest,
		ThumbnailsOnly: opts.ForceThumbnails,
	}
}

// ShouldSkip is the incremental-skip policy, evaluated before any fetch
// happens: an up-to-date item is reused wholesale unless a force flag asks
// for recomputation.
func ShouldSkip(existing *manifest.PhotoManifestItem, obj storage.StorageObject, flags ForceFlags) bool {
	return !manifest.NeedsUpdate(existing, obj) && !flags.Any()
}

type Pipeline struct {
	provider         storage.Provider
	livePhotos       *livephoto.Index
	enableLivePhotos bool
	thumbnailDir     string
	thumbnailMaxSize int
}

func New(provider storage.Provider, livePhotos *livephoto.Index, opts config.OptionsConfig) *Pipeline {
	return &Pipeline{
		provider:         provider,
		livePhotos:       livePhotos,
		enableLivePhotos: opts.EnableLivePhotoDetection,
		thumbnailDir:     opts.ThumbnailDir,
		thumbnailMaxSize: opts.ThumbnailMaxSize,
	}
}

// Process runs the per-photo state machine. existing may be nil; when it is
// not, the force flags decide which cached parts survive into the new item.
func (p *Pipeline) Process(ctx rcontext.BuildContext, obj storage.StorageObject, existing *manifest.PhotoManifestItem, flags ForceFlags) (*manifest.PhotoManifestItem, error) {
	stale := manifest.NeedsUpdate(existing, obj)
	regenMeta := existing == nil || stale || flags.All || flags.ManifestOnly
	regenThumb := existing == nil || stale || flags.All || flags.ThumbnailsOnly
	if !regenMeta && !regenThumb {
		return existing, nil
	}

	id := util.IdForKey(obj.Key)
	log := ctx.Log.WithField("photo", id)

	// fetch
	b, err := p.provider.Fetch(ctx, obj.Key)
	if err != nil {
		return nil, err
	}
	if err = checkpoint(ctx); err != nil {
		return nil, err
	}

	// preprocess: sniff, decode, orientation-normalize
	mtype := mimetype.Detect(b)
	if !strings.HasPrefix(mtype.String(), "image/") {
		return nil, fmt.Errorf("%w: %s is %s", common.ErrUnsupportedFormat, obj.Key, mtype.String())
	}

	src, err := imaging.Decode(bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", common.ErrDecodeFailed, obj.Key, err)
	}

	exifInfo, orientation, dateTaken, err := extractExif(b)
	if err != nil {
		// assume no exif if the header could not be read
		log.Warn("Non-fatal error reading exif headers: ", err.Error())
		exifInfo = nil
		orientation = nil
	}
	src = applyOrientation(src, orientation)

	if err = checkpoint(ctx); err != nil {
		return nil, err
	}

	bounds := src.Bounds()
	item := &manifest.PhotoManifestItem{
		Id:           id,
		S3Key:        obj.Key,
		LastModified: obj.LastModified,
		Width:        bounds.Dx(),
		Height:       bounds.Dy(),
	}
	if item.Height > 0 {
		item.AspectRatio = float64(item.Width) / float64(item.Height)
	}

	// metadata-extract + tone analysis
	if regenMeta {
		item.Exif = exifInfo
		item.DateTaken = dateTaken
		item.ToneAnalysis = AnalyzeTone(ComputeHistogram(src))
	} else {
		item.Exif = existing.Exif
		item.DateTaken = existing.DateTaken
		item.ToneAnalysis = existing.ToneAnalysis
	}

	if err = checkpoint(ctx); err != nil {
		return nil, err
	}

	// thumbnail + perceptual hash
	if regenThumb {
		thumb := makeThumbnail(src, p.thumbnailMaxSize)
		name, terr := writeThumbnail(p.thumbnailDir, id, thumb)
		if terr != nil {
			return nil, fmt.Errorf("thumbnail write failed for %s: %w", obj.Key, terr)
		}
		item.ThumbnailUrl = "/" + path.Base(p.thumbnailDir) + "/" + name

		hash, herr := computeBlurhash(thumb)
		if herr != nil {
			log.Warn("Could not compute blurhash: ", herr.Error())
		} else {
			item.Blurhash = hash
		}
	} else {
		item.ThumbnailUrl = existing.ThumbnailUrl
		item.Blurhash = existing.Blurhash
	}

	// live photo pairing
	if p.enableLivePhotos && p.livePhotos != nil {
		if video, ok := p.livePhotos.Lookup(obj.Key); ok {
			item.IsLivePhoto = true
			item.LivePhotoVideoS3Key = video.Key
			item.LivePhotoVideoUrl = p.provider.BaseUrl() + "/" + video.Key
		}
	}

	return item, nil
}

// checkpoint maps cancellation between stages onto the task error taxonomy.
func checkpoint(ctx rcontext.BuildContext) error {
	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return common.ErrTaskTimeout
		}
		return common.ErrTaskAborted
	default:
		return nil
	}
}
