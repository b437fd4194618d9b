package manifest

import (
	"encoding/json"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/afilmory/builder/common/config"
	"github.com/afilmory/builder/common/rcontext"
	"github.com/afilmory/builder/storage"
)

// Manager owns the persisted manifest file and the derived thumbnail
// directory. Nothing else writes to either.
type Manager struct {
	manifestPath string
	thumbnailDir string

	// Migrate upgrades a loaded manifest to CurrentVersion. Injected by the
	// composition root to keep the engine's step table out of this package.
	Migrate func(ctx rcontext.BuildContext, m *AfilmoryManifest, target SchemaVersion) error
}

func NewManager(opts config.OptionsConfig) *Manager {
	return &Manager{
		manifestPath: opts.ManifestPath,
		thumbnailDir: opts.ThumbnailDir,
	}
}

func (m *Manager) ThumbnailDir() string {
	return m.thumbnailDir
}

// Load reads and migrates the existing manifest. Parse failures are treated
// as "no manifest" and produce an empty manifest at the current version; a
// failing migration step is the only fatal outcome.
func (m *Manager) Load(ctx rcontext.BuildContext) (*AfilmoryManifest, error) {
	b, err := os.ReadFile(m.manifestPath)
	if err != nil {
		if !os.IsNotExist(err) {
			ctx.Log.Warn("Could not read manifest, starting fresh: ", err)
		}
		return NewEmptyManifest(), nil
	}

	loaded := &AfilmoryManifest{}
	if err = json.Unmarshal(b, loaded); err != nil {
		ctx.Log.Warn("Manifest is corrupt, starting fresh: ", err)
		return NewEmptyManifest(), nil
	}
	if loaded.Data == nil {
		loaded.Data = []*PhotoManifestItem{}
	}
	if loaded.Version == "" {
		// Manifests predating the version field are treated as the first
		// schema.
		loaded.Version = V1
	}

	if m.Migrate != nil && loaded.Version != CurrentVersion {
		if err = m.Migrate(ctx, loaded, CurrentVersion); err != nil {
			return nil, err
		}
	}

	return loaded, nil
}

// NeedsUpdate is the shared skip predicate: an item is stale only when the
// storage object was modified strictly after what we recorded for it. Both
// the pipeline's skip decision and deletion bookkeeping go through this.
func NeedsUpdate(existing *PhotoManifestItem, obj storage.StorageObject) bool {
	if existing == nil {
		return true
	}
	return obj.LastModified.After(existing.LastModified)
}

func (m *Manager) NeedsUpdate(existing *PhotoManifestItem, obj storage.StorageObject) bool {
	return NeedsUpdate(existing, obj)
}

// Save sorts, aggregates the camera/lens filter lists, and atomically
// replaces the manifest file. The on-disk file is never partially written.
func (m *Manager) Save(ctx rcontext.BuildContext, items []*PhotoManifestItem) error {
	sort.SliceStable(items, func(i, j int) bool {
		a := items[i].CaptureDate()
		b := items[j].CaptureDate()
		if a.Equal(b) {
			return items[i].Id < items[j].Id
		}
		return a.After(b)
	})

	out := &AfilmoryManifest{
		Version: CurrentVersion,
		Data:    items,
		Cameras: aggregateCameras(items),
		Lenses:  aggregateLenses(items),
	}

	b, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')

	if err = os.MkdirAll(path.Dir(m.manifestPath), 0755); err != nil {
		return err
	}

	tmp := m.manifestPath + ".tmp"
	if err = os.WriteFile(tmp, b, 0644); err != nil {
		return err
	}
	if err = os.Rename(tmp, m.manifestPath); err != nil {
		_ = os.Remove(tmp)
		return err
	}

	ctx.Log.Info("Saved manifest with ", len(items), " items")
	return nil
}

// DetectDeletions removes thumbnails for ids no longer present in the
// current item set, returning how many were deleted. Scan errors are logged
// and counted as zero deletions.
func (m *Manager) DetectDeletions(ctx rcontext.BuildContext, current []*PhotoManifestItem) int {
	if len(current) == 0 {
		// Nothing survives - clearing the directory beats iterating it.
		entries, err := os.ReadDir(m.thumbnailDir)
		if err != nil {
			if !os.IsNotExist(err) {
				ctx.Log.Warn("Could not scan thumbnail directory: ", err)
			}
			return 0
		}
		count := 0
		for _, e := range entries {
			if err = os.RemoveAll(path.Join(m.thumbnailDir, e.Name())); err != nil {
				ctx.Log.Warn("Could not delete ", e.Name(), ": ", err)
				continue
			}
			count++
		}
		return count
	}

	keep := make(map[string]bool, len(current))
	for _, item := range current {
		keep[item.Id] = true
	}

	entries, err := os.ReadDir(m.thumbnailDir)
	if err != nil {
		if !os.IsNotExist(err) {
			ctx.Log.Warn("Could not scan thumbnail directory: ", err)
		}
		return 0
	}

	count := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		id := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		if keep[id] {
			continue
		}
		if err = os.Remove(path.Join(m.thumbnailDir, e.Name())); err != nil {
			ctx.Log.Warn("Could not delete ", e.Name(), ": ", err)
			continue
		}
		ctx.Log.Info("Deleted stale thumbnail ", e.Name())
		count++
	}
	return count
}

func aggregateCameras(items []*PhotoManifestItem) []CameraInfo {
	seen := make(map[CameraInfo]bool)
	cameras := make([]CameraInfo, 0)
	for _, item := range items {
		if item.Exif == nil || item.Exif.Model == "" {
			continue
		}
		c := CameraInfo{Make: item.Exif.Make, Model: item.Exif.Model}
		if !seen[c] {
			seen[c] = true
			cameras = append(cameras, c)
		}
	}
	sort.Slice(cameras, func(i, j int) bool {
		if cameras[i].Make == cameras[j].Make {
			return cameras[i].Model < cameras[j].Model
		}
		return cameras[i].Make < cameras[j].Make
	})
	return cameras
}

func aggregateLenses(items []*PhotoManifestItem) []LensInfo {
	seen := make(map[LensInfo]bool)
	lenses := make([]LensInfo, 0)
	for _, item := range items {
		if item.Exif == nil || item.Exif.LensModel == "" {
			continue
		}
		l := LensInfo{Model: item.Exif.LensModel}
		if !seen[l] {
			seen[l] = true
			lenses = append(lenses, l)
		}
	}
	sort.Slice(lenses, func(i, j int) bool {
		return lenses[i].Model < lenses[j].Model
	})
	return lenses
}
