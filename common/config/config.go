package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

func NewDefaultBuilderConfig() BuilderConfig {
	return BuilderConfig{
		Storage: StorageConfig{
			Provider: "local",
			RepoRef:  "main",
			CacheDir: ".cache/builder",
		},
		Options: OptionsConfig{
			DefaultConcurrency:       4,
			SupportedFormats:         []string{"jpg", "jpeg", "png", "webp", "bmp", "gif"},
			EnableLivePhotoDetection: true,
			ManifestPath:             "src/data/manifest.json",
			ThumbnailDir:             "public/thumbnails",
			ThumbnailMaxSize:         600,
			MaxRetries:               2,
		},
		Performance: PerformanceConfig{
			Worker: WorkerConfig{
				Count:          0, // 0 = Options.DefaultConcurrency
				TimeoutSeconds: 120,
				UseClusterMode: false,
				TasksPerSecond: 0, // 0 = unlimited
			},
		},
		Logging: LoggingConfig{
			Directory: "",
			Colors:    false,
			JsonLogs:  false,
			Level:     "info",
		},
	}
}

// Load reads the YAML config at path on top of the defaults. A missing file
// is not an error: the defaults are returned as-is.
func Load(path string) (BuilderConfig, error) {
	c := NewDefaultBuilderConfig()

	f, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}
		return c, err
	}

	if err = yaml.Unmarshal(f, &c); err != nil {
		return c, err
	}

	if c.Performance.Worker.Count <= 0 {
		c.Performance.Worker.Count = c.Options.DefaultConcurrency
	}
	if c.Options.MaxRetries < 0 {
		c.Options.MaxRetries = 0
	}

	return c, nil
}

func (c BuilderConfig) WorkerCount() int {
	if c.Performance.Worker.Count > 0 {
		return c.Performance.Worker.Count
	}
	if c.Options.DefaultConcurrency > 0 {
		return c.Options.DefaultConcurrency
	}
	return 1
}
