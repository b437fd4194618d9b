package config

type StorageConfig struct {
	Provider        string `yaml:"provider"` // s3 | local | github
	Endpoint        string `yaml:"endpoint"`
	Region          string `yaml:"region"`
	Bucket          string `yaml:"bucket"`
	AccessKeyId     string `yaml:"accessKeyId"`
	SecretAccessKey string `yaml:"secretAccessKey"`
	Ssl             *bool  `yaml:"ssl"`
	Prefix          string `yaml:"prefix"`
	BaseUrl         string `yaml:"baseUrl"`
	LocalPath       string `yaml:"localPath"`
	RepoUrl         string `yaml:"repoUrl"`
	RepoRef         string `yaml:"repoRef"`
	CacheDir        string `yaml:"cacheDir"`
}

type OptionsConfig struct {
	DefaultConcurrency       int      `yaml:"defaultConcurrency"`
	SupportedFormats         []string `yaml:"supportedFormats,flow"`
	EnableLivePhotoDetection bool     `yaml:"enableLivePhotoDetection"`
	ForceMode                bool     `yaml:"forceMode"`
	ForceManifest            bool     `yaml:"forceManifest"`
	ForceThumbnails          bool     `yaml:"forceThumbnails"`
	ManifestPath             string   `yaml:"manifestPath"`
	ThumbnailDir             string   `yaml:"thumbnailDir"`
	ThumbnailMaxSize         int      `yaml:"thumbnailMaxSize"`
	MaxRetries               int      `yaml:"maxRetries"`
}

type WorkerConfig struct {
	Count          int     `yaml:"count"`
	TimeoutSeconds int     `yaml:"timeoutSeconds"`
	UseClusterMode bool    `yaml:"useClusterMode"`
	TasksPerSecond float64 `yaml:"tasksPerSecond"`
}

type PerformanceConfig struct {
	Worker WorkerConfig `yaml:"worker"`
}

type LoggingConfig struct {
	Directory string `yaml:"dir"`
	Colors    bool   `yaml:"colors"`
	JsonLogs  bool   `yaml:"json"`
	Level     string `yaml:"level"`
}

type BuilderConfig struct {
	Storage     StorageConfig     `yaml:"storage"`
	Options     OptionsConfig     `yaml:"options"`
	Performance PerformanceConfig `yaml:"performance"`
	Logging     LoggingConfig     `yaml:"logging"`
}
