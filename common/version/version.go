package version

var GitCommit string
var Version string

func init() {
	if GitCommit == "" {
		GitCommit = ".dev"
	}

	if Version == "" {
		Version = "unknown"
	}
}
