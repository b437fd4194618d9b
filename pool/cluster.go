package pool

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"

	"github.com/afilmory/builder/common/rcontext"
	"github.com/afilmory/builder/manifest"
)

// NewClusterRunner returns a ClusterRunFunc that re-invokes the current
// binary in single-photo mode. Unlike in-process tasks, a timed-out child is
// actually killed (via the task's context), which is the whole point of
// cluster mode.
func NewClusterRunner(configPath string) ClusterRunFunc {
	return func(ctx rcontext.BuildContext, key string) (*manifest.PhotoManifestItem, error) {
		self, err := os.Executable()
		if err != nil {
			return nil, err
		}

		var stdout bytes.Buffer
		var stderr bytes.Buffer
		cmd := exec.CommandContext(ctx.Context, self, "-config", configPath, "-single-photo", key)
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr

		if err = cmd.Run(); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			msg := stderr.String()
			if len(msg) > 512 {
				msg = msg[:512]
			}
			return nil, fmt.Errorf("worker process failed for %s: %v: %s", key, err, msg)
		}

		item := &manifest.PhotoManifestItem{}
		if err = json.Unmarshal(stdout.Bytes(), item); err != nil {
			return nil, fmt.Errorf("worker process returned invalid item for %s: %w", key, err)
		}
		return item, nil
	}
}
