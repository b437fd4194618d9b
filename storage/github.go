package storage

import (
	"crypto/sha1"
	"encoding/hex"
	"os"
	"os/exec"
	"path"
	"time"

	"github.com/afilmory/builder/common/config"
	"github.com/afilmory/builder/common/rcontext"
	"github.com/patrickmn/go-cache"
)

// pullCache throttles repeated pulls of the same repository. Back-to-back
// builds (watch mode, CI retries) shouldn't hammer the remote.
var pullCache = cache.New(2*time.Minute, 5*time.Minute)

// githubProvider clones or fast-forwards a git-hosted asset tree into a
// cache directory, then serves it like a local tree.
type githubProvider struct {
	local   *localProvider
	repoUrl string
	repoRef string
}

func newGithubProvider(cfg config.StorageConfig) (*githubProvider, error) {
	sum := sha1.Sum([]byte(cfg.RepoUrl))
	checkout := path.Join(cfg.CacheDir, "repos", hex.EncodeToString(sum[:8]))

	localCfg := cfg
	localCfg.LocalPath = checkout
	local, err := newLocalProvider(localCfg)
	if err != nil {
		return nil, err
	}

	return &githubProvider{
		local:   local,
		repoUrl: cfg.RepoUrl,
		repoRef: cfg.RepoRef,
	}, nil
}

func (g *githubProvider) sync(ctx rcontext.BuildContext) error {
	if _, recent := pullCache.Get(g.repoUrl); recent {
		ctx.Log.Debug("Repository pulled recently - reusing checkout")
		return nil
	}

	checkout := g.local.basePath
	if _, err := os.Stat(path.Join(checkout, ".git")); os.IsNotExist(err) {
		ctx.Log.Info("Cloning ", g.repoUrl)
		if err := os.MkdirAll(path.Dir(checkout), 0755); err != nil {
			return unreachable("clone", err)
		}
		args := []string{"clone", "--depth", "1"}
		if g.repoRef != "" {
			args = append(args, "--branch", g.repoRef)
		}
		args = append(args, g.repoUrl, checkout)
		if out, err := exec.CommandContext(ctx.Context, "git", args...).CombinedOutput(); err != nil {
			ctx.Log.Error("git clone failed: ", string(out))
			return unreachable("clone", err)
		}
	} else {
		ctx.Log.Info("Updating checkout of ", g.repoUrl)
		cmd := exec.CommandContext(ctx.Context, "git", "-C", checkout, "pull", "--ff-only")
		if out, err := cmd.CombinedOutput(); err != nil {
			ctx.Log.Error("git pull failed: ", string(out))
			return unreachable("pull", err)
		}
	}

	pullCache.SetDefault(g.repoUrl, true)
	return nil
}

func (g *githubProvider) List(ctx rcontext.BuildContext, prefix string) (<-chan ObjectInfo, error) {
	if err := g.sync(ctx); err != nil {
		return nil, err
	}
	return g.local.List(ctx, prefix)
}

func (g *githubProvider) Fetch(ctx rcontext.BuildContext, key string) ([]byte, error) {
	return g.local.Fetch(ctx, key)
}

func (g *githubProvider) BaseUrl() string {
	return g.local.BaseUrl()
}
