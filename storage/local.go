package storage

import (
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/afilmory/builder/common/config"
	"github.com/afilmory/builder/common/rcontext"
)

type localProvider struct {
	basePath string
	baseUrl  string
}

func newLocalProvider(cfg config.StorageConfig) (*localProvider, error) {
	return &localProvider{
		basePath: cfg.LocalPath,
		baseUrl:  strings.TrimSuffix(cfg.BaseUrl, "/"),
	}, nil
}

func (l *localProvider) List(ctx rcontext.BuildContext, prefix string) (<-chan ObjectInfo, error) {
	if _, err := os.Stat(l.basePath); err != nil {
		return nil, unreachable("list", err)
	}

	ch := make(chan ObjectInfo)
	go func() {
		defer close(ch)
		err := filepath.WalkDir(l.basePath, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if d.Name() == ".git" {
					return filepath.SkipDir
				}
				return nil
			}

			rel, err := filepath.Rel(l.basePath, p)
			if err != nil {
				return err
			}
			key := filepath.ToSlash(rel)
			if prefix != "" && !strings.HasPrefix(key, prefix) {
				return nil
			}

			info, err := d.Info()
			if err != nil {
				return err
			}

			select {
			case ch <- ObjectInfo{StorageObject: StorageObject{
				Key:          key,
				Size:         info.Size(),
				LastModified: info.ModTime(),
			}}:
			case <-ctx.Done():
				return ctx.Err()
			}
			return nil
		})
		if err != nil {
			ch <- ObjectInfo{Err: unreachable("list", err)}
		}
	}()
	return ch, nil
}

func (l *localProvider) Fetch(ctx rcontext.BuildContext, key string) ([]byte, error) {
	b, err := os.ReadFile(path.Join(l.basePath, filepath.FromSlash(key)))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, notFound("fetch", key, err)
		}
		return nil, unreachable("fetch", err)
	}
	return b, nil
}

func (l *localProvider) BaseUrl() string {
	return l.baseUrl
}
