package storage

import (
	"fmt"
	"time"

	"github.com/afilmory/builder/common"
	"github.com/afilmory/builder/common/config"
	"github.com/afilmory/builder/common/rcontext"
)

// StorageObject is one entry of a provider listing. It only lives for the
// duration of a single build run.
type StorageObject struct {
	Key          string
	Size         int64
	LastModified time.Time
	ETag         string
}

// ObjectInfo is what List emits: either an object or a listing error.
type ObjectInfo struct {
	StorageObject
	Err error
}

// Provider is the full capability set callers may rely on. The concrete
// variant behind it is chosen by configuration, never by type assertions.
type Provider interface {
	// List emits every object under prefix. The sequence is finite and not
	// restartable once consumed.
	List(ctx rcontext.BuildContext, prefix string) (<-chan ObjectInfo, error)
	Fetch(ctx rcontext.BuildContext, key string) ([]byte, error)
	BaseUrl() string
}

type StorageError struct {
	Op  string
	Key string
	Err error
}

func (e *StorageError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("storage: %s %s: %v", e.Op, e.Key, e.Err)
	}
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func notFound(op string, key string, cause error) error {
	return &StorageError{Op: op, Key: key, Err: fmt.Errorf("%w: %v", common.ErrObjectNotFound, cause)}
}

func unreachable(op string, cause error) error {
	return &StorageError{Op: op, Err: fmt.Errorf("%w: %v", common.ErrStorageUnreachable, cause)}
}

// NewProvider builds the configured provider variant.
func NewProvider(cfg config.StorageConfig) (Provider, error) {
	switch cfg.Provider {
	case "s3":
		return newS3Provider(cfg)
	case "local":
		return newLocalProvider(cfg)
	case "github":
		return newGithubProvider(cfg)
	default:
		return nil, fmt.Errorf("unknown storage provider: %s", cfg.Provider)
	}
}
