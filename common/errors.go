package common

import (
	"errors"
)

var ErrObjectNotFound = errors.New("object not found")
var ErrStorageUnreachable = errors.New("storage provider unreachable")
var ErrUnsupportedFormat = errors.New("unsupported media format")
var ErrDecodeFailed = errors.New("media decode failed")
var ErrTaskTimeout = errors.New("task timed out")
var ErrTaskAborted = errors.New("task aborted")
var ErrPoolClosed = errors.New("worker pool closed")
var ErrMigrationFailed = errors.New("manifest migration failed")
