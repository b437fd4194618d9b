package storage

import (
	"fmt"
	"io"
	"strings"

	"github.com/afilmory/builder/common/config"
	"github.com/afilmory/builder/common/rcontext"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type s3Provider struct {
	client  *minio.Client
	bucket  string
	baseUrl string
}

func newS3Provider(cfg config.StorageConfig) (*s3Provider, error) {
	useSsl := true
	if cfg.Ssl != nil {
		useSsl = *cfg.Ssl
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Region: cfg.Region,
		Secure: useSsl,
		Creds:  credentials.NewStaticV4(cfg.AccessKeyId, cfg.SecretAccessKey, ""),
	})
	if err != nil {
		return nil, err
	}

	baseUrl := cfg.BaseUrl
	if baseUrl == "" {
		// HACK: Surely there's a better way...
		baseUrl = fmt.Sprintf("%s/%s", client.EndpointURL(), cfg.Bucket)
	}

	return &s3Provider{
		client:  client,
		bucket:  cfg.Bucket,
		baseUrl: strings.TrimSuffix(baseUrl, "/"),
	}, nil
}

func (s *s3Provider) List(ctx rcontext.BuildContext, prefix string) (<-chan ObjectInfo, error) {
	// A listing that cannot even start means the whole store is unusable.
	if _, err := s.client.BucketExists(ctx.Context, s.bucket); err != nil {
		return nil, unreachable("list", err)
	}

	objects := s.client.ListObjects(ctx.Context, s.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	})

	ch := make(chan ObjectInfo)
	go func() {
		defer close(ch)
		for obj := range objects {
			if obj.Err != nil {
				ch <- ObjectInfo{Err: unreachable("list", obj.Err)}
				return
			}
			ch <- ObjectInfo{StorageObject: StorageObject{
				Key:          obj.Key,
				Size:         obj.Size,
				LastModified: obj.LastModified,
				ETag:         obj.ETag,
			}}
		}
	}()
	return ch, nil
}

func (s *s3Provider) Fetch(ctx rcontext.BuildContext, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx.Context, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, s.mapError("fetch", key, err)
	}
	defer obj.Close()

	b, err := io.ReadAll(obj)
	if err != nil {
		return nil, s.mapError("fetch", key, err)
	}
	return b, nil
}

func (s *s3Provider) BaseUrl() string {
	return s.baseUrl
}

func (s *s3Provider) mapError(op string, key string, err error) error {
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return notFound(op, key, err)
	}
	return unreachable(op, err)
}
