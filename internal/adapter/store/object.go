package store

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/couchcryptid/marine-grid-etl/internal/domain"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const objectPrefix = "datasets/"

// ObjectConfig holds S3-compatible connection settings.
type ObjectConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// Object stores each dataset as datasets/<key>.json in a bucket.
type Object struct {
	client *minio.Client
	bucket string
}

// OpenObject connects to an S3-compatible endpoint and creates the bucket if
// it does not exist.
func OpenObject(ctx context.Context, cfg ObjectConfig) (*Object, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create object store client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
	}
	return &Object{client: client, bucket: cfg.Bucket}, nil
}

func objectName(key string) string {
	return objectPrefix + key + fileExt
}

func (o *Object) Save(ctx context.Context, key string, ds domain.Dataset) error {
	if err := checkKey(key); err != nil {
		return err
	}
	data, err := encode(ds)
	if err != nil {
		return fmt.Errorf("encode dataset %s: %w", key, err)
	}
	_, err = o.client.PutObject(ctx, o.bucket, objectName(key), bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return fmt.Errorf("put object %s: %w", key, err)
	}
	return nil
}

func (o *Object) Load(ctx context.Context, key string) (domain.Dataset, error) {
	if err := checkKey(key); err != nil {
		return nil, err
	}
	obj, err := o.client.GetObject(ctx, o.bucket, objectName(key), minio.GetObjectOptions{})
	if err != nil {
		return nil, o.loadError(key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, o.loadError(key, err)
	}
	return decode(key, data)
}

func (o *Object) loadError(key string, err error) error {
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	return fmt.Errorf("get object %s: %w", key, err)
}

func (o *Object) List(ctx context.Context) ([]string, error) {
	var keys []string
	for info := range o.client.ListObjects(ctx, o.bucket, minio.ListObjectsOptions{Prefix: objectPrefix, Recursive: true}) {
		if info.Err != nil {
			return nil, fmt.Errorf("list objects: %w", info.Err)
		}
		name := strings.TrimPrefix(info.Key, objectPrefix)
		if !strings.HasSuffix(name, fileExt) {
			continue
		}
		keys = append(keys, strings.TrimSuffix(name, fileExt))
	}
	slices.Sort(keys)
	return keys, nil
}

func (o *Object) Close() error { return nil }
