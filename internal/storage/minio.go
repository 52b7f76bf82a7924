package storage

import (
	"bytes"
	"context"
	"path"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"
)

// MinioOptions configures the batch bucket.
type MinioOptions struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string
	Secure    bool
}

// MinioStorage writes each batch as one JSON object.
type MinioStorage struct {
	client     *minio.Client
	bucketName string
	prefix     string
	now        func() time.Time
}

// NewMinioStorage connects to the endpoint and creates the bucket if it is
// missing.
func NewMinioStorage(ctx context.Context, opts MinioOptions) (*MinioStorage, error) {
	if opts.Bucket == "" {
		return nil, errors.New("bucket name is required")
	}
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.Secure,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "creating minio client for %s", opts.Endpoint)
	}

	exists, err := client.BucketExists(ctx, opts.Bucket)
	if err != nil {
		return nil, errors.Wrapf(err, "checking bucket %s", opts.Bucket)
	}
	if !exists {
		if err := client.MakeBucket(ctx, opts.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, errors.Wrapf(err, "creating bucket %s", opts.Bucket)
		}
		grip.Info(message.Fields{
			"message": "created batch bucket",
			"bucket":  opts.Bucket,
		})
	}

	return &MinioStorage{
		client:     client,
		bucketName: opts.Bucket,
		prefix:     opts.Prefix,
		now:        time.Now,
	}, nil
}

// objectKey places batches under <prefix>/<yyyy>/<mm>/<dd>/<name>.
func objectKey(prefix string, at time.Time, name string) string {
	at = at.UTC()
	return path.Join(prefix, at.Format("2006"), at.Format("01"), at.Format("02"), name)
}

// Upload implements core.ObjectStorage.
func (s *MinioStorage) Upload(ctx context.Context, name string, data []byte) (string, error) {
	key := objectKey(s.prefix, s.now(), name)
	info, err := s.client.PutObject(ctx, s.bucketName, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return "", errors.Wrapf(err, "putting object %s", key)
	}
	return path.Join(s.bucketName, info.Key), nil
}
