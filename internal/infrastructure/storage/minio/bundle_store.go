// Package minio stores finished simulation-input bundles in object storage.
// Each job that reaches the merge stage emits a bundle of flat files; the
// store lays them out under bundles/<batch>/<job>/ so a whole batch can be
// pulled with one prefix listing.
package minio

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/fepforge/fepforge/internal/config"
	"github.com/fepforge/fepforge/internal/infrastructure/monitoring/logging"
	apperrors "github.com/fepforge/fepforge/pkg/errors"
	"github.com/fepforge/fepforge/pkg/types/common"
)

// objectAPI is the slice of the minio client the store needs.  Narrow on
// purpose so tests can fake it.
type objectAPI interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucket, object string, reader *bytes.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	PresignedGetObject(ctx context.Context, bucket, object string, expiry time.Duration, reqParams url.Values) (*url.URL, error)
}

type minioAPI struct {
	c *minio.Client
}

func (a minioAPI) BucketExists(ctx context.Context, bucket string) (bool, error) {
	return a.c.BucketExists(ctx, bucket)
}

func (a minioAPI) MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error {
	return a.c.MakeBucket(ctx, bucket, opts)
}

func (a minioAPI) PutObject(ctx context.Context, bucket, object string, reader *bytes.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	return a.c.PutObject(ctx, bucket, object, reader, size, opts)
}

func (a minioAPI) PresignedGetObject(ctx context.Context, bucket, object string, expiry time.Duration, reqParams url.Values) (*url.URL, error) {
	return a.c.PresignedGetObject(ctx, bucket, object, expiry, reqParams)
}

// BundleStore uploads simulation-input bundles and issues presigned download
// links for them.
type BundleStore struct {
	api           objectAPI
	bucket        string
	presignExpiry time.Duration
	log           logging.Logger
}

// NewBundleStore connects to object storage and makes sure the bundle bucket
// exists.
func NewBundleStore(ctx context.Context, cfg config.MinIOConfig, log logging.Logger) (*BundleStore, error) {
	if log == nil {
		log = logging.NewNopLogger()
	}
	log = log.Named("bundlestore")

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeStorageError, "create object storage client")
	}

	s := &BundleStore{
		api:           minioAPI{c: client},
		bucket:        cfg.Bucket,
		presignExpiry: cfg.PresignExpiry,
		log:           log,
	}
	if s.presignExpiry <= 0 {
		s.presignExpiry = time.Hour
	}
	if err := s.ensureBucket(ctx); err != nil {
		return nil, err
	}

	log.Info("connected to object storage",
		logging.String("endpoint", cfg.Endpoint),
		logging.String("bucket", cfg.Bucket))
	return s, nil
}

func (s *BundleStore) ensureBucket(ctx context.Context) error {
	exists, err := s.api.BucketExists(ctx, s.bucket)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeStorageError, "check bundle bucket")
	}
	if exists {
		return nil
	}
	if err := s.api.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return apperrors.Wrapf(err, apperrors.CodeStorageError, "create bucket %s", s.bucket)
	}
	s.log.Info("created bundle bucket", logging.String("bucket", s.bucket))
	return nil
}

// bundlePrefix returns the object-key prefix of one job's bundle.
func bundlePrefix(batchID, jobID common.ID) string {
	return fmt.Sprintf("bundles/%s/%s/", batchID, jobID)
}

// UploadBundle writes every file of a bundle and returns the bundle location
// URI stored on the job.  Files are uploaded in name order so repeated
// uploads of the same bundle touch objects deterministically.
func (s *BundleStore) UploadBundle(ctx context.Context, batchID, jobID common.ID, files map[string][]byte) (string, error) {
	if len(files) == 0 {
		return "", apperrors.New(apperrors.CodeInvalidParam, "bundle has no files")
	}

	prefix := bundlePrefix(batchID, jobID)
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		data := files[name]
		_, err := s.api.PutObject(ctx, s.bucket, prefix+name,
			bytes.NewReader(data), int64(len(data)),
			minio.PutObjectOptions{ContentType: contentTypeFor(name)})
		if err != nil {
			return "", apperrors.Wrapf(err, apperrors.CodeStorageError, "upload %s", name)
		}
	}

	location := fmt.Sprintf("s3://%s/%s", s.bucket, prefix)
	s.log.Debug("bundle uploaded",
		logging.String("location", location),
		logging.Int("files", len(files)))
	return location, nil
}

// PresignBundleFile returns a time-limited download URL for one bundle file.
func (s *BundleStore) PresignBundleFile(ctx context.Context, batchID, jobID common.ID, name string) (string, error) {
	u, err := s.api.PresignedGetObject(ctx, s.bucket, bundlePrefix(batchID, jobID)+name, s.presignExpiry, nil)
	if err != nil {
		return "", apperrors.Wrapf(err, apperrors.CodeStorageError, "presign %s", name)
	}
	return u.String(), nil
}

func contentTypeFor(name string) string {
	switch {
	case strings.HasSuffix(name, ".json"):
		return "application/json"
	case strings.HasSuffix(name, ".pdb"):
		return "chemical/x-pdb"
	default:
		return "application/octet-stream"
	}
}
