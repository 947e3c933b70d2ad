package baseline

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/ethpandaops/regressoor/pkg/config"
	"github.com/ethpandaops/regressoor/pkg/objstore"
	"github.com/sirupsen/logrus"
)

// s3Backend stores one object per record under a prefix.
type s3Backend struct {
	log    logrus.FieldLogger
	cfg    *config.S3Config
	client *s3.Client
}

// Ensure interface compliance.
var _ Backend = (*s3Backend)(nil)

// NewS3Backend creates an S3-compatible store.
func NewS3Backend(log logrus.FieldLogger, cfg *config.S3Config) Backend {
	return &s3Backend{
		log:    log.WithField("backend", config.BackendS3),
		cfg:    cfg,
		client: objstore.NewS3Client(cfg),
	}
}

func (b *s3Backend) Name() string { return config.BackendS3 }

func (b *s3Backend) Start(_ context.Context) error { return nil }

func (b *s3Backend) Stop() error { return nil }

func (b *s3Backend) ReadAll(ctx context.Context) (map[string][]byte, error) {
	prefix := objstore.JoinKey(b.cfg.Prefix, "")

	paginator := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.cfg.Bucket),
		Prefix: aws.String(prefix),
	})

	records := make(map[string][]byte, 16)

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing baselines under %q: %w", prefix, err)
		}

		for _, obj := range page.Contents {
			if obj.Key == nil || !strings.HasSuffix(*obj.Key, recordExt) {
				continue
			}

			data, err := b.getObject(ctx, *obj.Key)
			if err != nil {
				if objstore.IsNotFound(err) {
					continue
				}

				b.log.WithError(err).WithField("key", *obj.Key).Warn("Failed to read baseline object")

				continue
			}

			records[strings.TrimSuffix(path.Base(*obj.Key), recordExt)] = data
		}
	}

	return records, nil
}

func (b *s3Backend) getObject(ctx context.Context, key string) ([]byte, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, err
	}
	defer func() { _ = out.Body.Close() }()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("reading object body: %w", err)
	}

	return data, nil
}

func (b *s3Backend) Write(ctx context.Context, key string, data []byte) error {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(b.cfg.Bucket),
		Key:         aws.String(b.objectKey(key)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	}

	if b.cfg.StorageClass != "" {
		input.StorageClass = s3types.StorageClass(b.cfg.StorageClass)
	}

	if b.cfg.ACL != "" {
		input.ACL = s3types.ObjectCannedACL(b.cfg.ACL)
	}

	if _, err := b.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("writing s3://%s/%s: %w", b.cfg.Bucket, b.objectKey(key), err)
	}

	return nil
}

func (b *s3Backend) Delete(ctx context.Context, key string) error {
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.cfg.Bucket),
		Key:    aws.String(b.objectKey(key)),
	})
	if err != nil && !objstore.IsNotFound(err) {
		return fmt.Errorf("deleting s3://%s/%s: %w", b.cfg.Bucket, b.objectKey(key), err)
	}

	return nil
}

func (b *s3Backend) objectKey(key string) string {
	return objstore.JoinKey(b.cfg.Prefix, key+recordExt)
}
