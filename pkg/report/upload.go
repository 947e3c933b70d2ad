package report

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/ethpandaops/regressoor/pkg/config"
	"github.com/ethpandaops/regressoor/pkg/objstore"
	"github.com/sirupsen/logrus"
)

// DefaultUploadPrefix is used when the upload config has no prefix.
const DefaultUploadPrefix = "reports"

// Uploader copies a rendered report directory to remote storage.
type Uploader interface {
	// Upload uploads every file in localDir under a sub-prefix named after
	// the directory and returns the remote location.
	Upload(ctx context.Context, localDir string) (string, error)
}

type s3Uploader struct {
	log    logrus.FieldLogger
	cfg    *config.S3Config
	client *s3.Client
}

// Ensure interface compliance.
var _ Uploader = (*s3Uploader)(nil)

// NewS3Uploader creates an uploader for cfg.
func NewS3Uploader(log logrus.FieldLogger, cfg *config.S3Config) Uploader {
	return &s3Uploader{
		log:    log.WithField("component", "report-uploader"),
		cfg:    cfg,
		client: objstore.NewS3Client(cfg),
	}
}

func (u *s3Uploader) Upload(ctx context.Context, localDir string) (string, error) {
	prefix := u.cfg.Prefix
	if prefix == "" {
		prefix = DefaultUploadPrefix
	}

	prefix = objstore.JoinKey(prefix, filepath.Base(localDir))

	var count int

	err := filepath.Walk(localDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if info.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(localDir, path)
		if err != nil {
			return fmt.Errorf("computing relative path: %w", err)
		}

		if err := u.uploadFile(ctx, path, prefix+"/"+filepath.ToSlash(rel)); err != nil {
			return fmt.Errorf("uploading %s: %w", rel, err)
		}

		count++

		return nil
	})
	if err != nil {
		return "", fmt.Errorf("walking directory %s: %w", localDir, err)
	}

	u.log.WithFields(logrus.Fields{
		"files":  count,
		"bucket": u.cfg.Bucket,
		"prefix": prefix,
	}).Info("Report uploaded")

	return fmt.Sprintf("s3://%s/%s", u.cfg.Bucket, prefix), nil
}

func (u *s3Uploader) uploadFile(ctx context.Context, localPath, key string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("opening file: %w", err)
	}
	defer func() { _ = f.Close() }()

	input := &s3.PutObjectInput{
		Bucket:      aws.String(u.cfg.Bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String(contentType(localPath)),
	}

	if u.cfg.StorageClass != "" {
		input.StorageClass = s3types.StorageClass(u.cfg.StorageClass)
	}

	if u.cfg.ACL != "" {
		input.ACL = s3types.ObjectCannedACL(u.cfg.ACL)
	}

	if _, err := u.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("PutObject: %w", err)
	}

	return nil
}

func contentType(path string) string {
	switch filepath.Ext(path) {
	case ".md":
		return "text/markdown; charset=utf-8"
	case "":
		return "application/octet-stream"
	}

	if ct := mime.TypeByExtension(filepath.Ext(path)); ct != "" {
		return ct
	}

	return "application/octet-stream"
}
