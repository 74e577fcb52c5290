package service

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
)

// ArtifactPublisher mirrors a finished HLS output directory to object
// storage. Nil when publishing is not configured; local disk stays the
// serving source either way.
type ArtifactPublisher interface {
	PublishDir(ctx context.Context, localDir, remotePrefix string) error
}

type MinioPublisher struct {
	client *minio.Client
	bucket string
}

func NewMinioPublisher(client *minio.Client, bucket string) *MinioPublisher {
	return &MinioPublisher{client: client, bucket: bucket}
}

func (p *MinioPublisher) PublishDir(ctx context.Context, localDir, remotePrefix string) error {
	return filepath.Walk(localDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if info.IsDir() {
			return nil
		}

		relativePath, err := filepath.Rel(localDir, path)
		if err != nil {
			return err
		}

		objectName := filepath.Join(remotePrefix, relativePath)
		objectName = strings.ReplaceAll(objectName, "\\", "/")

		_, uploadErr := p.client.FPutObject(ctx, p.bucket, objectName, path, minio.PutObjectOptions{})
		return uploadErr
	})
}

var _ ArtifactPublisher = (*MinioPublisher)(nil)
