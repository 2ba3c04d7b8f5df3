package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"

	"github.com/alisufyan143/location-analyzer-v2/internal/failure"
)

// GCSConfig names the bundle object in Cloud Storage.
type GCSConfig struct {
	Bucket string
	Object string
}

type objectOpener func(ctx context.Context, bucket, object string) (io.ReadCloser, error)

// GCSLoader reads the bundle from a Cloud Storage object.
type GCSLoader struct {
	cfg    GCSConfig
	client *storage.Client
	open   objectOpener
}

// NewGCSLoader creates a loader using Application Default Credentials.
func NewGCSLoader(ctx context.Context, cfg GCSConfig) (*GCSLoader, error) {
	if cfg.Bucket == "" || cfg.Object == "" {
		return nil, fmt.Errorf("bucket and object are required")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	return &GCSLoader{
		cfg:    cfg,
		client: client,
		open: func(ctx context.Context, bucket, object string) (io.ReadCloser, error) {
			return client.Bucket(bucket).Object(object).NewReader(ctx)
		},
	}, nil
}

// Load implements Loader.
func (l *GCSLoader) Load(ctx context.Context) ([]byte, error) {
	r, err := l.open(ctx, l.cfg.Bucket, l.cfg.Object)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
			return nil, failure.Wrap(failure.ModelNotFound, "artifact.gcs", fmt.Errorf("%s: %w", l.Origin(), err))
		}
		return nil, failure.Wrap(failure.TrainingData, "artifact.gcs", fmt.Errorf("open %s: %w", l.Origin(), err))
	}
	defer func() { _ = r.Close() }()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, failure.Wrap(failure.TrainingData, "artifact.gcs", fmt.Errorf("read %s: %w", l.Origin(), err))
	}
	return data, nil
}

// Origin implements Loader.
func (l *GCSLoader) Origin() string {
	return fmt.Sprintf("gs://%s/%s", l.cfg.Bucket, l.cfg.Object)
}

// Close releases the storage client.
func (l *GCSLoader) Close() error {
	if l.client == nil {
		return nil
	}
	return l.client.Close()
}
