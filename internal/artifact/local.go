package artifact

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/alisufyan143/location-analyzer-v2/internal/failure"
)

// FileLoader reads the bundle from the local filesystem.
type FileLoader struct {
	Path string
}

// Load implements Loader.
func (l FileLoader) Load(_ context.Context) ([]byte, error) {
	data, err := os.ReadFile(l.Path) //nolint:gosec // operator-supplied bundle path
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, failure.Wrap(failure.ModelNotFound, "artifact.file", fmt.Errorf("bundle %s: %w", l.Path, err))
		}
		return nil, failure.Wrap(failure.TrainingData, "artifact.file", fmt.Errorf("read bundle %s: %w", l.Path, err))
	}
	return data, nil
}

// Origin implements Loader.
func (l FileLoader) Origin() string { return l.Path }
