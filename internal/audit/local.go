package audit

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// LocalSink writes session batches under root/<owner>/<session>/<name>.
// Used in development and tests; production deployments use the S3 sink.
type LocalSink struct {
	root string
}

func NewLocalSink(root string) *LocalSink {
	return &LocalSink{root: root}
}

func (s *LocalSink) PutBatch(ctx context.Context, ownerID, sessionID string, blobs []Blob) error {
	dir := filepath.Join(s.root, ownerID, sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}

	for _, blob := range blobs {
		if err := ctx.Err(); err != nil {
			return err
		}
		name := filepath.Clean(blob.Name)
		if strings.HasPrefix(name, "..") || filepath.IsAbs(name) {
			return fmt.Errorf("invalid blob name %q", blob.Name)
		}
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("create blob dir: %w", err)
		}
		if err := os.WriteFile(path, blob.Data, 0o644); err != nil {
			return fmt.Errorf("write blob %s: %w", name, err)
		}
	}
	return nil
}
