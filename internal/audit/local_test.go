package audit_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scholarrelay/inkgate/internal/audit"
)

func TestLocalSinkPutBatch(t *testing.T) {
	root := t.TempDir()
	sink := audit.NewLocalSink(root)

	blobs := []audit.Blob{
		{Name: "session.json", ContentType: "application/json", Data: []byte(`{}`)},
		{Name: "files/paper.pdf", ContentType: "application/pdf", Data: []byte("pdf bytes")},
	}

	err := sink.PutBatch(context.Background(), "partner-1", "sess-1", blobs)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(root, "partner-1", "sess-1", "session.json"))
	require.NoError(t, err)
	assert.Equal(t, []byte(`{}`), data)

	data, err = os.ReadFile(filepath.Join(root, "partner-1", "sess-1", "files", "paper.pdf"))
	require.NoError(t, err)
	assert.Equal(t, []byte("pdf bytes"), data)
}

func TestLocalSinkRejectsTraversal(t *testing.T) {
	root := t.TempDir()
	sink := audit.NewLocalSink(root)

	err := sink.PutBatch(context.Background(), "partner-1", "sess-1", []audit.Blob{
		{Name: "../../escape.txt", Data: []byte("nope")},
	})
	require.Error(t, err)
	assert.NoFileExists(t, filepath.Join(root, "escape.txt"))
}

func TestLocalSinkHonorsContext(t *testing.T) {
	sink := audit.NewLocalSink(t.TempDir())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := sink.PutBatch(ctx, "partner-1", "sess-1", []audit.Blob{
		{Name: "session.json", Data: []byte(`{}`)},
	})
	assert.ErrorIs(t, err, context.Canceled)
}
