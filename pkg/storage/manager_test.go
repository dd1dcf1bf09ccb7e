package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"igharvest/pkg/models"
)

func TestManager(t *testing.T) {
	tempDir := t.TempDir()

	manager, err := NewManager(tempDir)
	require.NoError(t, err)
	assert.Equal(t, 0, manager.GetArchivedCount())
	assert.False(t, manager.IsArchived("alice", "111"))

	item := models.MediaItem{ID: "111", Owner: "alice", Position: 1, Locator: "https://cdn.example/a.jpg"}
	media := &models.Media{Content: []byte("test photo data"), MimeType: "image/jpeg"}

	path, err := manager.Save("alice", "alice:1", item, media, "abc123")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(tempDir, "alice", "111.jpg"), path)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "test photo data", string(content))

	sidecar, err := LoadSidecar(path)
	require.NoError(t, err)
	assert.Equal(t, "alice:1", sidecar.SourceID)
	assert.Equal(t, "abc123", sidecar.Digest)
	assert.Equal(t, int64(15), sidecar.FileSize)
	assert.Equal(t, "111", sidecar.Item.ID)

	assert.True(t, manager.IsArchived("alice", "111"))
	assert.Equal(t, 1, manager.GetArchivedCount())

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err), "temp file should be renamed away")
}

func TestManagerScansExisting(t *testing.T) {
	tempDir := t.TempDir()

	first, err := NewManager(tempDir)
	require.NoError(t, err)
	_, err = first.Save("bob", "bob:2", models.MediaItem{ID: "222", IsVideo: true}, &models.Media{Content: []byte("v"), MimeType: "video/mp4"}, "")
	require.NoError(t, err)

	second, err := NewManager(tempDir)
	require.NoError(t, err)
	assert.True(t, second.IsArchived("bob", "222"))
	assert.False(t, second.IsArchived("alice", "222"))
}

func TestSaveRejectsMissingID(t *testing.T) {
	manager, err := NewManager(t.TempDir())
	require.NoError(t, err)

	_, err = manager.Save("alice", "alice:1", models.MediaItem{}, &models.Media{Content: []byte("x")}, "")
	assert.Error(t, err)
}

func TestCleanOrphanedSidecars(t *testing.T) {
	manager, err := NewManager(t.TempDir())
	require.NoError(t, err)

	path, err := manager.Save("alice", "alice:1", models.MediaItem{ID: "333"}, &models.Media{Content: []byte("x"), MimeType: "image/png"}, "")
	require.NoError(t, err)
	require.NoError(t, os.Remove(path))

	removed, err := manager.CleanOrphanedSidecars()
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	_, err = os.Stat(path + ".json")
	assert.True(t, os.IsNotExist(err))
}

func TestSafeName(t *testing.T) {
	assert.Equal(t, "a_b", safeName("a/b"))
	assert.Equal(t, "_", safeName(".."))
	assert.Equal(t, "_", safeName(""))
	assert.Equal(t, "story_1", safeName("story:1"))
}

func TestExtensionFor(t *testing.T) {
	tests := []struct {
		mime    string
		isVideo bool
		want    string
	}{
		{"image/jpeg", false, ".jpg"},
		{"image/png; charset=binary", false, ".png"},
		{"image/webp", false, ".webp"},
		{"video/mp4", true, ".mp4"},
		{"application/octet-stream", true, ".mp4"},
		{"application/octet-stream", false, ".jpg"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, extensionFor(tt.mime, tt.isVideo), tt.mime)
	}
}
