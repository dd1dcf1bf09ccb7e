package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"igharvest/pkg/models"
)

// Sidecar is the metadata written next to every archived file
type Sidecar struct {
	Item         models.MediaItem `json:"item"`
	SourceID     string           `json:"source_id"`
	MimeType     string           `json:"mime_type"`
	Digest       string           `json:"digest,omitempty"`
	FileSize     int64            `json:"file_size"`
	DownloadedAt time.Time        `json:"downloaded_at"`
}

// Manager archives fetched media under one directory per target and
// remembers what is already on disk
type Manager struct {
	outputDir string
	archived  map[string]bool
	mu        sync.RWMutex
}

// NewManager creates a new storage manager
func NewManager(outputDir string) (*Manager, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	manager := &Manager{
		outputDir: outputDir,
		archived:  make(map[string]bool),
	}

	if err := manager.scanExistingFiles(); err != nil {
		return nil, fmt.Errorf("failed to scan existing files: %w", err)
	}

	return manager, nil
}

// scanExistingFiles indexes archived media by their sidecars
func (m *Manager) scanExistingFiles() error {
	targets, err := os.ReadDir(m.outputDir)
	if err != nil {
		return fmt.Errorf("failed to read directory: %w", err)
	}

	for _, dir := range targets {
		if !dir.IsDir() {
			continue
		}
		entries, err := os.ReadDir(filepath.Join(m.outputDir, dir.Name()))
		if err != nil {
			return fmt.Errorf("failed to read directory: %w", err)
		}
		for _, entry := range entries {
			name := entry.Name()
			if entry.IsDir() || !strings.HasSuffix(name, ".json") {
				continue
			}
			// {mediaid}.{ext}.json
			base := strings.TrimSuffix(name, ".json")
			id := strings.TrimSuffix(base, filepath.Ext(base))
			m.archived[key(dir.Name(), id)] = true
		}
	}

	return nil
}

// IsArchived checks whether media id of target is already stored
func (m *Manager) IsArchived(target, mediaID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.archived[key(safeName(target), safeName(mediaID))]
}

// Save writes the media bytes and their sidecar atomically and returns
// the media file path
func (m *Manager) Save(target, sourceID string, item models.MediaItem, media *models.Media, digest string) (string, error) {
	if item.ID == "" {
		return "", fmt.Errorf("media item has no id")
	}
	dir := filepath.Join(m.outputDir, safeName(target))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create target directory: %w", err)
	}

	filename := filepath.Join(dir, safeName(item.ID)+extensionFor(media.MimeType, item.IsVideo))
	if err := writeAtomic(filename, bytes.NewReader(media.Content)); err != nil {
		return "", err
	}

	sidecar := Sidecar{
		Item:         item,
		SourceID:     sourceID,
		MimeType:     media.MimeType,
		Digest:       digest,
		FileSize:     int64(len(media.Content)),
		DownloadedAt: time.Now().UTC(),
	}
	data, err := json.MarshalIndent(sidecar, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal sidecar: %w", err)
	}
	if err := writeAtomic(filename+".json", bytes.NewReader(data)); err != nil {
		return "", err
	}

	m.mu.Lock()
	m.archived[key(safeName(target), safeName(item.ID))] = true
	m.mu.Unlock()

	return filename, nil
}

// LoadSidecar reads the sidecar written for mediaPath
func LoadSidecar(mediaPath string) (*Sidecar, error) {
	data, err := os.ReadFile(mediaPath + ".json")
	if err != nil {
		return nil, fmt.Errorf("failed to read sidecar: %w", err)
	}
	var s Sidecar
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal sidecar: %w", err)
	}
	return &s, nil
}

// CleanOrphanedSidecars removes sidecars whose media file is gone
func (m *Manager) CleanOrphanedSidecars() (int, error) {
	removed := 0
	err := filepath.Walk(m.outputDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !strings.HasSuffix(path, ".json") {
			return nil
		}
		mediaPath := strings.TrimSuffix(path, ".json")
		if _, err := os.Stat(mediaPath); os.IsNotExist(err) {
			if err := os.Remove(path); err != nil {
				return fmt.Errorf("failed to remove orphaned sidecar %s: %w", path, err)
			}
			removed++
		}
		return nil
	})
	return removed, err
}

// GetOutputDir returns the output directory path
func (m *Manager) GetOutputDir() string {
	return m.outputDir
}

// GetArchivedCount returns the number of archived media files
func (m *Manager) GetArchivedCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.archived)
}

func writeAtomic(filename string, r io.Reader) error {
	tempFile := filename + ".tmp"
	out, err := os.Create(tempFile)
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}

	_, err = io.Copy(out, r)
	closeErr := out.Close()

	if err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to write data: %w", err)
	}
	if closeErr != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to close file: %w", closeErr)
	}

	if err := os.Rename(tempFile, filename); err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to rename temporary file: %w", err)
	}
	return nil
}

func key(target, id string) string {
	return target + "/" + id
}

// safeName keeps a path component inside its directory
func safeName(s string) string {
	s = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', 0:
			return '_'
		}
		return r
	}, s)
	if s == "" || s == "." || s == ".." {
		return "_"
	}
	return s
}

func extensionFor(mimeType string, isVideo bool) string {
	mt := strings.ToLower(strings.TrimSpace(strings.SplitN(mimeType, ";", 2)[0]))
	switch mt {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	case "image/heic":
		return ".heic"
	case "video/mp4":
		return ".mp4"
	}
	if isVideo {
		return ".mp4"
	}
	return ".jpg"
}
