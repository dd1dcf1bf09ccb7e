package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"time"

	"igharvest/pkg/logger"
)

const currentVersion = 1

// Checkpoint records which targets of an extraction batch are finished
type Checkpoint struct {
	BatchID   string               `json:"batch_id"`
	Targets   []string             `json:"targets"`
	Completed map[string]time.Time `json:"completed"` // target -> finished at
	ItemsDone int                  `json:"items_done"`
	CreatedAt time.Time            `json:"created_at"`
	UpdatedAt time.Time            `json:"updated_at"`
	Version   int                  `json:"version"`
}

// IsCompleted reports whether target finished in this batch
func (cp *Checkpoint) IsCompleted(target string) bool {
	_, ok := cp.Completed[target]
	return ok
}

// Remaining returns the targets not yet completed, in batch order
func (cp *Checkpoint) Remaining() []string {
	out := make([]string, 0, len(cp.Targets))
	for _, t := range cp.Targets {
		if !cp.IsCompleted(t) {
			out = append(out, t)
		}
	}
	return out
}

// Manager handles checkpoint operations
type Manager struct {
	checkpointPath string
	logger         logger.Logger
}

// NewManager creates a checkpoint manager for batchID under dir. An empty
// dir uses the platform data directory.
func NewManager(dir, batchID string, log logger.Logger) (*Manager, error) {
	if batchID == "" {
		return nil, fmt.Errorf("batch id is required")
	}
	if log == nil {
		log = logger.GetLogger()
	}

	if dir == "" {
		dataDir, err := getDataDirectory()
		if err != nil {
			return nil, fmt.Errorf("failed to get data directory: %w", err)
		}
		dir = filepath.Join(dataDir, "checkpoints")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoints directory: %w", err)
	}

	return &Manager{
		checkpointPath: filepath.Join(dir, fmt.Sprintf("%s.checkpoint.json", batchID)),
		logger:         log,
	}, nil
}

// Path returns the checkpoint file location
func (m *Manager) Path() string {
	return m.checkpointPath
}

// Create writes a fresh checkpoint for targets
func (m *Manager) Create(batchID string, targets []string) (*Checkpoint, error) {
	now := time.Now()
	checkpoint := &Checkpoint{
		BatchID:   batchID,
		Targets:   append([]string(nil), targets...),
		Completed: make(map[string]time.Time),
		CreatedAt: now,
		UpdatedAt: now,
		Version:   currentVersion,
	}

	if err := m.Save(checkpoint); err != nil {
		return nil, fmt.Errorf("failed to save initial checkpoint: %w", err)
	}

	m.logger.InfoWithFields("Checkpoint created", map[string]interface{}{
		"batch_id": batchID,
		"targets":  len(targets),
		"path":     m.checkpointPath,
	})

	return checkpoint, nil
}

// Load loads an existing checkpoint. It returns nil, nil when none exists.
func (m *Manager) Load() (*Checkpoint, error) {
	file, err := os.Open(m.checkpointPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open checkpoint file: %w", err)
	}
	defer file.Close()

	var checkpoint Checkpoint
	if err := json.NewDecoder(file).Decode(&checkpoint); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint: %w", err)
	}
	if checkpoint.Version > currentVersion {
		return nil, fmt.Errorf("checkpoint version %d is newer than supported %d", checkpoint.Version, currentVersion)
	}
	if checkpoint.Completed == nil {
		checkpoint.Completed = make(map[string]time.Time)
	}

	m.logger.InfoWithFields("Checkpoint loaded", map[string]interface{}{
		"batch_id":   checkpoint.BatchID,
		"completed":  len(checkpoint.Completed),
		"items_done": checkpoint.ItemsDone,
		"updated_at": checkpoint.UpdatedAt,
	})

	return &checkpoint, nil
}

// LoadOrCreate resumes the checkpoint for targets when one exists and
// covers the same target list, otherwise starts a new one.
func (m *Manager) LoadOrCreate(batchID string, targets []string) (*Checkpoint, error) {
	existing, err := m.Load()
	if err != nil {
		m.logger.WarnWithFields("Discarding unreadable checkpoint", map[string]interface{}{
			"path":  m.checkpointPath,
			"error": err.Error(),
		})
	} else if existing != nil && sameTargets(existing.Targets, targets) {
		return existing, nil
	}
	return m.Create(batchID, targets)
}

// Save saves the checkpoint to disk atomically
func (m *Manager) Save(checkpoint *Checkpoint) error {
	checkpoint.UpdatedAt = time.Now()

	tempPath := m.checkpointPath + ".tmp"
	file, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("failed to create temporary checkpoint file: %w", err)
	}

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(checkpoint); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}

	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to sync checkpoint file: %w", err)
	}

	if err := file.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to close checkpoint file: %w", err)
	}

	if err := os.Rename(tempPath, m.checkpointPath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to replace checkpoint file: %w", err)
	}

	m.logger.DebugWithFields("Checkpoint saved", map[string]interface{}{
		"batch_id":   checkpoint.BatchID,
		"completed":  len(checkpoint.Completed),
		"items_done": checkpoint.ItemsDone,
	})

	return nil
}

// MarkCompleted records target as finished after items fetched media
func (m *Manager) MarkCompleted(checkpoint *Checkpoint, target string, items int) error {
	checkpoint.Completed[target] = time.Now()
	checkpoint.ItemsDone += items
	return m.Save(checkpoint)
}

// Delete removes the checkpoint file
func (m *Manager) Delete() error {
	if err := os.Remove(m.checkpointPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}

	m.logger.Debug("Checkpoint deleted")
	return nil
}

// Exists checks if a checkpoint file exists
func (m *Manager) Exists() bool {
	_, err := os.Stat(m.checkpointPath)
	return err == nil
}

func sameTargets(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	x := append([]string(nil), a...)
	y := append([]string(nil), b...)
	sort.Strings(x)
	sort.Strings(y)
	for i := range x {
		if x[i] != y[i] {
			return false
		}
	}
	return true
}

// getDataDirectory returns the appropriate data directory for the current OS
func getDataDirectory() (string, error) {
	var dataDir string

	switch runtime.GOOS {
	case "linux":
		if xdgDataHome := os.Getenv("XDG_DATA_HOME"); xdgDataHome != "" {
			dataDir = filepath.Join(xdgDataHome, "igharvest")
		} else {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			dataDir = filepath.Join(home, ".local", "share", "igharvest")
		}
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dataDir = filepath.Join(home, "Library", "Application Support", "igharvest")
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			return "", fmt.Errorf("APPDATA environment variable not set")
		}
		dataDir = filepath.Join(appData, "igharvest")
	default:
		return "", fmt.Errorf("unsupported operating system: %s", runtime.GOOS)
	}

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create data directory: %w", err)
	}

	return dataDir, nil
}
