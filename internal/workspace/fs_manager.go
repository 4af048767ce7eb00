package workspace

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// fsWorkspaceManager manages per-task workspace directories on local disk.
type fsWorkspaceManager struct {
	baseDir string
	now     func() time.Time
}

var _ Manager = (*fsWorkspaceManager)(nil)

// NewFSManager creates a filesystem-backed workspace manager rooted at baseDir.
func NewFSManager(baseDir string) (*fsWorkspaceManager, error) {
	trimmed := strings.TrimSpace(baseDir)
	if trimmed == "" {
		return nil, fmt.Errorf("workspace base directory is empty")
	}

	return &fsWorkspaceManager{
		baseDir: filepath.Clean(trimmed),
		now:     time.Now,
	}, nil
}

// BaseDir returns the directory holding all task workspaces.
func (m *fsWorkspaceManager) BaseDir() string { return m.baseDir }

// Create returns the workspace directory for taskID, creating it if needed.
func (m *fsWorkspaceManager) Create(ctx context.Context, taskID int64) (Workspace, error) {
	if err := ctx.Err(); err != nil {
		return Workspace{}, err
	}

	path, err := m.workspacePath(taskID)
	if err != nil {
		return Workspace{}, err
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return Workspace{}, fmt.Errorf("create workspace for task %d: %w", taskID, err)
	}
	// Touch so cleanup measures age from the latest run.
	now := m.now()
	if err := os.Chtimes(path, now, now); err != nil {
		return Workspace{}, fmt.Errorf("touch workspace for task %d: %w", taskID, err)
	}

	return Workspace{TaskID: taskID, Dir: path}, nil
}

// Open returns metadata for an existing workspace directory.
func (m *fsWorkspaceManager) Open(ctx context.Context, taskID int64) (Workspace, error) {
	if err := ctx.Err(); err != nil {
		return Workspace{}, err
	}

	path, err := m.workspacePath(taskID)
	if err != nil {
		return Workspace{}, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return Workspace{}, fmt.Errorf("open workspace for task %d: %w", taskID, err)
	}
	if !info.IsDir() {
		return Workspace{}, fmt.Errorf("workspace path for task %d is not a directory", taskID)
	}

	return Workspace{TaskID: taskID, Dir: path}, nil
}

// Cleanup removes workspace directories older than olderThan based on directory
// modification time. Entries that are not task directories are left alone.
func (m *fsWorkspaceManager) Cleanup(ctx context.Context, olderThan time.Duration, inUse func(taskID int64) bool) (CleanupReport, error) {
	if err := ctx.Err(); err != nil {
		return CleanupReport{}, err
	}
	if olderThan <= 0 {
		return CleanupReport{}, fmt.Errorf("olderThan must be positive")
	}

	entries, err := os.ReadDir(m.baseDir)
	if os.IsNotExist(err) {
		return CleanupReport{}, nil
	}
	if err != nil {
		return CleanupReport{}, fmt.Errorf("read workspace base directory: %w", err)
	}

	cutoff := m.now().Add(-olderThan)
	report := CleanupReport{}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if !entry.IsDir() {
			continue
		}
		taskID, err := strconv.ParseInt(entry.Name(), 10, 64)
		if err != nil {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			return report, fmt.Errorf("read workspace entry info %q: %w", entry.Name(), err)
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if inUse != nil && inUse(taskID) {
			report.SkippedBusy++
			continue
		}

		path := filepath.Join(m.baseDir, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			return report, fmt.Errorf("remove workspace %q: %w", entry.Name(), err)
		}
		report.DeletedDirs++
	}

	return report, nil
}

func (m *fsWorkspaceManager) workspacePath(taskID int64) (string, error) {
	if taskID < 0 {
		return "", fmt.Errorf("task id %d is invalid", taskID)
	}
	return filepath.Join(m.baseDir, strconv.FormatInt(taskID, 10)), nil
}
