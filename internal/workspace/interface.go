package workspace

import (
	"context"
	"time"
)

// Workspace is the working directory of one task under the shared directory.
type Workspace struct {
	TaskID int64
	Dir    string
}

// CleanupReport summarizes a cleanup run.
type CleanupReport struct {
	DeletedDirs int
	SkippedBusy int
}

// Manager governs task working directories.
type Manager interface {
	// Create returns the workspace for taskID, creating it if needed. A task id
	// may run again after a previous run terminated, so an existing directory
	// is reused.
	Create(ctx context.Context, taskID int64) (Workspace, error)

	// Open resolves an existing workspace for taskID.
	Open(ctx context.Context, taskID int64) (Workspace, error)

	// Cleanup removes workspaces older than olderThan. inUse reports task ids
	// whose directories must be kept regardless of age.
	Cleanup(ctx context.Context, olderThan time.Duration, inUse func(taskID int64) bool) (CleanupReport, error)
}
