package doctor

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
)

// mount describes the filesystem a path lives on.
type mount struct {
	FSType string
	// Remote is set for network filesystems, where flock does not reliably
	// exclude a second host.
	Remote bool
}

// statNearest describes the filesystem of path, or of its closest existing
// parent when path has not been created yet.
func statNearest(path string, stat func(string) (mount, error)) (string, mount, error) {
	dir, err := filepath.Abs(path)
	if err != nil {
		return "", mount{}, fmt.Errorf("absolute path: %w", err)
	}
	for {
		m, err := stat(dir)
		if err == nil {
			return dir, m, nil
		}
		parent := filepath.Dir(dir)
		if !errors.Is(err, fs.ErrNotExist) || parent == dir {
			return dir, mount{}, err
		}
		dir = parent
	}
}
