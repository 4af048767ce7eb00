//go:build !darwin && !linux

package doctor

import (
	"errors"
	"fmt"
	"runtime"
)

func statMount(string) (mount, error) {
	return mount{}, fmt.Errorf("filesystem detection on %s: %w", runtime.GOOS, errors.ErrUnsupported)
}
