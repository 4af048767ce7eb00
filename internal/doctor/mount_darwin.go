//go:build darwin

package doctor

import (
	"io/fs"

	"golang.org/x/sys/unix"
)

func statMount(path string) (mount, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return mount{}, &fs.PathError{Op: "statfs", Path: path, Err: err}
	}
	return mount{
		FSType: unix.ByteSliceToString(st.Fstypename[:]),
		Remote: st.Flags&unix.MNT_LOCAL == 0,
	}, nil
}
