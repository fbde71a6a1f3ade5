//go:build linux

package builder

import (
	"os"
	"syscall"
)

// inodeInfo reports the device, inode, and link count a FileInfo came
// from, used to detect filesystem boundaries and group hardlinks. ok is
// false on platforms without a syscall.Stat_t-shaped Sys().
func inodeInfo(info os.FileInfo) (dev, inode, nlink uint64, ok bool) {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, 0, 0, false
	}
	return uint64(st.Dev), uint64(st.Ino), uint64(st.Nlink), true
}
