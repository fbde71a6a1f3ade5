//go:build linux

package builder

import (
	"os"
	"syscall"
)

// platformMetadata extracts the POSIX fields FileEntry needs that
// os.FileInfo doesn't expose directly: exact mode bits, sub-second mtime,
// and ownership.
func platformMetadata(info os.FileInfo) (mode uint32, mtimeSec, mtimeNsec int64, uid, gid uint32) {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return uint32(info.Mode()), info.ModTime().Unix(), int64(info.ModTime().Nanosecond()), 0, 0
	}
	return st.Mode, st.Mtim.Sec, st.Mtim.Nsec, st.Uid, st.Gid
}
