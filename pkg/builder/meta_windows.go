//go:build windows

package builder

import "os"

// platformMetadata has no POSIX uid/gid/sub-second mtime equivalent on
// Windows; mode and whole-second mtime are the best available substitute.
func platformMetadata(info os.FileInfo) (mode uint32, mtimeSec, mtimeNsec int64, uid, gid uint32) {
	return uint32(info.Mode()), info.ModTime().Unix(), int64(info.ModTime().Nanosecond()), 0, 0
}
