//go:build linux

package restorer

import "golang.org/x/sys/unix"

// setTimes sets path's mtime (and, since there is no separate atime in
// FileEntry, atime to the same value) without following a final symlink
// component.
func setTimes(path string, sec, nsec int64) error {
	ts := unix.NsecToTimespec(sec*1e9 + nsec)
	return unix.UtimesNanoAt(unix.AT_FDCWD, path, []unix.Timespec{ts, ts}, unix.AT_SYMLINK_NOFOLLOW)
}
