//go:build windows

package restorer

import (
	"os"
	"time"
)

// setTimes falls back to os.Chtimes, which follows symlinks on Windows;
// there is no AT_SYMLINK_NOFOLLOW equivalent in the standard library here.
func setTimes(path string, sec, nsec int64) error {
	t := time.Unix(sec, nsec)
	return os.Chtimes(path, t, t)
}
