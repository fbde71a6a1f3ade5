//go:build windows

package builder

import "os"

// inodeInfo has no Windows equivalent of device+inode via os.FileInfo;
// one_file_system checks and hardlink grouping are unix-only features.
func inodeInfo(info os.FileInfo) (dev, inode, nlink uint64, ok bool) {
	return 0, 0, 1, false
}
