//go:build linux

package lockfile

import "golang.org/x/sys/unix"

const nfsSuperMagic = 0x6969

// watchSupported reports whether fsnotify can be trusted on the lock
// directory's filesystem. Inotify does not observe remote writers on NFS,
// so waiters there fall back to interval polling.
func watchSupported(dir string) bool {
	var st unix.Statfs_t
	if err := unix.Statfs(dir, &st); err != nil {
		return false
	}
	return st.Type != nfsSuperMagic
}
