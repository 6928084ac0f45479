//go:build !linux

package lockfile

func watchSupported(string) bool { return true }
