//go:build !linux && !windows && !darwin && !freebsd && !openbsd && !netbsd && !dragonfly

package memusage

func newSelfSource() (source, error) {
	return newUnsupportedSource(), nil
}

func newPidSource(pid int) (source, error) {
	return newUnsupportedSource(), nil
}
