//go:build darwin || freebsd || openbsd || netbsd || dragonfly

package memusage

import (
	"runtime"

	"github.com/pkg/errors"
	"github.com/shirou/gopsutil/v3/process"
	"golang.org/x/sys/unix"
)

// rusageSource reads the live RSS through gopsutil. The kernel only exposes a peak through
// getrusage, which covers the calling process alone.
type rusageSource struct {
	proc *process.Process
	self bool
}

func newSelfSource() (source, error) {
	proc, err := process.NewProcess(int32(unix.Getpid()))
	if err != nil {
		return nil, err
	}

	return &rusageSource{proc: proc, self: true}, nil
}

func newPidSource(pid int) (source, error) {
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return nil, err
	}

	return &rusageSource{proc: proc}, nil
}

func (src *rusageSource) current() (uint64, error) {
	info, err := src.proc.MemoryInfo()
	if err != nil {
		return 0, err
	}

	return info.RSS, nil
}

func (src *rusageSource) peak() (uint64, error) {
	if !src.self {
		return 0, errors.Wrapf(ErrProbeUnavailable, "peak usage of process %d on %s", src.proc.Pid, runtime.GOOS)
	}

	var usage unix.Rusage
	if err := unix.Getrusage(unix.RUSAGE_SELF, &usage); err != nil {
		return 0, err
	}

	// ru_maxrss is reported in bytes on darwin and in kilobytes on the BSDs.
	maxRSS := uint64(usage.Maxrss)
	if runtime.GOOS != "darwin" {
		maxRSS *= 1024
	}

	return maxRSS, nil
}
