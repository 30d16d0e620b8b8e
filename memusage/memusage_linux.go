//go:build linux

package memusage

import (
	"github.com/prometheus/procfs"
)

// procSource reads `/proc/<pid>/status`. `VmRSS` is the live resident set and `VmHWM` its
// high-water mark. procfs already converts both from kB to bytes.
type procSource struct {
	proc procfs.Proc
}

func newSelfSource() (source, error) {
	proc, err := procfs.Self()
	if err != nil {
		return nil, err
	}

	return &procSource{proc}, nil
}

func newPidSource(pid int) (source, error) {
	proc, err := procfs.NewProc(pid)
	if err != nil {
		return nil, err
	}

	return &procSource{proc}, nil
}

func (src *procSource) current() (uint64, error) {
	status, err := src.proc.NewStatus()
	if err != nil {
		return 0, err
	}

	return status.VmRSS, nil
}

func (src *procSource) peak() (uint64, error) {
	status, err := src.proc.NewStatus()
	if err != nil {
		return 0, err
	}

	return status.VmHWM, nil
}

func (src *procSource) both() (uint64, uint64, error) {
	status, err := src.proc.NewStatus()
	if err != nil {
		return 0, 0, err
	}

	return status.VmRSS, status.VmHWM, nil
}
