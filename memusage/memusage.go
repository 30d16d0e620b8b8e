// Package memusage reports the resident memory of a process. Each supported operating system has
// its own source (procfs on linux, psapi on windows, rusage and gopsutil on darwin and the BSDs).
// Platforms without one get a probe whose every call returns ErrProbeUnavailable; no zero values
// are fabricated.
package memusage

import (
	"os"
	"runtime"

	"github.com/pkg/errors"
)

// ErrProbeUnavailable is returned, possibly wrapped with the OS cause, whenever memory usage cannot
// be queried: an invalid process, a permission failure or an unsupported platform.
var ErrProbeUnavailable = errors.New("memory usage probe unavailable")

// Reading is the resident memory of a process in bytes. `PeakBytes` is the high-water mark since
// the process started and is never smaller than `CurrentBytes`.
type Reading struct {
	CurrentBytes uint64 `json:"current_bytes"`
	PeakBytes    uint64 `json:"peak_bytes"`
}

// Probe queries the memory usage of one process. Implementations are safe for concurrent use.
type Probe interface {
	// CurrentUsage returns the resident set size in bytes.
	CurrentUsage() (uint64, error)
	// PeakUsage returns the largest resident set size observed since the process started.
	PeakUsage() (uint64, error)
	// Read returns both values, from a single OS query where the platform allows it.
	Read() (Reading, error)
}

// source is the per-platform backend of a probe.
type source interface {
	current() (uint64, error)
	peak() (uint64, error)
}

// combinedSource is implemented by sources that can produce both values in one query.
type combinedSource interface {
	both() (uint64, uint64, error)
}

// usageProbe adapts a platform `source` to the Probe interface.
type usageProbe struct {
	pid int
	src source
}

// NewSelfProbe returns a Probe for the calling process.
func NewSelfProbe() (Probe, error) {
	src, err := newSelfSource()
	if err != nil {
		return nil, unavailable(err, "cannot open current process")
	}

	return &usageProbe{os.Getpid(), src}, nil
}

// NewPidProbe returns a Probe for the process with the given pid. Peak usage of another process
// is only reported on linux and windows.
func NewPidProbe(pid int) (Probe, error) {
	if pid <= 0 {
		return nil, errors.Wrapf(ErrProbeUnavailable, "invalid pid %d", pid)
	}
	if pid == os.Getpid() {
		return NewSelfProbe()
	}

	src, err := newPidSource(pid)
	if err != nil {
		return nil, unavailable(err, "cannot open process %d", pid)
	}

	return &usageProbe{pid, src}, nil
}

// CurrentUsage returns the resident set size of the calling process in bytes.
func CurrentUsage() (uint64, error) {
	probe, err := NewSelfProbe()
	if err != nil {
		return 0, err
	}

	return probe.CurrentUsage()
}

// PeakUsage returns the peak resident set size of the calling process in bytes.
func PeakUsage() (uint64, error) {
	probe, err := NewSelfProbe()
	if err != nil {
		return 0, err
	}

	return probe.PeakUsage()
}

func (probe *usageProbe) CurrentUsage() (uint64, error) {
	current, err := probe.src.current()
	if err != nil {
		return 0, unavailable(err, "reading current usage of process %d", probe.pid)
	}

	return current, nil
}

func (probe *usageProbe) PeakUsage() (uint64, error) {
	peak, err := probe.src.peak()
	if err != nil {
		return 0, unavailable(err, "reading peak usage of process %d", probe.pid)
	}

	return peak, nil
}

func (probe *usageProbe) Read() (Reading, error) {
	if combined, ok := probe.src.(combinedSource); ok {
		current, peak, err := combined.both()
		if err != nil {
			return Reading{}, unavailable(err, "reading usage of process %d", probe.pid)
		}
		return newReading(current, peak), nil
	}

	current, err := probe.CurrentUsage()
	if err != nil {
		return Reading{}, err
	}
	peak, err := probe.PeakUsage()
	if err != nil {
		return Reading{}, err
	}

	return newReading(current, peak), nil
}

// newReading clamps the peak to the current value. Some kernels only fold the live RSS into the
// high-water mark periodically, so a peak can briefly trail the current value.
func newReading(current, peak uint64) Reading {
	if peak < current {
		peak = current
	}

	return Reading{CurrentBytes: current, PeakBytes: peak}
}

// unavailable wraps `err` such that `errors.Is(err, ErrProbeUnavailable)` holds while the OS
// cause stays in the message.
func unavailable(err error, format string, args ...any) error {
	if errors.Is(err, ErrProbeUnavailable) {
		return errors.Wrapf(err, format, args...)
	}

	return errors.Wrapf(&probeError{err}, format, args...)
}

type probeError struct {
	cause error
}

func (err *probeError) Error() string {
	return ErrProbeUnavailable.Error() + ": " + err.cause.Error()
}

func (err *probeError) Is(target error) bool {
	return target == ErrProbeUnavailable
}

func (err *probeError) Unwrap() error {
	return err.cause
}

// unsupportedSource is used on platforms without a native resident memory API.
type unsupportedSource struct {
	goos string
}

func (src unsupportedSource) current() (uint64, error) {
	return 0, errors.Wrapf(ErrProbeUnavailable, "no resident memory source on %s", src.goos)
}

func (src unsupportedSource) peak() (uint64, error) {
	return 0, errors.Wrapf(ErrProbeUnavailable, "no peak resident memory source on %s", src.goos)
}

func newUnsupportedSource() source {
	return unsupportedSource{runtime.GOOS}
}
