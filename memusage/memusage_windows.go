//go:build windows

package memusage

import (
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	modpsapi                 = windows.NewLazySystemDLL("psapi.dll")
	procGetProcessMemoryInfo = modpsapi.NewProc("GetProcessMemoryInfo")
)

// PROCESS_MEMORY_COUNTERS structure for GetProcessMemoryInfo.
type processMemoryCounters struct {
	Cb                         uint32
	PageFaultCount             uint32
	PeakWorkingSetSize         uintptr
	WorkingSetSize             uintptr
	QuotaPeakPagedPoolUsage    uintptr
	QuotaPagedPoolUsage        uintptr
	QuotaPeakNonPagedPoolUsage uintptr
	QuotaNonPagedPoolUsage     uintptr
	PagefileUsage              uintptr
	PeakPagefileUsage          uintptr
}

// psapiSource reports the working set, which is the windows notion of the resident set.
type psapiSource struct {
	// pid is zero for the calling process, which is queried through its pseudo handle.
	pid uint32
}

func newSelfSource() (source, error) {
	if err := procGetProcessMemoryInfo.Find(); err != nil {
		return nil, err
	}

	return &psapiSource{}, nil
}

func newPidSource(pid int) (source, error) {
	if err := procGetProcessMemoryInfo.Find(); err != nil {
		return nil, err
	}

	// Fail early if the process does not exist or cannot be opened.
	handle, err := openProcess(uint32(pid))
	if err != nil {
		return nil, err
	}
	if err := windows.CloseHandle(handle); err != nil {
		return nil, err
	}

	return &psapiSource{pid: uint32(pid)}, nil
}

func openProcess(pid uint32) (windows.Handle, error) {
	const access = windows.PROCESS_QUERY_LIMITED_INFORMATION | windows.PROCESS_VM_READ
	return windows.OpenProcess(access, false, pid)
}

func (src *psapiSource) counters() (processMemoryCounters, error) {
	var counters processMemoryCounters
	counters.Cb = uint32(unsafe.Sizeof(counters))

	handle := windows.CurrentProcess()
	if src.pid != 0 {
		var err error
		if handle, err = openProcess(src.pid); err != nil {
			return counters, err
		}
		//nolint:errcheck
		defer windows.CloseHandle(handle)
	}

	r1, _, callErr := procGetProcessMemoryInfo.Call(
		uintptr(handle),
		uintptr(unsafe.Pointer(&counters)),
		uintptr(counters.Cb),
	)
	if r1 == 0 {
		return counters, callErr
	}

	return counters, nil
}

func (src *psapiSource) current() (uint64, error) {
	counters, err := src.counters()
	if err != nil {
		return 0, err
	}

	return uint64(counters.WorkingSetSize), nil
}

func (src *psapiSource) peak() (uint64, error) {
	counters, err := src.counters()
	if err != nil {
		return 0, err
	}

	return uint64(counters.PeakWorkingSetSize), nil
}

func (src *psapiSource) both() (uint64, uint64, error) {
	counters, err := src.counters()
	if err != nil {
		return 0, 0, err
	}

	return uint64(counters.WorkingSetSize), uint64(counters.PeakWorkingSetSize), nil
}
