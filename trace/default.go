package trace

import (
	"sync"
)

// The package level functions drive one process-wide Recorder, for hosts that want a single
// active trace without threading a *Recorder through their code.
var (
	defaultMu       sync.Mutex
	defaultRecorder *Recorder
)

// Init opens the process-wide trace at `path`. It fails with ErrInvalidState while a previous
// process-wide trace is still open. A closed one is replaced.
func Init(path string, opts ...Option) error {
	defaultMu.Lock()
	defer defaultMu.Unlock()

	if defaultRecorder != nil {
		if state := defaultRecorder.State(); state == StateOpen {
			return stateError("init", state)
		}
	}

	rec := New(opts...)
	if err := rec.Init(path); err != nil {
		return err
	}
	defaultRecorder = rec
	return nil
}

// Write appends an event to the process-wide trace.
func Write(event Event) error {
	rec := Default()
	if rec == nil {
		return stateError("write", StateUninitialized)
	}

	return rec.Write(event)
}

// WriteRaw appends a pre-serialized event to the process-wide trace.
func WriteRaw(raw Raw) error {
	rec := Default()
	if rec == nil {
		return stateError("write", StateUninitialized)
	}

	return rec.WriteRaw(raw)
}

// Deinit terminates and closes the process-wide trace.
func Deinit() error {
	rec := Default()
	if rec == nil {
		return stateError("deinit", StateUninitialized)
	}

	return rec.Deinit()
}

// Default returns the process-wide Recorder, or nil if Init was never called successfully.
func Default() *Recorder {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	return defaultRecorder
}
