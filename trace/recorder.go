// Package trace records a stream of events to a file framed as a JSON array. The file starts with
// "[\n", events are separated by ",\n" and a clean Deinit appends "\n]". Events are written
// through to the sink as they arrive; nothing is buffered in the recorder.
//
// A process that dies between Init and Deinit leaves a valid JSON array prefix without its
// closing bracket. Parse and Repair accept such files.
package trace

import (
	"bytes"
	"os"
	"sync"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"go.uber.org/multierr"
)

// State is the lifecycle state of a Recorder.
type State int

const (
	// StateUninitialized is a Recorder that has not been Init'ed.
	StateUninitialized State = iota
	// StateOpen is a Recorder that accepts writes.
	StateOpen
	// StateClosed is terminal. A new Recorder is required to record again.
	StateClosed
)

func (state State) String() string {
	switch state {
	case StateUninitialized:
		return "uninitialized"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	}

	return "unknown"
}

var (
	openToken      = []byte("[\n")
	separatorToken = []byte(",\n")
	closeToken     = []byte("\n]")
)

// Recorder owns one trace sink. All methods are safe for concurrent use; writes are serialized so
// events never interleave.
type Recorder struct {
	fs          afero.Fs
	fileMode    os.FileMode
	syncOnWrite bool

	mu         sync.Mutex
	state      State
	path       string
	file       afero.File
	eventCount uint64
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithFs sets the filesystem the trace file is created on. Defaults to the OS filesystem.
func WithFs(fs afero.Fs) Option {
	return func(rec *Recorder) {
		rec.fs = fs
	}
}

// WithSyncOnWrite makes every Write fsync the sink before returning. Without it only Deinit syncs,
// and a crash may lose events still held in the OS page cache.
func WithSyncOnWrite(on bool) Option {
	return func(rec *Recorder) {
		rec.syncOnWrite = on
	}
}

// WithFileMode sets the permissions used when the trace file is created.
func WithFileMode(mode os.FileMode) Option {
	return func(rec *Recorder) {
		rec.fileMode = mode
	}
}

// New returns an uninitialized Recorder.
func New(opts ...Option) *Recorder {
	rec := &Recorder{
		fs:       afero.NewOsFs(),
		fileMode: 0o644,
	}
	for _, opt := range opts {
		opt(rec)
	}

	return rec
}

// Init creates (or truncates) the file at `path` and writes the opening bracket. It fails with
// ErrInvalidState unless the recorder is uninitialized; an already open sink is left untouched.
// Filesystem failures are returned as *OpenError and leave the recorder uninitialized.
func (rec *Recorder) Init(path string) error {
	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.state != StateUninitialized {
		return stateError("init", rec.state)
	}

	file, err := rec.fs.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, rec.fileMode)
	if err != nil {
		return &OpenError{Path: path, Err: err}
	}

	if _, err := file.Write(openToken); err != nil {
		return &OpenError{Path: path, Err: multierr.Combine(err, file.Close())}
	}

	rec.file = file
	rec.path = path
	rec.eventCount = 0
	rec.state = StateOpen
	return nil
}

// Write appends `event` to the trace. It fails with ErrInvalidState unless the recorder is open,
// and with ErrInvalidEvent if the event cannot be encoded. Nothing is written on those failures.
// An error matching ErrNotSynced means the event was written and counted but its fsync failed.
func (rec *Recorder) Write(event Event) error {
	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.state != StateOpen {
		return stateError("write", rec.state)
	}

	payload, err := event.MarshalJSON()
	if err != nil {
		return err
	}

	return rec.appendLocked(payload)
}

// WriteRaw appends an already serialized event. `raw` must hold exactly one JSON object.
func (rec *Recorder) WriteRaw(raw Raw) error {
	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.state != StateOpen {
		return stateError("write", rec.state)
	}

	if err := raw.validate(); err != nil {
		return err
	}

	return rec.appendLocked(bytes.TrimSpace(raw))
}

// appendLocked writes the separator (for all but the first event) and the payload in a single
// write call. The event count is only advanced once the bytes reached the sink, so a failed sync
// still counts the event.
func (rec *Recorder) appendLocked(payload []byte) error {
	buf := make([]byte, 0, len(separatorToken)+len(payload))
	if rec.eventCount > 0 {
		buf = append(buf, separatorToken...)
	}
	buf = append(buf, payload...)

	if _, err := rec.file.Write(buf); err != nil {
		return errors.Wrapf(err, "writing event %d to %q", rec.eventCount, rec.path)
	}
	rec.eventCount++

	if rec.syncOnWrite {
		if err := rec.file.Sync(); err != nil {
			return errors.Wrapf(ErrNotSynced, "event %d in %q: %v", rec.eventCount-1, rec.path, err)
		}
	}

	return nil
}

// Deinit writes the closing bracket, syncs and closes the sink. The recorder is closed afterwards
// even if any of those steps fail; the failures are combined into the returned error. Calling
// Deinit on a recorder that is not open returns ErrInvalidState and has no effect.
func (rec *Recorder) Deinit() error {
	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.state != StateOpen {
		return stateError("deinit", rec.state)
	}

	file := rec.file
	rec.file = nil
	rec.state = StateClosed

	var errs error
	if _, err := file.Write(closeToken); err != nil {
		errs = multierr.Append(errs, errors.Wrapf(err, "terminating %q", rec.path))
	}
	if err := file.Sync(); err != nil {
		errs = multierr.Append(errs, errors.Wrapf(err, "syncing %q", rec.path))
	}
	if err := file.Close(); err != nil {
		errs = multierr.Append(errs, errors.Wrapf(err, "closing %q", rec.path))
	}

	return errs
}

// State returns the current lifecycle state.
func (rec *Recorder) State() State {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.state
}

// Path returns the path given to Init, or "" before Init.
func (rec *Recorder) Path() string {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.path
}

// EventCount returns the number of events written since Init.
func (rec *Recorder) EventCount() uint64 {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.eventCount
}
