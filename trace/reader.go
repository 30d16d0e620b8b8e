package trace

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"go.uber.org/multierr"
)

// Parse reads a trace and returns its events in file order. `terminated` reports whether the
// closing bracket was present. A trace cut short by a crash is not an error: the complete events
// before the cut are returned with `terminated == false`, and a trailing partial object is
// dropped. Input that is not an array of JSON objects returns ErrMalformedTrace along with the
// events read so far.
func Parse(reader io.Reader) (events []json.RawMessage, terminated bool, err error) {
	decoder := json.NewDecoder(bufio.NewReader(reader))

	tok, err := decoder.Token()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, false, errors.Wrap(ErrMalformedTrace, "empty trace")
		}
		return nil, false, errors.Wrap(ErrMalformedTrace, err.Error())
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '[' {
		return nil, false, errors.Wrapf(ErrMalformedTrace, "expected '[', found %v", tok)
	}

	for decoder.More() {
		var event json.RawMessage
		if err := decoder.Decode(&event); err != nil {
			if isTruncation(err) {
				return events, false, nil
			}
			return events, false, errors.Wrapf(ErrMalformedTrace, "event %d: %v", len(events), err)
		}
		if len(event) == 0 || event[0] != '{' {
			return events, false, errors.Wrapf(ErrMalformedTrace, "event %d is not an object", len(events))
		}
		events = append(events, event)
	}

	tok, err = decoder.Token()
	if err != nil {
		if isTruncation(err) {
			return events, false, nil
		}
		return events, false, errors.Wrap(ErrMalformedTrace, err.Error())
	}
	if delim, ok := tok.(json.Delim); !ok || delim != ']' {
		return events, false, errors.Wrapf(ErrMalformedTrace, "expected ']', found %v", tok)
	}

	// Only whitespace may follow the closing bracket.
	if tok, err = decoder.Token(); !errors.Is(err, io.EOF) {
		if err != nil {
			return events, false, errors.Wrapf(ErrMalformedTrace, "after ']': %v", err)
		}
		return events, false, errors.Wrapf(ErrMalformedTrace, "unexpected %v after ']'", tok)
	}

	return events, true, nil
}

func isTruncation(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}

// ReadFile parses the trace stored at `path` on `fs`.
func ReadFile(fs afero.Fs, path string) ([]json.RawMessage, bool, error) {
	file, err := fs.Open(path)
	if err != nil {
		return nil, false, err
	}
	//nolint:errcheck
	defer file.Close()

	return Parse(file)
}

// Repair terminates a trace that was left open by a crash. Complete events are kept, a trailing
// partial event is dropped and the closing bracket is appended. The file is rewritten through a
// temporary file and a rename. A trace that is already terminated is left untouched and Repair
// returns false.
func Repair(fs afero.Fs, path string) (bool, error) {
	events, terminated, err := ReadFile(fs, path)
	if err != nil {
		return false, err
	}
	if terminated {
		return false, nil
	}

	info, err := fs.Stat(path)
	if err != nil {
		return false, err
	}

	var buf bytes.Buffer
	buf.Write(openToken)
	for idx, event := range events {
		if idx > 0 {
			buf.Write(separatorToken)
		}
		buf.Write(event)
	}
	buf.Write(closeToken)

	tmpPath := path + ".repair"
	if err := writeSynced(fs, tmpPath, buf.Bytes(), info.Mode()); err != nil {
		return false, multierr.Combine(err, fs.Remove(tmpPath))
	}
	if err := fs.Rename(tmpPath, path); err != nil {
		return false, multierr.Combine(err, fs.Remove(tmpPath))
	}

	return true, nil
}

func writeSynced(fs afero.Fs, path string, data []byte, mode os.FileMode) error {
	file, err := fs.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := file.Write(data); err != nil {
		return multierr.Combine(err, file.Close())
	}
	if err := file.Sync(); err != nil {
		return multierr.Combine(err, file.Close())
	}
	return file.Close()
}
