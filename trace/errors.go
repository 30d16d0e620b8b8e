package trace

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrInvalidState is returned when an operation is attempted in a state that does not permit
	// it: a second Init, a Write before Init or after Deinit, a second Deinit.
	ErrInvalidState = errors.New("invalid trace recorder state")

	// ErrInvalidEvent is returned for events that cannot be written as a single JSON object.
	ErrInvalidEvent = errors.New("invalid trace event")

	// ErrNotSynced is returned when an event was written and counted but the following fsync
	// failed. The event must not be written again.
	ErrNotSynced = errors.New("trace event written but not synced")

	// ErrMalformedTrace is returned by the reader when the input is not a (possibly unterminated)
	// JSON array of objects.
	ErrMalformedTrace = errors.New("malformed trace")
)

// OpenError reports that the trace sink could not be created, truncated or given its opening
// token. The underlying OS error is available through errors.Unwrap / errors.As.
type OpenError struct {
	Path string
	Err  error
}

func (err *OpenError) Error() string {
	return fmt.Sprintf("cannot open trace %q: %v", err.Path, err.Err)
}

func (err *OpenError) Unwrap() error {
	return err.Err
}

func stateError(op string, state State) error {
	return errors.Wrapf(ErrInvalidState, "%s while %s", op, state)
}
