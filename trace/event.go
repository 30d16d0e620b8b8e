package trace

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

// Phase is the trace event type, using the single letter codes of the Chrome trace event format.
type Phase string

const (
	// PhaseBegin opens a duration slice.
	PhaseBegin Phase = "B"
	// PhaseEnd closes the most recent PhaseBegin slice on the same thread.
	PhaseEnd Phase = "E"
	// PhaseComplete is a slice with an explicit Duration.
	PhaseComplete Phase = "X"
	// PhaseInstant marks a point in time.
	PhaseInstant Phase = "i"
	// PhaseCounter carries numeric Args that are graphed over time.
	PhaseCounter Phase = "C"
	// PhaseMetadata names processes and threads.
	PhaseMetadata Phase = "M"
)

// Event is one trace record. Name and Time are required; everything else is optional. Time is
// written as `ts`, in microseconds since the Unix epoch.
type Event struct {
	Name     string
	Category string
	Phase    Phase
	Time     time.Time
	// Duration is only written for PhaseComplete events.
	Duration time.Duration
	PID      int
	TID      int
	Args     map[string]any
}

type wireEvent struct {
	Name      string         `json:"name"`
	Category  string         `json:"cat,omitempty"`
	Phase     Phase          `json:"ph,omitempty"`
	Timestamp int64          `json:"ts"`
	Duration  *int64         `json:"dur,omitempty"`
	PID       int            `json:"pid,omitempty"`
	TID       int            `json:"tid,omitempty"`
	Args      map[string]any `json:"args,omitempty"`
}

func (event Event) validate() error {
	if event.Name == "" {
		return errors.Wrap(ErrInvalidEvent, "missing name")
	}
	if event.Time.IsZero() {
		return errors.Wrapf(ErrInvalidEvent, "event %q has no timestamp", event.Name)
	}
	if event.Duration < 0 {
		return errors.Wrapf(ErrInvalidEvent, "event %q has a negative duration", event.Name)
	}

	return nil
}

// MarshalJSON encodes the event as a Chrome trace event object.
func (event Event) MarshalJSON() ([]byte, error) {
	if err := event.validate(); err != nil {
		return nil, err
	}

	wire := wireEvent{
		Name:      event.Name,
		Category:  event.Category,
		Phase:     event.Phase,
		Timestamp: event.Time.UnixMicro(),
		PID:       event.PID,
		TID:       event.TID,
		Args:      event.Args,
	}
	if event.Phase == PhaseComplete {
		dur := event.Duration.Microseconds()
		wire.Duration = &dur
	}

	payload, err := json.Marshal(wire)
	if err != nil {
		// NaN, infinities and unsupported types in Args.
		return nil, errors.Wrapf(ErrInvalidEvent, "event %q: %v", event.Name, err)
	}
	return payload, nil
}

// UnmarshalJSON decodes a Chrome trace event object. Numeric Args decode as float64.
func (event *Event) UnmarshalJSON(data []byte) error {
	var wire wireEvent
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}

	*event = Event{
		Name:     wire.Name,
		Category: wire.Category,
		Phase:    wire.Phase,
		Time:     time.UnixMicro(wire.Timestamp).UTC(),
		PID:      wire.PID,
		TID:      wire.TID,
		Args:     wire.Args,
	}
	if wire.Duration != nil {
		event.Duration = time.Duration(*wire.Duration) * time.Microsecond
	}

	return nil
}

// Raw is an event the caller has already serialized. It must hold exactly one JSON object.
type Raw []byte

func (raw Raw) validate() error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' || !json.Valid(trimmed) {
		return errors.Wrap(ErrInvalidEvent, "raw event is not a single JSON object")
	}

	return nil
}
