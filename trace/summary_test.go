package trace

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"go.viam.com/test"
)

func rawEvents(t *testing.T, events ...Event) []json.RawMessage {
	t.Helper()
	raws := make([]json.RawMessage, 0, len(events))
	for _, event := range events {
		raw, err := json.Marshal(event)
		test.That(t, err, test.ShouldBeNil)
		raws = append(raws, raw)
	}
	return raws
}

func TestSummarize(t *testing.T) {
	counter := func(offset time.Duration, current, peak float64) Event {
		return Event{
			Name:  "memory",
			Phase: PhaseCounter,
			Time:  testTime.Add(offset),
			Args:  map[string]any{"current_bytes": current, "peak_bytes": peak},
		}
	}

	events := rawEvents(t,
		Event{
			Name:  "process_name",
			Phase: PhaseMetadata,
			Time:  testTime,
			Args:  map[string]any{"name": "proctrace"},
		},
		counter(time.Second, 100, 100),
		counter(2*time.Second, 300, 300),
		counter(3*time.Second, 200, 300),
		Event{Name: "gc", Phase: PhaseInstant, Time: testTime.Add(4 * time.Second)},
	)

	summary, err := Summarize(events)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, summary.Events, test.ShouldEqual, 5)
	test.That(t, summary.First.Equal(testTime), test.ShouldBeTrue)
	test.That(t, summary.Span(), test.ShouldEqual, 4*time.Second)

	expected := []SeriesSummary{
		{Counter: "memory", Series: "current_bytes", Samples: 3, Min: 100, Max: 300, Mean: 200, P95: 300},
		{Counter: "memory", Series: "peak_bytes", Samples: 3, Min: 100, Max: 300, Mean: 700.0 / 3, P95: 300},
	}
	test.That(t, cmp.Diff(expected, summary.Series), test.ShouldBeEmpty)
}

func TestSummarizeOrdering(t *testing.T) {
	events := rawEvents(t,
		Event{Name: "zeta", Phase: PhaseCounter, Time: testTime, Args: map[string]any{"b": 1, "a": 2}},
		Event{Name: "alpha", Phase: PhaseCounter, Time: testTime, Args: map[string]any{"x": 3, "label": "skip"}},
	)

	summary, err := Summarize(events)
	test.That(t, err, test.ShouldBeNil)

	var names []string
	for _, series := range summary.Series {
		names = append(names, series.Counter+"."+series.Series)
	}
	test.That(t, names, test.ShouldResemble, []string{"alpha.x", "zeta.a", "zeta.b"})
	test.That(t, summary.Span(), test.ShouldEqual, time.Duration(0))
}

func TestSummarizeEmpty(t *testing.T) {
	summary, err := Summarize(nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cmp.Equal(summary, Summary{}), test.ShouldBeTrue)
}

func TestSummarizeMalformedEvent(t *testing.T) {
	_, err := Summarize([]json.RawMessage{json.RawMessage(`{"name":"a","ts":"soon"}`)})
	test.That(t, errors.Is(err, ErrMalformedTrace), test.ShouldBeTrue)
}
