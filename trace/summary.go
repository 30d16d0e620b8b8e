package trace

import (
	"encoding/json"
	"slices"
	"strings"
	"time"

	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	"github.com/samber/lo"
)

// SeriesSummary describes one argument of a counter track, e.g. `current_bytes` of the `memory`
// counter.
type SeriesSummary struct {
	Counter string
	Series  string
	Samples int
	Min     float64
	Max     float64
	Mean    float64
	P95     float64
}

// Summary is an overview of a recorded trace.
type Summary struct {
	Events int
	First  time.Time
	Last   time.Time
	// Series is ordered by counter name, then series name.
	Series []SeriesSummary
}

// Span is the time between the first and last event.
func (summary Summary) Span() time.Duration {
	return summary.Last.Sub(summary.First)
}

type seriesKey struct {
	counter string
	series  string
}

// Summarize decodes `events`, as returned by Parse, and computes per series statistics over every
// counter event. Non-numeric counter arguments are ignored.
func Summarize(events []json.RawMessage) (Summary, error) {
	decoded := make([]Event, 0, len(events))
	for idx, raw := range events {
		var event Event
		if err := json.Unmarshal(raw, &event); err != nil {
			return Summary{}, errors.Wrapf(ErrMalformedTrace, "event %d: %v", idx, err)
		}
		decoded = append(decoded, event)
	}

	summary := Summary{Events: len(decoded)}
	for _, event := range decoded {
		if summary.First.IsZero() || event.Time.Before(summary.First) {
			summary.First = event.Time
		}
		if event.Time.After(summary.Last) {
			summary.Last = event.Time
		}
	}

	values := make(map[seriesKey]stats.Float64Data)
	counters := lo.Filter(decoded, func(event Event, _ int) bool {
		return event.Phase == PhaseCounter
	})
	for _, event := range counters {
		for name, arg := range event.Args {
			if val, ok := arg.(float64); ok {
				key := seriesKey{event.Name, name}
				values[key] = append(values[key], val)
			}
		}
	}

	keys := lo.Keys(values)
	slices.SortFunc(keys, func(left, right seriesKey) int {
		if cmp := strings.Compare(left.counter, right.counter); cmp != 0 {
			return cmp
		}
		return strings.Compare(left.series, right.series)
	})

	for _, key := range keys {
		series, err := summarizeSeries(key, values[key])
		if err != nil {
			return Summary{}, err
		}
		summary.Series = append(summary.Series, series)
	}

	return summary, nil
}

func summarizeSeries(key seriesKey, data stats.Float64Data) (SeriesSummary, error) {
	series := SeriesSummary{Counter: key.counter, Series: key.series, Samples: data.Len()}

	var err error
	if series.Min, err = stats.Min(data); err != nil {
		return SeriesSummary{}, errors.Wrapf(err, "min of %s.%s", key.counter, key.series)
	}
	if series.Max, err = stats.Max(data); err != nil {
		return SeriesSummary{}, errors.Wrapf(err, "max of %s.%s", key.counter, key.series)
	}
	if series.Mean, err = stats.Mean(data); err != nil {
		return SeriesSummary{}, errors.Wrapf(err, "mean of %s.%s", key.counter, key.series)
	}
	if series.P95, err = stats.PercentileNearestRank(data, 95); err != nil {
		return SeriesSummary{}, errors.Wrapf(err, "p95 of %s.%s", key.counter, key.series)
	}

	return series, nil
}
