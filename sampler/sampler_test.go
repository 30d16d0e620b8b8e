package sampler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"go.viam.com/test"
	"go.viam.com/utils/testutils"

	"go.viam.com/proctrace/logging"
	"go.viam.com/proctrace/memusage"
	"go.viam.com/proctrace/trace"
)

var startTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeProbe struct {
	mu      sync.Mutex
	reading memusage.Reading
	err     error
}

func (probe *fakeProbe) set(reading memusage.Reading, err error) {
	probe.mu.Lock()
	defer probe.mu.Unlock()
	probe.reading = reading
	probe.err = err
}

func (probe *fakeProbe) Read() (memusage.Reading, error) {
	probe.mu.Lock()
	defer probe.mu.Unlock()
	return probe.reading, probe.err
}

func (probe *fakeProbe) CurrentUsage() (uint64, error) {
	reading, err := probe.Read()
	return reading.CurrentBytes, err
}

func (probe *fakeProbe) PeakUsage() (uint64, error) {
	reading, err := probe.Read()
	return reading.PeakBytes, err
}

type fakeWriter struct {
	mu     sync.Mutex
	events []trace.Event
	err    error
}

func (w *fakeWriter) Write(event trace.Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.events = append(w.events, event)
	return nil
}

func newMockClock() *clock.Mock {
	mockClock := clock.NewMock()
	mockClock.Set(startTime)
	return mockClock
}

func TestSampleOnce(t *testing.T) {
	logger, logs := logging.NewObservedTestLogger(t)
	mockClock := newMockClock()
	probe := &fakeProbe{reading: memusage.Reading{CurrentBytes: 100, PeakBytes: 250}}
	writer := &fakeWriter{}
	s := New(probe, writer, Config{Name: "rss", PID: 12, Clock: mockClock}, logger)

	test.That(t, s.SampleOnce(context.Background()), test.ShouldBeNil)
	test.That(t, s.Samples(), test.ShouldEqual, uint64(1))
	test.That(t, s.Failures(), test.ShouldEqual, uint64(0))

	test.That(t, writer.events, test.ShouldHaveLength, 1)
	event := writer.events[0]
	test.That(t, event.Name, test.ShouldEqual, "rss")
	test.That(t, event.Phase, test.ShouldEqual, trace.PhaseCounter)
	test.That(t, event.PID, test.ShouldEqual, 12)
	test.That(t, event.Time.Equal(startTime), test.ShouldBeTrue)
	test.That(t, event.Args, test.ShouldResemble, map[string]any{
		"current_bytes": uint64(100),
		"peak_bytes":    uint64(250),
	})
	test.That(t, logs.FilterMessage("recorded memory sample").Len(), test.ShouldEqual, 1)
}

func TestSampleOnceFailures(t *testing.T) {
	logger, logs := logging.NewObservedTestLogger(t)
	probe := &fakeProbe{}
	writer := &fakeWriter{}
	s := New(probe, writer, Config{Clock: newMockClock()}, logger)

	t.Run("probe unavailable", func(t *testing.T) {
		probe.set(memusage.Reading{}, memusage.ErrProbeUnavailable)
		err := s.SampleOnce(context.Background())
		test.That(t, errors.Is(err, memusage.ErrProbeUnavailable), test.ShouldBeTrue)
		test.That(t, s.Failures(), test.ShouldEqual, uint64(1))
		test.That(t, writer.events, test.ShouldBeEmpty)
		test.That(t, logs.FilterMessage("memory probe failed").Len(), test.ShouldEqual, 1)
	})

	t.Run("writer failure", func(t *testing.T) {
		probe.set(memusage.Reading{CurrentBytes: 1, PeakBytes: 1}, nil)
		writer.err = errors.New("disk full")
		err := s.SampleOnce(context.Background())
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, s.Failures(), test.ShouldEqual, uint64(2))
		test.That(t, logs.FilterMessage("failed to record memory sample").Len(), test.ShouldEqual, 1)
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		test.That(t, s.SampleOnce(ctx), test.ShouldBeError, context.Canceled)
		test.That(t, s.Failures(), test.ShouldEqual, uint64(2))
	})

	test.That(t, s.Samples(), test.ShouldEqual, uint64(0))

	t.Run("written but not synced", func(t *testing.T) {
		writer.err = errors.Wrap(trace.ErrNotSynced, "event 0")
		err := s.SampleOnce(context.Background())
		test.That(t, errors.Is(err, trace.ErrNotSynced), test.ShouldBeTrue)
		test.That(t, s.Samples(), test.ShouldEqual, uint64(1))
		test.That(t, s.Failures(), test.ShouldEqual, uint64(2))
		test.That(t, logs.FilterMessage("memory sample recorded but not synced").Len(), test.ShouldEqual, 1)
	})
}

func TestDefaults(t *testing.T) {
	s := New(&fakeProbe{}, &fakeWriter{}, Config{}, nil)
	test.That(t, s.logger, test.ShouldNotBeNil)
	test.That(t, s.cfg.Interval, test.ShouldEqual, DefaultInterval)
	test.That(t, s.cfg.Name, test.ShouldEqual, DefaultName)
	test.That(t, s.cfg.Clock, test.ShouldNotBeNil)
}

func TestSamplerLoop(t *testing.T) {
	const interval = 100 * time.Millisecond
	mockClock := newMockClock()
	probe := &fakeProbe{reading: memusage.Reading{CurrentBytes: 10, PeakBytes: 20}}
	writer := &fakeWriter{}
	s := New(probe, writer, Config{Interval: interval, Clock: mockClock}, logging.NewTestLogger(t))

	s.Start()
	s.Start()
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		mockClock.Add(interval)
		test.That(tb, s.Samples(), test.ShouldBeGreaterThanOrEqualTo, uint64(3))
	})
	s.Stop()

	samples := s.Samples()
	mockClock.Add(10 * interval)
	test.That(t, s.Samples(), test.ShouldEqual, samples)

	writer.mu.Lock()
	defer writer.mu.Unlock()
	test.That(t, uint64(len(writer.events)), test.ShouldEqual, samples)
	for idx := 1; idx < len(writer.events); idx++ {
		test.That(t, writer.events[idx].Time.Before(writer.events[idx-1].Time), test.ShouldBeFalse)
	}
}

func TestSamplerStopsWhenTraceCloses(t *testing.T) {
	const interval = time.Second
	logger, logs := logging.NewObservedTestLogger(t)
	mockClock := newMockClock()
	fs := afero.NewMemMapFs()
	rec := trace.New(trace.WithFs(fs))
	test.That(t, rec.Init("/memory.json"), test.ShouldBeNil)

	probe := &fakeProbe{reading: memusage.Reading{CurrentBytes: 4096, PeakBytes: 8192}}
	s := New(probe, rec, Config{Interval: interval, Clock: mockClock}, logger)
	s.Start()
	defer s.Stop()

	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		mockClock.Add(interval)
		test.That(tb, s.Samples(), test.ShouldBeGreaterThanOrEqualTo, uint64(2))
	})

	test.That(t, rec.Deinit(), test.ShouldBeNil)
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		mockClock.Add(interval)
		test.That(tb, logs.FilterMessage("trace no longer accepts events, stopping sampler").Len(), test.ShouldEqual, 1)
	})

	events, terminated, err := trace.ReadFile(fs, "/memory.json")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, terminated, test.ShouldBeTrue)
	test.That(t, uint64(len(events)), test.ShouldEqual, s.Samples())
	test.That(t, string(events[0]), test.ShouldContainSubstring, `"current_bytes":4096`)
}

func TestSelfProbeIntegration(t *testing.T) {
	probe, err := memusage.NewSelfProbe()
	if errors.Is(err, memusage.ErrProbeUnavailable) {
		t.Skip("memory probe unavailable on this platform")
	}
	test.That(t, err, test.ShouldBeNil)

	writer := &fakeWriter{}
	s := New(probe, writer, Config{}, logging.NewTestLogger(t))
	test.That(t, s.SampleOnce(context.Background()), test.ShouldBeNil)
	test.That(t, writer.events, test.ShouldHaveLength, 1)

	current, ok := writer.events[0].Args["current_bytes"].(uint64)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, current, test.ShouldBeGreaterThan, uint64(0))
}
