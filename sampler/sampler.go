// Package sampler periodically reads a memory probe and records each reading as a trace counter
// event.
package sampler

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/atomic"

	"go.viam.com/proctrace/logging"
	"go.viam.com/proctrace/memusage"
	"go.viam.com/proctrace/trace"
	"go.viam.com/proctrace/utils"
)

const (
	// DefaultInterval is used when Config.Interval is not positive.
	DefaultInterval = time.Second
	// DefaultName is the counter name used when Config.Name is empty.
	DefaultName = "memory"
)

// EventWriter is the part of a trace recorder the sampler needs. *trace.Recorder satisfies it.
type EventWriter interface {
	Write(event trace.Event) error
}

// Config controls how a Sampler records.
type Config struct {
	Interval time.Duration
	// Name of the counter event. Trace viewers group counters with the same name into one track.
	Name string
	// PID is stamped on every event. Zero leaves it off.
	PID   int
	Clock clock.Clock
}

// Sampler writes one counter event per interval with the probe's current and peak bytes.
type Sampler struct {
	probe  memusage.Probe
	writer EventWriter
	cfg    Config
	logger logging.Logger

	mu      sync.Mutex
	workers *utils.StoppableWorkers

	samples  atomic.Uint64
	failures atomic.Uint64
}

// New returns a Sampler that is not yet running. A nil logger uses the global logger.
func New(probe memusage.Probe, writer EventWriter, cfg Config, logger logging.Logger) *Sampler {
	if logger == nil {
		logger = logging.Global()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Name == "" {
		cfg.Name = DefaultName
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}

	return &Sampler{
		probe:  probe,
		writer: writer,
		cfg:    cfg,
		logger: logger,
	}
}

// Start launches the background sampling loop. Calling Start on a running sampler does nothing.
// A stopped sampler cannot be restarted.
func (s *Sampler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.workers != nil {
		return
	}
	s.workers = utils.NewStoppableWorkers(context.Background(), s.run)
}

// Stop ends the sampling loop and waits for it to exit.
func (s *Sampler) Stop() {
	s.mu.Lock()
	workers := s.workers
	s.mu.Unlock()

	if workers != nil {
		workers.Stop()
	}
}

func (s *Sampler) run(ctx context.Context) {
	ticker := s.cfg.Clock.Ticker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		if err := ctx.Err(); err != nil {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := s.SampleOnce(ctx)
			if errors.Is(err, trace.ErrInvalidState) {
				s.logger.CInfow(ctx, "trace no longer accepts events, stopping sampler", "samples", s.Samples())
				return
			}
		}
	}
}

// SampleOnce reads the probe and writes one counter event. Probe failures are logged at debug
// level and counted; the sample is skipped.
func (s *Sampler) SampleOnce(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	reading, err := s.probe.Read()
	if err != nil {
		s.failures.Inc()
		s.logger.CDebugw(ctx, "memory probe failed", "error", err)
		return err
	}

	event, err := trace.CounterEvent(s.cfg.Name, s.cfg.Clock.Now(), reading)
	if err != nil {
		return err
	}
	event.PID = s.cfg.PID

	if err := s.writer.Write(event); err != nil {
		if errors.Is(err, trace.ErrNotSynced) {
			s.samples.Inc()
			s.logger.CWarnw(ctx, "memory sample recorded but not synced", "error", err)
			return err
		}
		s.failures.Inc()
		if !errors.Is(err, trace.ErrInvalidState) {
			s.logger.CWarnw(ctx, "failed to record memory sample", "error", err)
		}
		return err
	}

	s.samples.Inc()
	s.logger.CDebugw(ctx, "recorded memory sample",
		"current_bytes", reading.CurrentBytes, "peak_bytes", reading.PeakBytes)
	return nil
}

// Samples returns the number of events written.
func (s *Sampler) Samples() uint64 {
	return s.samples.Load()
}

// Failures returns the number of samples lost to probe or writer errors.
func (s *Sampler) Failures() uint64 {
	return s.failures.Load()
}
