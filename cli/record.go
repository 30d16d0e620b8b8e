package cli

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v3/process"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"

	"go.viam.com/proctrace/config"
	"go.viam.com/proctrace/logging"
	"go.viam.com/proctrace/sampler"
	"go.viam.com/proctrace/trace"
)

// recordConfig merges the optional config file with the command line. Flags, and their
// environment variables, win over the file.
func (r *runner) recordConfig(c *cli.Context) (*config.Config, error) {
	cfg := &config.Config{}
	if path := c.String(recordFlagConfig); path != "" {
		fromFile, err := config.Read(path)
		if err != nil {
			return nil, err
		}
		cfg = fromFile
		r.setLogLevel(c, cfg.LogLevel)
		if cfg.LogFile != "" && r.fileAppender == nil {
			r.fileAppender = logging.NewFileAppender(cfg.LogFile, logFileMaxSizeMB, logFileMaxBackups)
			r.logger.AddAppender(r.fileAppender)
		}
	}

	if c.IsSet(recordFlagOut) {
		cfg.TracePath = c.String(recordFlagOut)
	}
	if c.IsSet(recordFlagInterval) {
		cfg.SampleInterval = config.Duration(c.Duration(recordFlagInterval))
	}
	if c.IsSet(recordFlagDuration) {
		cfg.Duration = config.Duration(c.Duration(recordFlagDuration))
	}
	if c.IsSet(recordFlagSync) {
		cfg.SyncOnWrite = c.Bool(recordFlagSync)
	}
	if c.IsSet(recordFlagPID) {
		cfg.PID = c.Int(recordFlagPID)
	}

	return cfg, nil
}

func processName(pid int) string {
	if pid == os.Getpid() {
		return filepath.Base(os.Args[0])
	}

	proc, err := process.NewProcess(int32(pid))
	if err == nil {
		if name, err := proc.Name(); err == nil && name != "" {
			return name
		}
	}
	return "pid " + strconv.Itoa(pid)
}

func (r *runner) recordAction(c *cli.Context) error {
	cfg, err := r.recordConfig(c)
	if err != nil {
		return err
	}
	if err := cfg.Validate("record"); err != nil {
		return err
	}

	probe, err := newProbe(cfg.PID)
	if err != nil {
		return err
	}
	pid := cfg.PID
	if pid == 0 {
		pid = os.Getpid()
	}

	if err := trace.Init(cfg.TracePath, trace.WithSyncOnWrite(cfg.SyncOnWrite)); err != nil {
		return err
	}

	session := uuid.NewString()
	logger := r.logger.Sublogger("record")
	metadata := trace.Event{
		Name:  "process_name",
		Phase: trace.PhaseMetadata,
		Time:  time.Now(),
		PID:   pid,
		Args: map[string]any{
			"name":    processName(pid),
			"session": session,
		},
	}
	if err := trace.Write(metadata); err != nil {
		return multierr.Combine(err, trace.Deinit())
	}

	memSampler := sampler.New(probe, trace.Default(), sampler.Config{
		Interval: time.Duration(cfg.SampleInterval),
		PID:      pid,
	}, logger.Sublogger("sampler"))

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if cfg.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(cfg.Duration))
		defer cancel()
	}

	logger.Infow("recording",
		"path", cfg.TracePath, "pid", pid, "session", session, "duration", cfg.Duration)
	memSampler.Start()
	<-ctx.Done()
	memSampler.Stop()

	// One last reading so even a recording shorter than the interval holds a sample.
	if err := memSampler.SampleOnce(context.Background()); err != nil {
		logger.Debugw("final sample skipped", "error", err)
	}

	if err := trace.Deinit(); err != nil {
		return err
	}

	logger.Debugw("recording finished", "samples", memSampler.Samples(), "failures", memSampler.Failures())
	printf(c.App.Writer, "Recorded %d samples to %s", memSampler.Samples(), cfg.TracePath)
	return nil
}
