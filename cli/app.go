// Package cli contains the proctrace command line application.
package cli

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"

	"go.viam.com/proctrace/logging"
)

const (
	// Flags.
	generalFlagDebug   = "debug"
	generalFlagLogFile = "log-file"

	memFlagPID   = "pid"
	memFlagHuman = "human"
	memFlagJSON  = "json"

	recordFlagOut      = "out"
	recordFlagInterval = "interval"
	recordFlagDuration = "duration"
	recordFlagSync     = "sync"
	recordFlagConfig   = "config"
	recordFlagPID      = "pid"

	envPrefix = "PROCTRACE_"

	logFileMaxSizeMB  = 10
	logFileMaxBackups = 3
)

func envVars(name string) []string {
	return []string{envPrefix + name}
}

// runner holds the state shared by every command of one App.
type runner struct {
	logger       logging.Logger
	fileAppender *logging.FileAppender
}

// NewApp returns a new app with the proctrace commands, Writer set to out, and ErrWriter set to
// errOut. Logs are written to errOut so command output on out stays machine readable.
func NewApp(out, errOut io.Writer) *cli.App {
	r := &runner{}
	return &cli.App{
		Name:            "proctrace",
		Usage:           "inspect process memory and record it as a trace",
		HideHelpCommand: true,
		Writer:          out,
		ErrWriter:       errOut,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    generalFlagDebug,
				Aliases: []string{"vvv"},
				EnvVars: envVars("DEBUG"),
				Usage:   "enable debug logging",
			},
			&cli.StringFlag{
				Name:    generalFlagLogFile,
				EnvVars: envVars("LOG_FILE"),
				Usage:   "also write json logs to `FILE`, rotated by size",
			},
		},
		Before: r.before,
		After:  r.after,
		Commands: []*cli.Command{
			{
				Name:  "mem",
				Usage: "print the current and peak resident memory of a process",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  memFlagPID,
						Usage: "process to inspect, defaults to proctrace itself",
					},
					&cli.BoolFlag{
						Name:  memFlagHuman,
						Usage: "print sizes with binary units",
					},
					&cli.BoolFlag{
						Name:  memFlagJSON,
						Usage: "print the reading as json",
					},
				},
				Action: r.memAction,
			},
			{
				Name:  "record",
				Usage: "sample process memory into a trace file until stopped",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    recordFlagOut,
						Aliases: []string{"o"},
						EnvVars: envVars("TRACE_PATH"),
						Usage:   "write the trace to `FILE`",
					},
					&cli.DurationFlag{
						Name:    recordFlagInterval,
						EnvVars: envVars("SAMPLE_INTERVAL"),
						Usage:   "time between samples",
					},
					&cli.DurationFlag{
						Name:    recordFlagDuration,
						EnvVars: envVars("DURATION"),
						Usage:   "stop after this long, zero records until interrupted",
					},
					&cli.BoolFlag{
						Name:    recordFlagSync,
						EnvVars: envVars("SYNC_ON_WRITE"),
						Usage:   "fsync the trace after every event",
					},
					&cli.IntFlag{
						Name:    recordFlagPID,
						EnvVars: envVars("PID"),
						Usage:   "process to sample, defaults to proctrace itself",
					},
					&cli.StringFlag{
						Name:    recordFlagConfig,
						Aliases: []string{"c"},
						EnvVars: envVars("CONFIG"),
						Usage:   "load recording settings from `FILE`",
					},
				},
				Action: r.recordAction,
			},
			{
				Name:      "repair",
				Usage:     "terminate a trace left open by a crash",
				ArgsUsage: "FILE",
				Action:    r.repairAction,
			},
			{
				Name:      "cat",
				Usage:     "print the events of a trace, one per line",
				ArgsUsage: "FILE",
				Action:    r.catAction,
			},
			{
				Name:      "summary",
				Usage:     "print statistics for every counter in a trace",
				ArgsUsage: "FILE",
				Action:    r.summaryAction,
			},
		},
	}
}

func (r *runner) before(c *cli.Context) error {
	logger := logging.NewBlankLogger("proctrace")
	logger.AddAppender(logging.NewWriterAppender(c.App.ErrWriter))
	logger.SetLevel(logging.INFO)
	if c.Bool(generalFlagDebug) {
		logger.SetLevel(logging.DEBUG)
	}

	if path := c.String(generalFlagLogFile); path != "" {
		r.fileAppender = logging.NewFileAppender(path, logFileMaxSizeMB, logFileMaxBackups)
		logger.AddAppender(r.fileAppender)
	}

	r.logger = logger
	logging.ReplaceGlobal(logger)
	return nil
}

func (r *runner) after(c *cli.Context) error {
	if r.logger == nil {
		return nil
	}

	err := r.logger.Sync()
	if r.fileAppender != nil {
		err = multierr.Combine(err, r.fileAppender.Close())
	}
	return err
}

// setLogLevel applies a level from a config file unless --debug was given.
func (r *runner) setLogLevel(c *cli.Context, level logging.Level) {
	if c.Bool(generalFlagDebug) {
		return
	}
	r.logger.SetLevel(level)
}

func printf(w io.Writer, format string, a ...interface{}) {
	//nolint:errcheck
	fmt.Fprintf(w, format+"\n", a...)
}

// warningf prints a yellow "Warning: " prefix unless color output is disabled.
func warningf(w io.Writer, format string, a ...interface{}) {
	//nolint:errcheck
	color.New(color.FgYellow, color.Bold).Fprint(w, "Warning: ")
	//nolint:errcheck
	fmt.Fprintf(w, format+"\n", a...)
}
