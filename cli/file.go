package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/docker/go-units"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"github.com/urfave/cli/v2"

	"go.viam.com/proctrace/trace"
)

var errMissingTracePath = errors.New("a trace file argument is required")

func (r *runner) repairAction(c *cli.Context) error {
	path := c.Args().First()
	if path == "" {
		return errMissingTracePath
	}

	repaired, err := trace.Repair(afero.NewOsFs(), path)
	if err != nil {
		return errors.Wrapf(err, "failed to repair %s", path)
	}
	if !repaired {
		printf(c.App.Writer, "%s is already terminated", path)
		return nil
	}

	r.logger.Infow("repaired trace", "path", path)
	printf(c.App.Writer, "Repaired %s", path)
	return nil
}

func (r *runner) catAction(c *cli.Context) error {
	path := c.Args().First()
	if path == "" {
		return errMissingTracePath
	}

	events, terminated, err := trace.ReadFile(afero.NewOsFs(), path)
	if err != nil {
		return errors.Wrapf(err, "failed to read %s", path)
	}

	var line bytes.Buffer
	for _, event := range events {
		line.Reset()
		if err := json.Compact(&line, event); err != nil {
			return err
		}
		printf(c.App.Writer, "%s", line.Bytes())
	}

	if !terminated {
		r.logger.Debugw("trace is not terminated", "path", path, "events", len(events))
		warningf(c.App.ErrWriter, "%s is not terminated, run `proctrace repair %s` to close it", path, path)
	}
	return nil
}

func (r *runner) summaryAction(c *cli.Context) error {
	path := c.Args().First()
	if path == "" {
		return errMissingTracePath
	}

	events, terminated, err := trace.ReadFile(afero.NewOsFs(), path)
	if err != nil {
		return errors.Wrapf(err, "failed to read %s", path)
	}
	summary, err := trace.Summarize(events)
	if err != nil {
		return errors.Wrapf(err, "failed to summarize %s", path)
	}

	printf(c.App.Writer, "%d events over %s", summary.Events, summary.Span())
	if len(summary.Series) > 0 {
		printf(c.App.Writer, "%s", summaryTable(summary.Series))
	}

	if !terminated {
		warningf(c.App.ErrWriter, "%s is not terminated, run `proctrace repair %s` to close it", path, path)
	}
	return nil
}

// summaryTable renders one row per counter series. Series named *_bytes are printed with binary
// units.
func summaryTable(series []trace.SeriesSummary) string {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"Counter", "Series", "Samples", "Min", "Mean", "P95", "Max"})
	for _, s := range series {
		format := func(val float64) string {
			return fmt.Sprintf("%.2f", val)
		}
		if strings.HasSuffix(s.Series, "_bytes") {
			format = func(val float64) string {
				return units.BytesSize(val)
			}
		}
		t.AppendRow(table.Row{
			s.Counter,
			s.Series,
			s.Samples,
			format(s.Min),
			format(s.Mean),
			format(s.P95),
			format(s.Max),
		})
	}
	return t.Render()
}
