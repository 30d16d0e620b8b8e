package cli

import (
	"encoding/json"
	"os"
	"strconv"

	"github.com/docker/go-units"
	"github.com/urfave/cli/v2"

	"go.viam.com/proctrace/memusage"
)

func newProbe(pid int) (memusage.Probe, error) {
	if pid == 0 {
		return memusage.NewSelfProbe()
	}
	return memusage.NewPidProbe(pid)
}

func (r *runner) memAction(c *cli.Context) error {
	pid := c.Int(memFlagPID)
	probe, err := newProbe(pid)
	if err != nil {
		return err
	}

	reading, err := probe.Read()
	if err != nil {
		return err
	}
	if pid == 0 {
		pid = os.Getpid()
	}
	r.logger.Debugw("read process memory", "pid", pid, "reading", reading)

	if c.Bool(memFlagJSON) {
		encoded, err := json.Marshal(reading)
		if err != nil {
			return err
		}
		printf(c.App.Writer, "%s", encoded)
		return nil
	}

	format := func(bytes uint64) string {
		if c.Bool(memFlagHuman) {
			return units.BytesSize(float64(bytes))
		}
		return strconv.FormatUint(bytes, 10)
	}
	printf(c.App.Writer, "pid:     %d", pid)
	printf(c.App.Writer, "current: %s", format(reading.CurrentBytes))
	printf(c.App.Writer, "peak:    %s", format(reading.PeakBytes))
	return nil
}
