// Package config defines the proctrace recording configuration file.
package config

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/utils"

	"go.viam.com/proctrace/logging"
)

// Config describes a recording session. Every field may also be set on the command line; flags
// win over the file.
type Config struct {
	ConfigFilePath string `json:"-"`

	TracePath      string        `json:"trace_path"`
	SampleInterval Duration      `json:"sample_interval,omitempty"`
	Duration       Duration      `json:"duration,omitempty"`
	SyncOnWrite    bool          `json:"sync_on_write,omitempty"`
	LogLevel       logging.Level `json:"log_level"`
	LogFile        string        `json:"log_file,omitempty"`
	// PID is the process to sample. Zero samples the recorder itself.
	PID int `json:"pid,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (cfg *Config) Validate(path string) error {
	if cfg.TracePath == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "trace_path")
	}
	if cfg.SampleInterval < 0 {
		return utils.NewConfigValidationError(path, errors.Errorf("sample_interval %v must not be negative", cfg.SampleInterval))
	}
	if cfg.Duration < 0 {
		return utils.NewConfigValidationError(path, errors.Errorf("duration %v must not be negative", cfg.Duration))
	}
	if cfg.PID < 0 {
		return utils.NewConfigValidationError(path, errors.Errorf("pid %d must not be negative", cfg.PID))
	}

	return nil
}

// Duration is a time.Duration written in JSON as a Go duration string such as "250ms".
type Duration time.Duration

// MarshalJSON writes the duration as a string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON accepts a duration string. A bare number is taken as nanoseconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	switch val := raw.(type) {
	case string:
		parsed, err := time.ParseDuration(val)
		if err != nil {
			return errors.Wrapf(err, "invalid duration %q", val)
		}
		*d = Duration(parsed)
	case float64:
		*d = Duration(time.Duration(val))
	default:
		return errors.Errorf("invalid duration %s", data)
	}

	return nil
}

func (d Duration) String() string {
	return time.Duration(d).String()
}
