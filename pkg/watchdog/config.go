package watchdog

import (
	"strings"
	"time"

	"github.com/core-tools/hsu-watchdog/pkg/errors"
)

// Config is fixed at construction
type Config struct {
	// FriendlyName is used in log messages only
	FriendlyName   string        `yaml:"name"`
	ExecutablePath string        `yaml:"executable_path"`
	CheckInterval  time.Duration `yaml:"check_interval"`
}

// Validate checks what can be checked without I/O. The executable path is
// deliberately not looked at here: a missing executable is reported by the
// first tick that needs it.
func (c Config) Validate() error {
	if c.CheckInterval <= 0 {
		return errors.NewValidationError("check interval must be positive", nil).WithContext("check_interval", c.CheckInterval)
	}
	if strings.TrimSpace(c.FriendlyName) == "" && strings.TrimSpace(c.ExecutablePath) == "" {
		return errors.NewValidationError("either a name or an executable path is required", nil)
	}
	return nil
}
