package process

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/core-tools/hsu-watchdog/pkg/errors"
)

// ValidateExecutablePath reports a configuration error when the path is
// blank, missing, or a directory.
func ValidateExecutablePath(executablePath string) error {
	if strings.TrimSpace(executablePath) == "" {
		return errors.NewConfigurationError("executable path is empty", nil)
	}

	info, err := os.Stat(executablePath)
	if err != nil {
		return errors.NewConfigurationError("executable not found: "+executablePath, err).WithContext("executable_path", executablePath)
	}
	if info.IsDir() {
		return errors.NewConfigurationError("executable path is a directory: "+executablePath, nil).WithContext("executable_path", executablePath)
	}

	return nil
}

// ProcessName derives the name a running instance of the executable is
// listed under: the file name without its extension.
func ProcessName(executablePath string) string {
	base := filepath.Base(strings.ReplaceAll(executablePath, "\\", string(filepath.Separator)))
	if base == "." || base == string(filepath.Separator) {
		return ""
	}
	return strings.TrimSuffix(base, filepath.Ext(base))
}
