package probe

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/core-tools/hsu-watchdog/pkg/errors"
	"github.com/core-tools/hsu-watchdog/pkg/logging"
)

// ProcessProbe answers "is a process with this name alive" and kills by name
type ProcessProbe interface {
	IsRunning(ctx context.Context, processName string) (bool, error)
	KillAll(ctx context.Context, processName string) (int, error)
}

type processLister func(ctx context.Context) ([]*process.Process, error)

// SystemProbe scans the OS process table through gopsutil
type SystemProbe struct {
	list   processLister
	logger logging.Logger
}

func NewSystemProbe(logger logging.Logger) *SystemProbe {
	return &SystemProbe{
		list:   process.ProcessesWithContext,
		logger: logger,
	}
}

func (p *SystemProbe) IsRunning(ctx context.Context, processName string) (bool, error) {
	if strings.TrimSpace(processName) == "" {
		return false, nil
	}

	matches, err := p.find(ctx, processName)
	if err != nil {
		return false, err
	}
	return len(matches) > 0, nil
}

// KillAll kills every process matching processName and returns how many
// were killed. Processes that exit on their own mid-way are not failures.
func (p *SystemProbe) KillAll(ctx context.Context, processName string) (int, error) {
	if strings.TrimSpace(processName) == "" {
		return 0, nil
	}

	matches, err := p.find(ctx, processName)
	if err != nil {
		return 0, err
	}

	killed := 0
	failures := errors.NewErrorCollection()
	for _, proc := range matches {
		if err := proc.KillWithContext(ctx); err != nil {
			if alive, _ := proc.IsRunningWithContext(ctx); !alive {
				continue
			}
			p.logger.Warnf("Failed to kill process, name: %s, PID: %d, error: %v", processName, proc.Pid, err)
			failures.Add(fmt.Errorf("PID %d: %w", proc.Pid, err))
			continue
		}
		p.logger.Debugf("Killed process, name: %s, PID: %d", processName, proc.Pid)
		killed++
	}

	if failures.HasErrors() {
		return killed, errors.NewKillError("failed to kill processes", failures.ToError()).WithContext("process_name", processName)
	}
	return killed, nil
}

func (p *SystemProbe) find(ctx context.Context, processName string) ([]*process.Process, error) {
	processes, err := p.list(ctx)
	if err != nil {
		return nil, errors.NewProbeError("failed to enumerate processes", err)
	}

	var matches []*process.Process
	for _, proc := range processes {
		name, err := proc.NameWithContext(ctx)
		if err != nil {
			// gone between listing and inspection, or not ours to read
			continue
		}
		if MatchName(name, processName) {
			matches = append(matches, proc)
		}
	}
	return matches, nil
}

// MatchName compares an OS process name with a watched process name.
// Names match exactly or once the OS name's extension is stripped, so
// "app.exe" matches "app".
func MatchName(osName, processName string) bool {
	if osName == "" || processName == "" {
		return false
	}
	if osName == processName {
		return true
	}
	return strings.TrimSuffix(osName, filepath.Ext(osName)) == processName
}
