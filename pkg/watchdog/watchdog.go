package watchdog

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/core-tools/hsu-watchdog/pkg/errors"
	"github.com/core-tools/hsu-watchdog/pkg/logging"
	"github.com/core-tools/hsu-watchdog/pkg/probe"
	"github.com/core-tools/hsu-watchdog/pkg/process"
	"github.com/core-tools/hsu-watchdog/pkg/scheduler"
)

// DefaultGracePeriod is how long a freshly spawned process must stay alive
// to count as started
const DefaultGracePeriod = 500 * time.Millisecond

// Option customizes a Watchdog at construction
type Option func(*Watchdog)

// WithGracePeriod overrides DefaultGracePeriod
func WithGracePeriod(d time.Duration) Option {
	return func(w *Watchdog) {
		w.gracePeriod = d
	}
}

// WithClock replaces the system clock for the schedule and grace delays
func WithClock(clock scheduler.Clock) Option {
	return func(w *Watchdog) {
		w.clock = clock
	}
}

// Watchdog keeps one external process running. It checks on a fixed-delay
// schedule whether a process named after the executable is alive and
// launches the executable when it is not. Configuration errors and failed
// launches are not retried: the watchdog terminates itself instead.
type Watchdog struct {
	config      Config
	processName string
	probe       probe.ProcessProbe
	launcher    process.Launcher
	logger      logging.Logger
	gracePeriod time.Duration
	clock       scheduler.Clock

	phase     atomic.Int32
	cancel    context.CancelFunc
	done      chan struct{}
	terminate atomic.Bool

	errMutex sync.Mutex
	err      error
}

// New creates the watchdog and arms its scheduler. The first check happens
// one full interval later; New itself performs no I/O.
func New(config Config, processProbe probe.ProcessProbe, launcher process.Launcher, logger logging.Logger, options ...Option) (*Watchdog, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if processProbe == nil || launcher == nil || logger == nil {
		return nil, errors.NewValidationError("probe, launcher and logger are required", nil)
	}

	processName := process.ProcessName(config.ExecutablePath)
	if strings.TrimSpace(config.FriendlyName) == "" {
		config.FriendlyName = processName
	}

	w := &Watchdog{
		config:      config,
		processName: processName,
		probe:       processProbe,
		launcher:    launcher,
		logger:      logger,
		gracePeriod: DefaultGracePeriod,
		clock:       scheduler.SystemClock,
		done:        make(chan struct{}),
	}
	for _, option := range options {
		option(w)
	}

	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.phase.Store(int32(PhaseActive))

	go w.run(ctx)

	logger.Debugf("Watchdog armed, name: %s, process: %s, interval: %v", config.FriendlyName, processName, config.CheckInterval)

	return w, nil
}

func (w *Watchdog) run(ctx context.Context) {
	defer close(w.done)

	options := scheduler.Options{
		InitialDelay: w.config.CheckInterval,
		Clock:        w.clock,
	}
	err := scheduler.Repeat(ctx, w.Tick, w.config.CheckInterval, options, w.logger)
	w.logger.Debugf("Watchdog scheduler stopped, name: %s, reason: %v", w.config.FriendlyName, err)
}

// Tick runs one check-and-launch cycle. Fatal problems terminate the
// watchdog and are not returned; the returned error is either a
// cancellation or a recoverable probe failure.
func (w *Watchdog) Tick(ctx context.Context) error {
	if w.Phase() != PhaseActive {
		return errors.NewCancelledError("watchdog is terminated", nil)
	}

	running, err := w.probe.IsRunning(ctx, w.processName)
	if err != nil {
		return errors.NewTickError("failed to check whether process is running", err).WithContext("process_name", w.processName)
	}
	if running {
		return nil
	}

	if err := process.ValidateExecutablePath(w.config.ExecutablePath); err != nil {
		w.logger.Errorf("Unable to find %s executable at specified path: %s", w.config.FriendlyName, w.config.ExecutablePath)
		w.fail(err)
		return nil
	}

	outcome, err := w.launch(ctx)
	if err != nil {
		if errors.IsCancelledError(err) && ctx.Err() != nil {
			return err
		}
		w.logger.Errorf("%s", outcome.Reason)
		w.fail(err)
		return nil
	}

	w.logger.Infof("Started %s v%s", w.config.FriendlyName, outcome.Version)
	return nil
}

func (w *Watchdog) launch(ctx context.Context) (outcome LaunchOutcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			reason := fmt.Sprintf("launcher panicked: %v", r)
			outcome, err = failed(reason), errors.NewLaunchError(reason, nil)
		}
	}()

	version := w.launcher.VersionLabel(w.config.ExecutablePath)
	w.logger.Infof("Starting %s v%s", w.config.FriendlyName, version)

	h, err := w.launcher.Spawn(ctx, w.config.ExecutablePath, filepath.Dir(w.config.ExecutablePath))
	if err != nil {
		if errors.IsCancelledError(err) {
			return failed(err.Error()), err
		}
		return failed(err.Error()), errors.NewLaunchError("failed to spawn process", err).WithContext("executable_path", w.config.ExecutablePath)
	}

	select {
	case <-ctx.Done():
		// the child is left running, Terminate kills it by name if asked to
		return failed("launch verification cancelled"), errors.NewCancelledError("launch verification cancelled", ctx.Err())
	case <-w.clock.After(w.gracePeriod):
	}

	if h.HasExited() {
		reason := strings.TrimSpace(h.ReadAllStderr())
		if reason == "" {
			reason = fmt.Sprintf("%s exited within %v of starting", w.config.FriendlyName, w.gracePeriod)
		}
		return failed(reason), errors.NewLaunchVerificationError(reason, nil).WithContext("pid", h.Pid())
	}

	return started(version), nil
}

// fail terminates the watchdog after a fatal tick error. Running children
// are left alone.
func (w *Watchdog) fail(err error) {
	if !w.phase.CompareAndSwap(int32(PhaseActive), int32(PhaseTerminating)) {
		return
	}
	w.errMutex.Lock()
	w.err = err
	w.errMutex.Unlock()

	w.cancel()
	w.phase.Store(int32(PhaseTerminated))
	w.logger.Warnf("%s watchdog terminated", w.config.FriendlyName)
}

// Terminate cancels the scheduler and kills every process with the watched
// name. Only the first call does anything; later calls return nil. It is
// safe to call while a tick is in flight.
func (w *Watchdog) Terminate() error {
	if !w.terminate.CompareAndSwap(false, true) {
		w.logger.Debugf("%s watchdog already terminated", w.config.FriendlyName)
		return nil
	}

	w.logger.Infof("Stopping %s", w.config.FriendlyName)

	cancelled := w.phase.CompareAndSwap(int32(PhaseActive), int32(PhaseTerminating))
	if cancelled {
		w.cancel()
	}

	killed, err := w.probe.KillAll(context.Background(), w.processName)

	if cancelled {
		w.phase.Store(int32(PhaseTerminated))
	}

	if err != nil {
		w.logger.Errorf("Failed to stop %s: %v", w.config.FriendlyName, err)
		if !errors.IsKillError(err) {
			err = errors.NewKillError("failed to kill processes", err).WithContext("process_name", w.processName)
		}
		return err
	}

	w.logger.Infof("Stopped %s", w.config.FriendlyName)
	w.logger.Debugf("Killed %d process(es) named %s", killed, w.processName)
	return nil
}

func (w *Watchdog) Phase() Phase {
	return Phase(w.phase.Load())
}

func (w *Watchdog) IsTerminated() bool {
	return w.Phase() == PhaseTerminated
}

// Done is closed once the scheduler goroutine has returned
func (w *Watchdog) Done() <-chan struct{} {
	return w.done
}

// Err returns the fatal error that made the watchdog terminate itself, or
// nil when it is active or was stopped by Terminate.
func (w *Watchdog) Err() error {
	w.errMutex.Lock()
	defer w.errMutex.Unlock()
	return w.err
}

func (w *Watchdog) Name() string {
	return w.config.FriendlyName
}

func (w *Watchdog) ProcessName() string {
	return w.processName
}

func (w *Watchdog) Config() Config {
	return w.config
}
