package watchdog

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/core-tools/hsu-watchdog/pkg/errors"
	"github.com/core-tools/hsu-watchdog/pkg/logging"
)

type fixture struct {
	probe    *MockProbe
	launcher *MockLauncher
	path     string
}

func newFixture(t *testing.T) *fixture {
	return &fixture{
		probe:    &MockProbe{},
		launcher: &MockLauncher{},
		path:     createExecutable(t, "app.bin"),
	}
}

// newIdleWatchdog builds a watchdog whose scheduler will not tick during the
// test, so Tick can be driven by hand
func (f *fixture) newIdleWatchdog(t *testing.T, logger logging.Logger, options ...Option) *Watchdog {
	t.Helper()
	config := Config{FriendlyName: "App", ExecutablePath: f.path, CheckInterval: time.Hour}
	options = append([]Option{WithGracePeriod(5 * time.Millisecond)}, options...)
	w, err := New(config, f.probe, f.launcher, logger, options...)
	require.NoError(t, err)
	t.Cleanup(func() {
		f.probe.On("KillAll", mock.Anything, "app").Return(0, nil).Maybe()
		_ = w.Terminate()
	})
	return w
}

func TestNew_Validation(t *testing.T) {
	logger := logging.NewNopLogger()

	tests := []struct {
		name   string
		config Config
	}{
		{"zero_interval", Config{FriendlyName: "App", ExecutablePath: "/opt/app", CheckInterval: 0}},
		{"negative_interval", Config{FriendlyName: "App", ExecutablePath: "/opt/app", CheckInterval: -time.Second}},
		{"no_name_no_path", Config{CheckInterval: time.Second}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, err := New(tt.config, &MockProbe{}, &MockLauncher{}, logger)
			assert.Nil(t, w)
			assert.True(t, errors.IsValidationError(err))
		})
	}

	_, err := New(Config{FriendlyName: "App", CheckInterval: time.Second}, nil, &MockLauncher{}, logger)
	assert.True(t, errors.IsValidationError(err))
}

func TestNew_DerivesProcessName(t *testing.T) {
	f := newFixture(t)
	logger, _ := newObservedLogger()

	w := f.newIdleWatchdog(t, logger)

	assert.Equal(t, "app", w.ProcessName())
	assert.Equal(t, "App", w.Name())
	assert.Equal(t, PhaseActive, w.Phase())
	assert.NoError(t, w.Err())
}

func TestNew_FriendlyNameDefaultsToProcessName(t *testing.T) {
	f := newFixture(t)
	config := Config{ExecutablePath: f.path, CheckInterval: time.Hour}

	w, err := New(config, f.probe, f.launcher, logging.NewNopLogger())
	require.NoError(t, err)
	f.probe.On("KillAll", mock.Anything, "app").Return(0, nil)
	defer w.Terminate()

	assert.Equal(t, "app", w.Name())
}

func TestTick_ProcessRunningDoesNotSpawn(t *testing.T) {
	f := newFixture(t)
	logger, _ := newObservedLogger()
	w := f.newIdleWatchdog(t, logger)

	f.probe.On("IsRunning", mock.Anything, "app").Return(true, nil)

	require.NoError(t, w.Tick(context.Background()))

	f.launcher.AssertNotCalled(t, "Spawn", mock.Anything, mock.Anything, mock.Anything)
	f.launcher.AssertNotCalled(t, "VersionLabel", mock.Anything)
	assert.Equal(t, PhaseActive, w.Phase())
}

func TestTick_MissingExecutableTerminates(t *testing.T) {
	tests := []struct {
		name string
		path string
	}{
		{"missing_file", filepath.Join(t.TempDir(), "missing.exe")},
		{"whitespace_path", "   "},
		{"directory", t.TempDir()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			probe := &MockProbe{}
			launcher := &MockLauncher{}
			logger, logs := newObservedLogger()

			config := Config{FriendlyName: "App", ExecutablePath: tt.path, CheckInterval: time.Hour}
			w, err := New(config, probe, launcher, logger)
			require.NoError(t, err)

			probe.On("IsRunning", mock.Anything, w.ProcessName()).Return(false, nil)

			require.NoError(t, w.Tick(context.Background()))

			assert.Equal(t, PhaseTerminated, w.Phase())
			assert.True(t, errors.IsConfigurationError(w.Err()))
			assert.Zero(t, launcher.spawnCalls.Load())

			expected := fmt.Sprintf("Unable to find App executable at specified path: %s", tt.path)
			assert.Equal(t, 1, logs.FilterMessage(expected).Len())

			select {
			case <-w.Done():
			case <-time.After(time.Second):
				t.Fatal("scheduler still running after configuration error")
			}
		})
	}
}

func TestTick_LaunchSucceeds(t *testing.T) {
	f := newFixture(t)
	logger, logs := newObservedLogger()
	w := f.newIdleWatchdog(t, logger)

	f.probe.On("IsRunning", mock.Anything, "app").Return(false, nil)
	f.launcher.On("VersionLabel", f.path).Return("1.4.2")
	f.launcher.On("Spawn", mock.Anything, f.path, filepath.Dir(f.path)).Return(&fakeHandle{pid: 4242}, nil)

	require.NoError(t, w.Tick(context.Background()))

	assert.Equal(t, PhaseActive, w.Phase())
	assert.NoError(t, w.Err())
	assert.Equal(t, []string{"Starting App v1.4.2", "Started App v1.4.2"}, messages(logs.FilterLevelExact(zapcore.InfoLevel)))
	f.launcher.AssertExpectations(t)
}

func TestTick_ProcessExitsWithinGracePeriod(t *testing.T) {
	f := newFixture(t)
	logger, logs := newObservedLogger()
	w := f.newIdleWatchdog(t, logger)

	f.probe.On("IsRunning", mock.Anything, "app").Return(false, nil)
	f.launcher.On("VersionLabel", f.path).Return("2.0.0")
	f.launcher.On("Spawn", mock.Anything, f.path, filepath.Dir(f.path)).
		Return(&fakeHandle{pid: 7, exited: true, stderr: "fatal: port 8080 already in use\n"}, nil)

	require.NoError(t, w.Tick(context.Background()))

	assert.Equal(t, PhaseTerminated, w.Phase())
	assert.True(t, errors.IsLaunchVerificationError(w.Err()))

	errorLogs := logs.FilterLevelExact(zapcore.ErrorLevel).AllUntimed()
	require.Len(t, errorLogs, 1)
	assert.Equal(t, "fatal: port 8080 already in use", errorLogs[0].Message)
	assert.Equal(t, 1, logs.FilterMessageSnippet("port 8080").Len())
	assert.Equal(t, 1, logs.FilterMessage("Starting App v2.0.0").Len())
	assert.Zero(t, logs.FilterMessageSnippet("Started").Len())
}

func TestTick_ProcessExitsSilently(t *testing.T) {
	f := newFixture(t)
	logger, logs := newObservedLogger()
	w := f.newIdleWatchdog(t, logger)

	f.probe.On("IsRunning", mock.Anything, "app").Return(false, nil)
	f.launcher.On("VersionLabel", f.path).Return("2.0.0")
	f.launcher.On("Spawn", mock.Anything, mock.Anything, mock.Anything).Return(&fakeHandle{exited: true}, nil)

	require.NoError(t, w.Tick(context.Background()))

	assert.Equal(t, PhaseTerminated, w.Phase())
	assert.Equal(t, 1, logs.FilterMessageSnippet("App exited within").Len())
}

func TestTick_SpawnErrorTerminates(t *testing.T) {
	f := newFixture(t)
	logger, logs := newObservedLogger()
	w := f.newIdleWatchdog(t, logger)

	f.probe.On("IsRunning", mock.Anything, "app").Return(false, nil)
	f.launcher.On("VersionLabel", f.path).Return("1.0")
	f.launcher.On("Spawn", mock.Anything, mock.Anything, mock.Anything).Return(nil, fmt.Errorf("exec format error"))

	require.NoError(t, w.Tick(context.Background()))

	assert.Equal(t, PhaseTerminated, w.Phase())
	assert.True(t, errors.IsLaunchError(w.Err()))
	assert.Equal(t, 1, logs.FilterMessageSnippet("exec format error").Len())
}

func TestTick_LauncherPanicTerminates(t *testing.T) {
	f := newFixture(t)
	logger, logs := newObservedLogger()
	w := f.newIdleWatchdog(t, logger)

	f.probe.On("IsRunning", mock.Anything, "app").Return(false, nil)
	f.launcher.On("VersionLabel", f.path).Return("1.0")
	f.launcher.On("Spawn", mock.Anything, mock.Anything, mock.Anything).Run(func(mock.Arguments) {
		panic("nil pointer")
	})

	require.NoError(t, w.Tick(context.Background()))

	assert.Equal(t, PhaseTerminated, w.Phase())
	assert.True(t, errors.IsLaunchError(w.Err()))
	assert.Equal(t, 1, logs.FilterMessageSnippet("launcher panicked").Len())
}

func TestTick_ProbeErrorIsRecoverable(t *testing.T) {
	f := newFixture(t)
	logger, _ := newObservedLogger()
	w := f.newIdleWatchdog(t, logger)

	f.probe.On("IsRunning", mock.Anything, "app").Return(false, fmt.Errorf("access denied"))

	err := w.Tick(context.Background())

	assert.True(t, errors.IsTickError(err))
	assert.False(t, errors.IsCancelledError(err))
	assert.Equal(t, PhaseActive, w.Phase())
	assert.Zero(t, f.launcher.spawnCalls.Load())
}

func TestTick_ProbeDeadlineIsRecoverable(t *testing.T) {
	f := newFixture(t)
	logger, _ := newObservedLogger()
	w := f.newIdleWatchdog(t, logger)

	f.probe.On("IsRunning", mock.Anything, "app").Return(false, fmt.Errorf("scan /proc: %w", context.DeadlineExceeded))

	err := w.Tick(context.Background())

	assert.True(t, errors.IsTickError(err))
	assert.Equal(t, PhaseActive, w.Phase())
	assert.NoError(t, w.Err())
	assert.Zero(t, f.launcher.spawnCalls.Load())
}

func TestTick_AfterTerminateDoesNothing(t *testing.T) {
	f := newFixture(t)
	logger, _ := newObservedLogger()
	w := f.newIdleWatchdog(t, logger)

	f.probe.On("KillAll", mock.Anything, "app").Return(0, nil)
	require.NoError(t, w.Terminate())

	err := w.Tick(context.Background())

	assert.True(t, errors.IsCancelledError(err))
	assert.Zero(t, f.probe.isRunningCalls.Load())
	assert.Zero(t, f.launcher.spawnCalls.Load())
}

func TestTick_TerminateDuringGracePeriod(t *testing.T) {
	f := newFixture(t)
	logger, logs := newObservedLogger()
	w := f.newIdleWatchdog(t, logger, WithGracePeriod(time.Hour))

	spawned := make(chan struct{})
	f.probe.On("IsRunning", mock.Anything, "app").Return(false, nil)
	f.probe.On("KillAll", mock.Anything, "app").Return(1, nil).Once()
	f.launcher.On("VersionLabel", f.path).Return("1.0")
	f.launcher.On("Spawn", mock.Anything, mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { close(spawned) }).
		Return(&fakeHandle{pid: 99}, nil)

	// the scheduler is idle, so drive the tick with the watchdog's own
	// cancellation by terminating while it waits
	tickErr := make(chan error, 1)
	go func() {
		tickErr <- w.Tick(tickContext(w))
	}()

	<-spawned
	require.NoError(t, w.Terminate())

	select {
	case err := <-tickErr:
		assert.True(t, errors.IsCancelledError(err))
	case <-time.After(time.Second):
		t.Fatal("tick did not observe cancellation during grace period")
	}

	assert.Equal(t, PhaseTerminated, w.Phase())
	assert.NoError(t, w.Err())
	assert.Zero(t, logs.FilterMessageSnippet("Started").Len())
	assert.Zero(t, logs.FilterLevelExact(zapcore.ErrorLevel).Len())
}

// tickContext returns a context cancelled when the watchdog's scheduler stops
func tickContext(w *Watchdog) context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-w.Done()
		cancel()
	}()
	return ctx
}

func TestTerminate_Idempotent(t *testing.T) {
	f := newFixture(t)
	logger, logs := newObservedLogger()
	w := f.newIdleWatchdog(t, logger)

	f.probe.On("KillAll", mock.Anything, "app").Return(2, nil).Once()

	for i := 0; i < 3; i++ {
		assert.NoError(t, w.Terminate())
	}

	assert.Equal(t, int32(1), f.probe.killAllCalls.Load())
	assert.Equal(t, PhaseTerminated, w.Phase())
	assert.Equal(t, 1, logs.FilterMessage("Stopping App").Len())
	assert.Equal(t, 1, logs.FilterMessage("Stopped App").Len())

	select {
	case <-w.Done():
	case <-time.After(time.Second):
		t.Fatal("scheduler still running after Terminate")
	}
}

func TestTerminate_KillFailure(t *testing.T) {
	f := newFixture(t)
	logger, logs := newObservedLogger()
	w := f.newIdleWatchdog(t, logger)

	f.probe.On("KillAll", mock.Anything, "app").Return(0, fmt.Errorf("operation not permitted")).Once()

	err := w.Terminate()
	assert.True(t, errors.IsKillError(err))
	assert.Equal(t, PhaseTerminated, w.Phase())
	assert.Equal(t, 1, logs.FilterMessageSnippet("operation not permitted").Len())

	assert.NoError(t, w.Terminate())
	assert.Equal(t, int32(1), f.probe.killAllCalls.Load())
}

func TestTerminate_AfterSelfTerminationStillKills(t *testing.T) {
	f := newFixture(t)
	logger, _ := newObservedLogger()
	w := f.newIdleWatchdog(t, logger)

	f.probe.On("IsRunning", mock.Anything, "app").Return(false, nil)
	f.launcher.On("VersionLabel", f.path).Return("1.0")
	f.launcher.On("Spawn", mock.Anything, mock.Anything, mock.Anything).Return(&fakeHandle{exited: true, stderr: "boom"}, nil)
	f.probe.On("KillAll", mock.Anything, "app").Return(0, nil).Once()

	require.NoError(t, w.Tick(context.Background()))
	require.Equal(t, PhaseTerminated, w.Phase())

	assert.NoError(t, w.Terminate())
	assert.NoError(t, w.Terminate())
	assert.Equal(t, int32(1), f.probe.killAllCalls.Load())
	assert.True(t, errors.IsLaunchVerificationError(w.Err()))
}

func TestTerminate_ConcurrentCalls(t *testing.T) {
	f := newFixture(t)
	logger, _ := newObservedLogger()
	w := f.newIdleWatchdog(t, logger)

	f.probe.On("KillAll", mock.Anything, "app").Return(0, nil)

	const callers = 8
	results := make(chan error, callers)
	for i := 0; i < callers; i++ {
		go func() { results <- w.Terminate() }()
	}
	for i := 0; i < callers; i++ {
		assert.NoError(t, <-results)
	}

	assert.Equal(t, int32(1), f.probe.killAllCalls.Load())
	assert.Equal(t, PhaseTerminated, w.Phase())
}

func TestPhase_String(t *testing.T) {
	assert.Equal(t, "active", PhaseActive.String())
	assert.Equal(t, "terminating", PhaseTerminating.String())
	assert.Equal(t, "terminated", PhaseTerminated.String())
	assert.Equal(t, "unknown", Phase(42).String())
}
