package watchdog

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/core-tools/hsu-watchdog/pkg/logging"
	"github.com/core-tools/hsu-watchdog/pkg/process"
)

// MockProbe implements probe.ProcessProbe for testing
type MockProbe struct {
	mock.Mock
	isRunningCalls atomic.Int32
	killAllCalls   atomic.Int32
}

func (m *MockProbe) IsRunning(ctx context.Context, processName string) (bool, error) {
	m.isRunningCalls.Add(1)
	args := m.Called(ctx, processName)
	return args.Bool(0), args.Error(1)
}

func (m *MockProbe) KillAll(ctx context.Context, processName string) (int, error) {
	m.killAllCalls.Add(1)
	args := m.Called(ctx, processName)
	return args.Int(0), args.Error(1)
}

// MockLauncher implements process.Launcher for testing
type MockLauncher struct {
	mock.Mock
	spawnCalls atomic.Int32
}

func (m *MockLauncher) Spawn(ctx context.Context, executablePath, workingDir string) (process.Handle, error) {
	m.spawnCalls.Add(1)
	args := m.Called(ctx, executablePath, workingDir)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(process.Handle), args.Error(1)
}

func (m *MockLauncher) VersionLabel(executablePath string) string {
	args := m.Called(executablePath)
	return args.String(0)
}

// fakeHandle is a spawned process frozen in one state
type fakeHandle struct {
	pid    int
	exited bool
	stderr string
}

func (h *fakeHandle) Pid() int              { return h.pid }
func (h *fakeHandle) HasExited() bool       { return h.exited }
func (h *fakeHandle) ReadAllStderr() string { return h.stderr }

func newObservedLogger() (logging.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return logging.WrapZap(zap.New(core)), logs
}

// createExecutable creates a file the watchdog accepts as an executable
func createExecutable(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"), 0755))
	return path
}

func messages(logs *observer.ObservedLogs) []string {
	var result []string
	for _, entry := range logs.AllUntimed() {
		result = append(result, entry.Message)
	}
	return result
}
