package process

import (
	"bytes"
	"context"
	"debug/buildinfo"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/core-tools/hsu-watchdog/pkg/errors"
	"github.com/core-tools/hsu-watchdog/pkg/logging"
)

// Handle is a spawned process observed by the launcher
type Handle interface {
	Pid() int
	HasExited() bool
	// ReadAllStderr returns what the process wrote to stderr so far
	ReadAllStderr() string
}

// Launcher spawns executables and describes their version
type Launcher interface {
	Spawn(ctx context.Context, executablePath, workingDir string) (Handle, error)
	VersionLabel(executablePath string) string
}

type LauncherOptions struct {
	// Stdout receives the child's standard output; nil discards it
	Stdout io.Writer
	// StderrLimit bounds captured stderr, keeping the most recent bytes
	StderrLimit int
	// WaitDelay bounds how long reaping waits for stderr to be closed
	// after the process itself has exited
	WaitDelay time.Duration
}

const (
	defaultStderrLimit = 64 * 1024
	defaultWaitDelay   = time.Second
)

type execLauncher struct {
	options LauncherOptions
	logger  logging.Logger
}

func NewExecLauncher(options LauncherOptions, logger logging.Logger) Launcher {
	if options.StderrLimit <= 0 {
		options.StderrLimit = defaultStderrLimit
	}
	if options.WaitDelay <= 0 {
		options.WaitDelay = defaultWaitDelay
	}
	return &execLauncher{
		options: options,
		logger:  logger,
	}
}

// Spawn starts the executable directly, without a shell, in workingDir (or
// the executable's own directory when empty). The child is not tied to ctx:
// it keeps running after the caller gives up on it.
func (l *execLauncher) Spawn(ctx context.Context, executablePath, workingDir string) (Handle, error) {
	if ctx == nil {
		return nil, errors.NewValidationError("context cannot be nil", nil)
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.NewCancelledError("spawn cancelled", err)
	}
	if err := ValidateExecutablePath(executablePath); err != nil {
		return nil, err
	}

	absPath, err := filepath.Abs(executablePath)
	if err != nil {
		return nil, errors.NewIOError("failed to get absolute path", err).WithContext("executable_path", executablePath)
	}

	if err := ensureExecutable(absPath); err != nil {
		return nil, errors.NewPermissionError("failed to ensure process is executable", err).WithContext("executable_path", absPath)
	}

	if workingDir == "" {
		workingDir = filepath.Dir(absPath)
	}

	l.logger.Debugf("Spawning process, executable path: '%s', working directory: '%s'", absPath, workingDir)

	stderr := newTailBuffer(l.options.StderrLimit)

	cmd := exec.Command(absPath)
	cmd.Dir = workingDir
	cmd.Env = os.Environ()
	cmd.Stdout = l.options.Stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = l.options.WaitDelay

	// Platform-specific setup is handled in execute_windows.go or execute_unix.go
	setupProcessAttributes(cmd)

	if err := cmd.Start(); err != nil {
		return nil, errors.NewLaunchError("failed to start the process", err).WithContext("executable_path", absPath)
	}

	h := &handle{
		cmd:    cmd,
		stderr: stderr,
		done:   make(chan struct{}),
	}
	go h.reap(l.logger)

	l.logger.Debugf("Spawned process, executable path: '%s', PID: %d", absPath, cmd.Process.Pid)

	return h, nil
}

// VersionLabel prefers the main module version embedded in Go binaries and
// falls back to the file's modification date.
func (l *execLauncher) VersionLabel(executablePath string) string {
	if info, err := buildinfo.ReadFile(executablePath); err == nil {
		if v := info.Main.Version; v != "" && v != "(devel)" {
			return v
		}
	}
	if stat, err := os.Stat(executablePath); err == nil {
		return stat.ModTime().Format("2006.01.02")
	}
	return "unknown"
}

type handle struct {
	cmd    *exec.Cmd
	stderr *tailBuffer
	done   chan struct{}
}

func (h *handle) reap(logger logging.Logger) {
	err := h.cmd.Wait()
	logger.Debugf("Process exited, PID: %d, result: %v", h.cmd.Process.Pid, err)
	close(h.done)
}

func (h *handle) Pid() int {
	return h.cmd.Process.Pid
}

func (h *handle) HasExited() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

func (h *handle) ReadAllStderr() string {
	return h.stderr.String()
}

// tailBuffer keeps the last limit bytes written to it
type tailBuffer struct {
	mutex sync.Mutex
	buf   bytes.Buffer
	limit int
}

func newTailBuffer(limit int) *tailBuffer {
	return &tailBuffer{limit: limit}
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	n := len(p)
	if len(p) >= b.limit {
		b.buf.Reset()
		p = p[len(p)-b.limit:]
	} else if overflow := b.buf.Len() + len(p) - b.limit; overflow > 0 {
		b.buf.Next(overflow)
	}
	b.buf.Write(p)
	return n, nil
}

func (b *tailBuffer) String() string {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.buf.String()
}

// ensureExecutable checks if a file is executable and makes it executable if it's not
func ensureExecutable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return errors.NewIOError("file does not exist", err).WithContext("path", path)
	}

	// Windows has no execute bit
	if runtime.GOOS == "windows" {
		return nil
	}

	mode := info.Mode()
	if mode&0111 != 0 {
		return nil
	}

	if err := os.Chmod(path, mode|0111); err != nil {
		return errors.NewPermissionError("failed to make file executable", err).WithContext("path", path)
	}

	return nil
}
