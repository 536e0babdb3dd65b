package process

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// Status represents the current state of the supervised process.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusBackoff  Status = "backoff"
	StatusFailed   Status = "failed"
)

// Defaults for zero Config values.
const (
	defaultRestartDelay        = 5 * time.Second
	defaultMaxRestartDelay     = 5 * time.Minute
	defaultStableThreshold     = 2 * time.Minute
	defaultGracefulTimeout     = 10 * time.Second
	defaultHealthCheckInterval = 30 * time.Second
	defaultMaxHealthFailures   = 3

	healthCheckTimeout = 5 * time.Second
	killWaitTimeout    = 5 * time.Second
)

// ErrAlreadyRunning is returned by Start on a running supervisor.
var ErrAlreadyRunning = errors.New("process: already running")

// ErrUnhealthy wraps the exit of a process killed by the watchdog.
var ErrUnhealthy = errors.New("process: killed after failed health checks")

// Config holds configuration for a supervised process.
type Config struct {
	// Name identifies the process in logs.
	Name string

	// Binary is the executable path or a name looked up in PATH.
	Binary string

	// Args are the command-line arguments.
	Args []string

	// Env holds extra key=value pairs appended to the bridge's environment.
	Env []string

	// WorkDir is the working directory. Empty inherits the bridge's.
	WorkDir string

	// RestartDelay is the first backoff delay. It doubles per consecutive
	// failure up to MaxRestartDelay.
	RestartDelay    time.Duration
	MaxRestartDelay time.Duration

	// StableThreshold is how long a run must last for the failure count to
	// reset.
	StableThreshold time.Duration

	// MaxRestartAttempts limits consecutive restarts. 0 means unlimited.
	MaxRestartAttempts int

	// GracefulTimeout is the wait between SIGTERM and SIGKILL on Stop.
	GracefulTimeout time.Duration

	// HealthCheck is polled every HealthCheckInterval while the process
	// runs. After MaxHealthFailures consecutive errors the process is killed
	// and restarted. Nil disables the watchdog.
	HealthCheck         func(ctx context.Context) error
	HealthCheckInterval time.Duration
	MaxHealthFailures   int
}

func (c Config) withDefaults() Config {
	if c.RestartDelay <= 0 {
		c.RestartDelay = defaultRestartDelay
	}
	if c.MaxRestartDelay <= 0 {
		c.MaxRestartDelay = defaultMaxRestartDelay
	}
	if c.StableThreshold <= 0 {
		c.StableThreshold = defaultStableThreshold
	}
	if c.GracefulTimeout <= 0 {
		c.GracefulTimeout = defaultGracefulTimeout
	}
	if c.HealthCheckInterval <= 0 {
		c.HealthCheckInterval = defaultHealthCheckInterval
	}
	if c.MaxHealthFailures <= 0 {
		c.MaxHealthFailures = defaultMaxHealthFailures
	}
	return c
}

// Logger defines the logging interface for the supervisor.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Supervisor runs one child process and keeps it alive.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Supervisor struct {
	cfg    Config
	logger Logger

	mu            sync.RWMutex
	cmd           *exec.Cmd
	status        Status
	failures      int // consecutive failed runs
	restarts      int // total restarts
	lastError     error
	startTime     time.Time
	stopRequested bool
	stop          chan struct{}
	done          chan struct{}
}

// NewSupervisor creates a supervisor. Zero Config values get defaults.
func NewSupervisor(cfg Config) *Supervisor {
	return &Supervisor{
		cfg:    cfg.withDefaults(),
		logger: noopLogger{},
		status: StatusStopped,
	}
}

// SetLogger sets the logger. Call before Start.
func (s *Supervisor) SetLogger(logger Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// Start launches the process and begins supervising it.
//
// An error is returned only when the first launch fails, e.g. because the
// binary does not exist. Later failures are handled by restarting.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.status != StatusStopped && s.status != StatusFailed {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, s.cfg.Name)
	}
	s.status = StatusStarting
	s.stopRequested = false
	s.failures = 0
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	s.mu.Unlock()

	cmd, err := s.launch()
	if err != nil {
		s.mu.Lock()
		s.status = StatusFailed
		s.lastError = err
		close(s.done)
		s.mu.Unlock()
		return err
	}

	go s.supervise(ctx, cmd)
	return nil
}

// launch starts one run of the process.
func (s *Supervisor) launch() (*exec.Cmd, error) {
	s.logger.Info("starting process", "name", s.cfg.Name, "binary", s.cfg.Binary, "args", s.cfg.Args)

	// Not CommandContext: shutdown goes through Stop so QLC+ gets SIGTERM
	// and a chance to exit cleanly.
	cmd := exec.Command(s.cfg.Binary, s.cfg.Args...) //nolint:gosec // binary comes from the operator's config
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if s.cfg.Env != nil {
		cmd.Env = append(os.Environ(), s.cfg.Env...)
	}
	cmd.Dir = s.cfg.WorkDir

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", s.cfg.Name, err)
	}

	s.mu.Lock()
	s.cmd = cmd
	s.status = StatusRunning
	s.startTime = time.Now()
	s.mu.Unlock()

	go s.captureOutput("stdout", stdout)
	go s.captureOutput("stderr", stderr)

	s.logger.Info("process started", "name", s.cfg.Name, "pid", cmd.Process.Pid)
	return cmd, nil
}

// captureOutput logs the stream line by line.
func (s *Supervisor) captureOutput(stream string, r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		s.logger.Debug("process output", "name", s.cfg.Name, "stream", stream, "line", scanner.Text())
	}
}

// supervise waits for each run to end and restarts it until Stop, context
// cancellation or the restart limit.
func (s *Supervisor) supervise(ctx context.Context, cmd *exec.Cmd) {
	defer close(s.done)

	for {
		err := s.wait(ctx, cmd)

		s.mu.Lock()
		stopRequested := s.stopRequested
		ranFor := time.Since(s.startTime)
		s.mu.Unlock()

		if stopRequested || ctx.Err() != nil {
			s.setStatus(StatusStopped, nil)
			s.logger.Info("process stopped", "name", s.cfg.Name)
			return
		}

		s.logger.Warn("process exited", "name", s.cfg.Name, "error", err, "ran_for", ranFor.String())

		s.mu.Lock()
		if ranFor >= s.cfg.StableThreshold {
			s.failures = 0
		}
		s.failures++
		attempt := s.failures
		s.lastError = err
		s.mu.Unlock()

		if s.cfg.MaxRestartAttempts > 0 && attempt > s.cfg.MaxRestartAttempts {
			s.logger.Error("max restart attempts reached", "name", s.cfg.Name, "attempts", attempt-1)
			s.setStatus(StatusFailed, err)
			return
		}

		delay := s.backoffDelay(attempt)
		s.setStatus(StatusBackoff, err)
		s.logger.Info("restarting process", "name", s.cfg.Name, "attempt", attempt, "delay", delay.String())

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.setStatus(StatusStopped, nil)
			return
		case <-s.stop:
			timer.Stop()
			s.setStatus(StatusStopped, nil)
			return
		case <-timer.C:
		}

		next, launchErr := s.launch()
		if launchErr != nil {
			s.logger.Error("failed to restart process", "name", s.cfg.Name, "error", launchErr)
			s.setStatus(StatusFailed, launchErr)
			return
		}
		s.mu.Lock()
		s.restarts++
		s.mu.Unlock()
		cmd = next
	}
}

// wait blocks until the run exits, Stop is called, ctx is done or the
// health check fails MaxHealthFailures times in a row.
func (s *Supervisor) wait(ctx context.Context, cmd *exec.Cmd) error {
	exitCh := make(chan error, 1)
	go func() { exitCh <- cmd.Wait() }()

	var tick <-chan time.Time
	if s.cfg.HealthCheck != nil {
		ticker := time.NewTicker(s.cfg.HealthCheckInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	failures := 0
	for {
		select {
		case err := <-exitCh:
			return err

		case <-s.stop:
			return s.terminate(cmd, exitCh)

		case <-ctx.Done():
			return s.terminate(cmd, exitCh)

		case <-tick:
			checkCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
			err := s.cfg.HealthCheck(checkCtx)
			cancel()

			if err == nil {
				if failures > 0 {
					s.logger.Info("health check recovered", "name", s.cfg.Name, "previous_failures", failures)
				}
				failures = 0
				continue
			}

			failures++
			s.logger.Warn("health check failed", "name", s.cfg.Name, "error", err, "consecutive_failures", failures)
			if failures < s.cfg.MaxHealthFailures {
				continue
			}

			s.logger.Error("health check failed repeatedly, killing process", "name", s.cfg.Name)
			signalGroup(cmd, syscall.SIGKILL)
			select {
			case exitErr := <-exitCh:
				return fmt.Errorf("%w: %v", ErrUnhealthy, exitErr)
			case <-time.After(killWaitTimeout):
				return fmt.Errorf("%w: process did not exit after kill", ErrUnhealthy)
			}
		}
	}
}

// backoffDelay returns RestartDelay doubled per earlier failure, capped at
// MaxRestartDelay.
func (s *Supervisor) backoffDelay(attempt int) time.Duration {
	delay := s.cfg.RestartDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= s.cfg.MaxRestartDelay {
			return s.cfg.MaxRestartDelay
		}
	}
	return delay
}

// Stop terminates the process and waits for the supervisor to finish.
// It sends SIGTERM to the process group and SIGKILL after GracefulTimeout.
// Stop on a stopped supervisor is a no-op.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	if s.done == nil || s.stopRequested {
		s.mu.Unlock()
		return nil
	}
	s.stopRequested = true
	close(s.stop)
	done := s.done
	s.mu.Unlock()

	<-done
	return nil
}

// terminate sends SIGTERM and waits for exitCh, escalating to SIGKILL after
// GracefulTimeout.
func (s *Supervisor) terminate(cmd *exec.Cmd, exitCh <-chan error) error {
	s.logger.Info("stopping process", "name", s.cfg.Name, "pid", cmd.Process.Pid)
	signalGroup(cmd, syscall.SIGTERM)

	select {
	case err := <-exitCh:
		return err
	case <-time.After(s.cfg.GracefulTimeout):
	}

	s.logger.Warn("graceful shutdown timeout, sending SIGKILL", "name", s.cfg.Name)
	signalGroup(cmd, syscall.SIGKILL)
	return <-exitCh
}

// signalGroup signals the process group created with Setpgid.
func signalGroup(cmd *exec.Cmd, sig syscall.Signal) {
	if cmd.Process == nil {
		return
	}
	if err := syscall.Kill(-cmd.Process.Pid, sig); err != nil && !errors.Is(err, syscall.ESRCH) {
		_ = cmd.Process.Signal(sig)
	}
}

func (s *Supervisor) setStatus(status Status, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
	if err != nil {
		s.lastError = err
	}
}

// Status returns the current status.
func (s *Supervisor) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// IsRunning reports whether a run is in progress.
func (s *Supervisor) IsRunning() bool {
	return s.Status() == StatusRunning
}

// Stats is a snapshot of the supervised process.
type Stats struct {
	Name      string  `json:"name"`
	Status    Status  `json:"status"`
	PID       int     `json:"pid,omitempty"`
	UptimeSec float64 `json:"uptime_seconds,omitempty"`
	Restarts  int     `json:"restarts"`
	LastError string  `json:"last_error,omitempty"`
}

// Stats returns current statistics.
func (s *Supervisor) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{
		Name:     s.cfg.Name,
		Status:   s.status,
		Restarts: s.restarts,
	}
	if s.status == StatusRunning && s.cmd != nil && s.cmd.Process != nil {
		st.PID = s.cmd.Process.Pid
		st.UptimeSec = time.Since(s.startTime).Seconds()
	}
	if s.lastError != nil {
		st.LastError = s.lastError.Error()
	}
	return st
}
