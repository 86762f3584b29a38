// Package supervisor owns the camera child process that relays MJPEG onto
// a local socket. Ownership is guarded by a PID lock file so that exactly
// one relay runs per camera, and stop/status work from any process, not
// just the one that started the child.
package supervisor

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

var (
	// ErrAlreadyRunning means the lock file exists. The check is purely
	// file-based: a lock left behind by a crash also triggers it, and the
	// caller clears it with Stop.
	ErrAlreadyRunning = errors.New("supervisor: stream already running")
	// ErrNotRunning means there is no lock file to act on.
	ErrNotRunning = errors.New("supervisor: stream not running")
)

// termGrace is how long the child gets to exit after SIGTERM before the
// group is killed.
const termGrace = 300 * time.Millisecond

// Config describes the camera child process.
type Config struct {
	Binary    string
	URL       string // listen endpoint handed to -o
	Width     int
	Height    int
	Framerate int
	Quality   int
	LockFile  string
	LogFile   string // child output destination; empty discards
}

// Status reports the supervised process state as seen through the lock
// file. PID is set whenever a lock exists, even if the process is gone.
type Status struct {
	Running   bool
	PID       int
	Cmdline   string
	StartedAt time.Time
	Uptime    time.Duration
}

// Supervisor starts and stops the camera relay child.
type Supervisor struct {
	cfg Config
	log *slog.Logger
}

// New creates a supervisor. The child is not started.
func New(cfg Config, log *slog.Logger) (*Supervisor, error) {
	if cfg.Binary == "" {
		return nil, fmt.Errorf("supervisor: binary is required")
	}
	if cfg.URL == "" {
		return nil, fmt.Errorf("supervisor: url is required")
	}
	if cfg.LockFile == "" {
		return nil, fmt.Errorf("supervisor: lock_file is required")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Supervisor{cfg: cfg, log: log}, nil
}

// buildArgs assembles the child argv: endless MJPEG capture, no preview
// window, relayed to the configured listen endpoint.
func (s *Supervisor) buildArgs() []string {
	return []string{
		"-t", "0",
		"-n",
		"--codec", "mjpeg",
		"--quality", strconv.Itoa(s.cfg.Quality),
		"--width", strconv.Itoa(s.cfg.Width),
		"--height", strconv.Itoa(s.cfg.Height),
		"--framerate", strconv.Itoa(s.cfg.Framerate),
		"-o", s.cfg.URL,
	}
}

// Start launches the child in its own session and records its PID in the
// lock file. Returns ErrAlreadyRunning if the lock file exists; no
// liveness check is made, so a stale lock must be cleared with Stop first.
func (s *Supervisor) Start() (int, error) {
	if _, err := os.Stat(s.cfg.LockFile); err == nil {
		return 0, ErrAlreadyRunning
	} else if !errors.Is(err, os.ErrNotExist) {
		return 0, fmt.Errorf("supervisor: stat lock file: %w", err)
	}

	cmd := exec.Command(s.cfg.Binary, s.buildArgs()...)
	// New session: the child leads its own process group, so Stop can
	// signal the whole group from any process
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	var logFile *os.File
	if s.cfg.LogFile != "" {
		f, err := os.OpenFile(s.cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return 0, fmt.Errorf("supervisor: open log file: %w", err)
		}
		cmd.Stdout = f
		cmd.Stderr = f
		logFile = f
	}

	if err := cmd.Start(); err != nil {
		if logFile != nil {
			logFile.Close()
		}
		return 0, fmt.Errorf("supervisor: start %s: %w", s.cfg.Binary, err)
	}

	pid := cmd.Process.Pid
	if err := os.WriteFile(s.cfg.LockFile, []byte(strconv.Itoa(pid)), 0o644); err != nil {
		syscall.Kill(-pid, syscall.SIGKILL)
		if logFile != nil {
			logFile.Close()
		}
		return 0, fmt.Errorf("supervisor: write lock file: %w", err)
	}

	// Reap the child when this process started it, so it never lingers
	// as a zombie
	go func() {
		cmd.Wait()
		if logFile != nil {
			logFile.Close()
		}
	}()

	s.log.Info("stream started",
		"binary", s.cfg.Binary,
		"pid", pid,
		"url", s.cfg.URL,
		"resolution", fmt.Sprintf("%dx%d", s.cfg.Width, s.cfg.Height),
		"framerate", s.cfg.Framerate,
	)

	return pid, nil
}

// Stop terminates the child's process group and removes the lock file.
// The lock file is removed even when the process is already gone, so Stop
// doubles as the stale-lock cleanup path. Returns ErrNotRunning if there
// is no lock file.
func (s *Supervisor) Stop() error {
	pid, err := s.readLock()
	if errors.Is(err, os.ErrNotExist) {
		return ErrNotRunning
	}
	if err != nil {
		// Unreadable lock: clear it so the next Start is not wedged
		os.Remove(s.cfg.LockFile)
		return err
	}

	defer os.Remove(s.cfg.LockFile)

	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil {
		if errors.Is(err, syscall.ESRCH) {
			s.log.Warn("stream process already gone", "pid", pid)
			return nil
		}
		return fmt.Errorf("supervisor: signal process group %d: %w", pid, err)
	}

	time.Sleep(termGrace)

	if alive, _ := process.PidExists(int32(pid)); alive {
		s.log.Warn("stream ignored SIGTERM, killing", "pid", pid)
		if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
			return fmt.Errorf("supervisor: kill process group %d: %w", pid, err)
		}
	}

	s.log.Info("stream stopped", "pid", pid)
	return nil
}

// Status inspects the lock file and the process behind it.
func (s *Supervisor) Status() (*Status, error) {
	pid, err := s.readLock()
	if errors.Is(err, os.ErrNotExist) {
		return &Status{}, nil
	}
	if err != nil {
		return nil, err
	}

	st := &Status{PID: pid}
	alive, _ := process.PidExists(int32(pid))
	if !alive {
		return st, nil
	}
	st.Running = true

	if p, err := process.NewProcess(int32(pid)); err == nil {
		if cmdline, err := p.Cmdline(); err == nil {
			st.Cmdline = cmdline
		}
		if createdMS, err := p.CreateTime(); err == nil {
			st.StartedAt = time.UnixMilli(createdMS)
			st.Uptime = time.Since(st.StartedAt)
		}
	}
	return st, nil
}

// readLock parses the PID out of the lock file.
func (s *Supervisor) readLock() (int, error) {
	data, err := os.ReadFile(s.cfg.LockFile)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("supervisor: invalid pid in lock file %s: %q", s.cfg.LockFile, data)
	}
	return pid, nil
}
