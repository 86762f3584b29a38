package supervisor

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// fakeRelay writes a shell script that ignores its arguments and sleeps,
// standing in for the camera binary.
func fakeRelay(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-relay")
	script := "#!/bin/sh\nsleep 60\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("writing fake relay: %v", err)
	}
	return path
}

func newTestSupervisor(t *testing.T, binary string) *Supervisor {
	t.Helper()
	s, err := New(Config{
		Binary:    binary,
		URL:       "tcp://127.0.0.1:5800?listen",
		Width:     1920,
		Height:    1080,
		Framerate: 15,
		Quality:   90,
		LockFile:  filepath.Join(t.TempDir(), "stream.pid"),
	}, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return s
}

// stubbornRelay writes a shell script that ignores SIGTERM, forcing the
// stop path to escalate to SIGKILL.
func stubbornRelay(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stubborn-relay")
	script := "#!/bin/sh\ntrap '' TERM\nwhile :; do sleep 1; done\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("writing stubborn relay: %v", err)
	}
	return path
}

// deadPID spawns and reaps a short-lived process so its PID is known dead.
func deadPID(t *testing.T) int {
	t.Helper()
	cmd := exec.Command("true")
	if err := cmd.Run(); err != nil {
		t.Fatalf("spawning short-lived process: %v", err)
	}
	return cmd.Process.Pid
}

func waitForExit(t *testing.T, pid int) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if alive, _ := process.PidExists(int32(pid)); !alive {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("pid %d still alive after stop", pid)
}

// TestBuildArgs verifies the exact child argv.
func TestBuildArgs(t *testing.T) {
	s := newTestSupervisor(t, "rpicam-vid")

	got := strings.Join(s.buildArgs(), " ")
	want := "-t 0 -n --codec mjpeg --quality 90 --width 1920 --height 1080 --framerate 15 -o tcp://127.0.0.1:5800?listen"
	if got != want {
		t.Errorf("buildArgs:\n got  %s\n want %s", got, want)
	}
}

// TestStartStop runs the full lifecycle against a fake relay process.
func TestStartStop(t *testing.T) {
	s := newTestSupervisor(t, fakeRelay(t))

	pid, err := s.Start()
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if pid <= 0 {
		t.Fatalf("Start returned pid %d", pid)
	}

	data, err := os.ReadFile(s.cfg.LockFile)
	if err != nil {
		t.Fatalf("lock file not written: %v", err)
	}
	if got, _ := strconv.Atoi(strings.TrimSpace(string(data))); got != pid {
		t.Errorf("lock file pid = %d, want %d", got, pid)
	}

	st, err := s.Status()
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if !st.Running || st.PID != pid {
		t.Errorf("Status = %+v, want running with pid %d", st, pid)
	}

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	waitForExit(t, pid)

	if _, err := os.Stat(s.cfg.LockFile); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("lock file still present after Stop: %v", err)
	}
}

// TestStopEscalatesToKill verifies a child that ignores SIGTERM is taken
// down by the SIGKILL escalation.
func TestStopEscalatesToKill(t *testing.T) {
	s := newTestSupervisor(t, stubbornRelay(t))

	pid, err := s.Start()
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	// Give the script time to install its TERM trap
	time.Sleep(100 * time.Millisecond)

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	waitForExit(t, pid)

	if _, err := os.Stat(s.cfg.LockFile); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("lock file still present after forced stop: %v", err)
	}
}

// TestStartWhileLocked verifies the guard is purely file-based: even a
// lock pointing at a dead process blocks Start.
func TestStartWhileLocked(t *testing.T) {
	s := newTestSupervisor(t, fakeRelay(t))

	pid := deadPID(t)
	if err := os.WriteFile(s.cfg.LockFile, []byte(strconv.Itoa(pid)), 0o644); err != nil {
		t.Fatalf("writing stale lock: %v", err)
	}

	if _, err := s.Start(); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("Start with stale lock = %v, want ErrAlreadyRunning", err)
	}
}

// TestStopWithoutLock verifies ErrNotRunning when there is nothing to stop.
func TestStopWithoutLock(t *testing.T) {
	s := newTestSupervisor(t, fakeRelay(t))

	if err := s.Stop(); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Stop without lock = %v, want ErrNotRunning", err)
	}
}

// TestStopStaleLock verifies a lock pointing at a dead process is cleared
// without error, so Stop doubles as stale-lock cleanup.
func TestStopStaleLock(t *testing.T) {
	s := newTestSupervisor(t, fakeRelay(t))

	pid := deadPID(t)
	if err := os.WriteFile(s.cfg.LockFile, []byte(strconv.Itoa(pid)), 0o644); err != nil {
		t.Fatalf("writing stale lock: %v", err)
	}

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop on stale lock failed: %v", err)
	}
	if _, err := os.Stat(s.cfg.LockFile); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("stale lock not removed: %v", err)
	}
}

// TestStopCorruptLock verifies garbage in the lock file is reported and
// the lock still cleared.
func TestStopCorruptLock(t *testing.T) {
	s := newTestSupervisor(t, fakeRelay(t))

	if err := os.WriteFile(s.cfg.LockFile, []byte("not-a-pid"), 0o644); err != nil {
		t.Fatalf("writing corrupt lock: %v", err)
	}

	if err := s.Stop(); err == nil {
		t.Error("Stop accepted corrupt lock file")
	}
	if _, err := os.Stat(s.cfg.LockFile); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("corrupt lock not removed: %v", err)
	}
}

// TestStatusNotRunning covers the no-lock and stale-lock status shapes.
func TestStatusNotRunning(t *testing.T) {
	s := newTestSupervisor(t, fakeRelay(t))

	t.Run("no lock", func(t *testing.T) {
		st, err := s.Status()
		if err != nil {
			t.Fatalf("Status failed: %v", err)
		}
		if st.Running || st.PID != 0 {
			t.Errorf("Status = %+v, want zero status", st)
		}
	})

	t.Run("stale lock", func(t *testing.T) {
		pid := deadPID(t)
		if err := os.WriteFile(s.cfg.LockFile, []byte(strconv.Itoa(pid)), 0o644); err != nil {
			t.Fatalf("writing stale lock: %v", err)
		}
		defer os.Remove(s.cfg.LockFile)

		st, err := s.Status()
		if err != nil {
			t.Fatalf("Status failed: %v", err)
		}
		if st.Running {
			t.Error("Status reports running for dead pid")
		}
		if st.PID != pid {
			t.Errorf("Status.PID = %d, want %d (lock pid surfaces even when dead)", st.PID, pid)
		}
	})
}

// TestConfigValidation verifies required fields.
func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"missing binary", Config{URL: "tcp://x", LockFile: "l"}},
		{"missing url", Config{Binary: "b", LockFile: "l"}},
		{"missing lock file", Config{Binary: "b", URL: "tcp://x"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.cfg, nil); err == nil {
				t.Error("New accepted incomplete config")
			}
		})
	}
}
