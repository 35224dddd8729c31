// Package lockfile implements the process-wide advisory lock that
// prevents two agentty instances from running against the same state
// directory concurrently.
package lockfile

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"golang.org/x/sys/unix"
)

// AlreadyRunning is returned when another process already holds the lock.
type AlreadyRunning struct {
	PID int
}

func (e *AlreadyRunning) Error() string {
	return fmt.Sprintf("another session is running (PID: %d)", e.PID)
}

// Lock is a held advisory lock. Release drops it; the OS also reclaims
// it automatically if the process dies.
type Lock struct {
	file *os.File
}

// Acquire opens (creating if necessary) the lockfile under stateDir and
// attempts a non-blocking exclusive advisory lock. On contention it
// returns *AlreadyRunning with the PID read back from the file.
func Acquire(stateDir string) (*Lock, error) {
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	path := filepath.Join(stateDir, "lock")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lockfile: %w", err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		pid := readPID(f)
		f.Close()
		return nil, &AlreadyRunning{PID: pid}
	}

	if err := f.Truncate(0); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to truncate lockfile: %w", err)
	}
	if _, err := f.WriteAt([]byte(strconv.Itoa(os.Getpid())), 0); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write pid to lockfile: %w", err)
	}

	return &Lock{file: f}, nil
}

// Release drops the advisory lock and closes the underlying file.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	_ = unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	return l.file.Close()
}

func readPID(f *os.File) int {
	buf := make([]byte, 32)
	n, err := f.ReadAt(buf, 0)
	if err != nil && n == 0 {
		return 0
	}
	pid, _ := strconv.Atoi(string(bytes.TrimSpace(buf[:n])))
	return pid
}
