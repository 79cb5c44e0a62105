// Package filelock stops two rpfix processes from writing the same output
// archive at once. The lock is an advisory lock on a file next to the
// output, holding the process id of the repair that owns it.
package filelock

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Suffix is appended to an output path to name its lock file.
const Suffix = ".lock"

// ErrBusy is returned when another repair holds the lock on an output.
var ErrBusy = errors.New("another repair is writing this output")

// Lock is a held lock on one output archive.
type Lock struct {
	output string
	file   *os.File
}

// LockPath returns the lock file path guarding output.
func LockPath(output string) string {
	return output + Suffix
}

// ForOutput locks output for writing. It does not wait: if another repair
// holds the lock the error matches ErrBusy and names that repair's process
// id when it can be read. The lock file is removed on Close.
func ForOutput(output string) (*Lock, error) {
	path := LockPath(output)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open lock file %s: %w", path, err)
	}

	if err := tryLock(f); err != nil {
		_ = f.Close()
		if pid, ok := Holder(output); ok {
			return nil, fmt.Errorf("%w: %s (pid %d): %w", ErrBusy, output, pid, err)
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrBusy, output, err)
	}

	if err := writePID(f); err != nil {
		_ = unlock(f)
		_ = f.Close()
		return nil, fmt.Errorf("write lock file %s: %w", path, err)
	}

	return &Lock{output: output, file: f}, nil
}

// Holder returns the process id recorded in the lock file of output.
func Holder(output string) (int, bool) {
	b, err := os.ReadFile(LockPath(output))
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}

// Output returns the archive path this lock guards.
func (l *Lock) Output() string {
	if l == nil {
		return ""
	}
	return l.output
}

// Close releases the lock and removes the lock file. Closing a nil Lock is a
// no-op.
func (l *Lock) Close() error {
	if l == nil || l.file == nil {
		return nil
	}

	path := l.file.Name()
	unlockErr := unlock(l.file)
	closeErr := l.file.Close()
	removeErr := os.Remove(path)
	l.file = nil

	if unlockErr != nil {
		return fmt.Errorf("unlock %s: %w", l.output, unlockErr)
	}
	if closeErr != nil {
		return fmt.Errorf("close lock file: %w", closeErr)
	}
	if removeErr != nil && !os.IsNotExist(removeErr) {
		return fmt.Errorf("remove lock file: %w", removeErr)
	}
	return nil
}

func writePID(f *os.File) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	_, err := f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0)
	return err
}
