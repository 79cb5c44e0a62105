// Package safepath keeps batch repairs inside their directories: inputs must
// resolve inside the scanned directory and outputs inside the output
// directory, symlinks included.
package safepath

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrPathEscape indicates an attempt to access a path outside the root.
	ErrPathEscape = errors.New("path escapes root directory")
	// ErrSymlinkEscape indicates a symlink points outside the root.
	ErrSymlinkEscape = errors.New("symlink target escapes root directory")
	// ErrInvalidRoot indicates the root path is invalid.
	ErrInvalidRoot = errors.New("invalid root directory")
)

// Validator ensures paths are contained within a root directory.
type Validator struct {
	root string // Absolute, cleaned, symlink-free path to the root directory.
}

// New creates a Validator for root, which must be an existing directory.
func New(root string) (*Validator, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRoot, err)
	}

	resolvedRoot, err := filepath.EvalSymlinks(absRoot)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRoot, err)
	}

	info, err := os.Stat(resolvedRoot)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRoot, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: not a directory", ErrInvalidRoot)
	}

	return &Validator{root: filepath.Clean(resolvedRoot)}, nil
}

// Root returns the absolute path to the root directory.
func (v *Validator) Root() string {
	return v.root
}

// Contains reports whether path is lexically inside root. Symlinks are not
// followed.
func (v *Validator) Contains(path string) bool {
	return v.containsPath(path) == nil
}

func (v *Validator) containsPath(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("%w: cannot resolve path", ErrPathEscape)
	}

	if !isSubPath(v.root, filepath.Clean(absPath)) {
		return ErrPathEscape
	}
	return nil
}

// ValidatePathForRead checks that path, and the target of path if it is a
// symlink, lie inside root.
func (v *Validator) ValidatePathForRead(path string) error {
	if err := v.containsPath(path); err != nil {
		return err
	}

	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return fmt.Errorf("cannot resolve %s: %w", path, err)
	}
	if err := v.containsPath(resolved); err != nil {
		return fmt.Errorf("%w: %s -> %s", ErrSymlinkEscape, path, resolved)
	}
	return nil
}

// ValidatePathForWrite checks that path lies inside root and that its
// existing ancestors do not resolve through a symlink leaving root.
func (v *Validator) ValidatePathForWrite(path string) error {
	if err := v.containsPath(path); err != nil {
		return err
	}

	resolved, err := resolveExistingPath(path)
	if err != nil {
		return err
	}
	if err := v.containsPath(resolved); err != nil {
		return fmt.Errorf("%w: %s -> %s", ErrSymlinkEscape, path, resolved)
	}
	return nil
}

// Resolve joins rel onto root and checks the result stays inside root.
func (v *Validator) Resolve(rel string) (string, error) {
	full := rel
	if !filepath.IsAbs(rel) {
		full = filepath.Join(v.root, rel)
	}
	full = filepath.Clean(full)

	if err := v.containsPath(full); err != nil {
		return "", fmt.Errorf("%w: %s", err, rel)
	}
	return full, nil
}

// SafeRename renames oldPath to newPath when both are writable inside root.
func (v *Validator) SafeRename(oldPath, newPath string) error {
	if err := v.ValidatePathForWrite(oldPath); err != nil {
		return fmt.Errorf("source %w: %s", err, oldPath)
	}
	if err := v.ValidatePathForWrite(newPath); err != nil {
		return fmt.Errorf("destination %w: %s", err, newPath)
	}

	return os.Rename(oldPath, newPath)
}

// isSubPath reports whether child equals parent or lies below it.
// Both paths must be absolute and clean.
func isSubPath(parent, child string) bool {
	if parent == child {
		return true
	}

	parentWithSep := parent
	if !strings.HasSuffix(parentWithSep, string(filepath.Separator)) {
		parentWithSep += string(filepath.Separator)
	}
	return strings.HasPrefix(child, parentWithSep)
}

// resolveExistingPath resolves symlinks in the longest existing prefix of path.
func resolveExistingPath(path string) (string, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("cannot resolve path: %w", err)
	}

	resolved, err := filepath.EvalSymlinks(absPath)
	if err == nil {
		return resolved, nil
	}
	if !os.IsNotExist(err) {
		return "", fmt.Errorf("cannot resolve symlinks: %w", err)
	}

	parent := filepath.Dir(absPath)
	if parent == absPath {
		return "", fmt.Errorf("cannot resolve symlinks: %w", err)
	}

	resolvedParent, err := resolveExistingPath(parent)
	if err != nil {
		return "", err
	}
	return filepath.Join(resolvedParent, filepath.Base(absPath)), nil
}
