// Package collector finds archive files to repair.
package collector

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// DefaultExtensions are the archive suffixes picked up when none are configured.
var DefaultExtensions = []string{".zip", ".mcpack"}

// FileInfo holds metadata about a candidate archive.
type FileInfo struct {
	Path    string    // Full path to the file
	Dir     string    // Directory containing the file
	Name    string    // Original filename
	Size    int64     // File size in bytes
	ModTime time.Time // Modification time
}

// Options configures the collector behavior.
type Options struct {
	// Extensions lists accepted suffixes, matched case-insensitively.
	// Empty means DefaultExtensions.
	Extensions []string
	// SkipDirs lists absolute or base directory names never descended into,
	// typically the output directory of a batch run.
	SkipDirs []string
}

// Collector collects candidate archives from a directory tree.
type Collector struct {
	extensions map[string]bool
	skipDirs   map[string]bool
}

// New creates a new Collector with the given options.
func New(opts Options) *Collector {
	exts := opts.Extensions
	if len(exts) == 0 {
		exts = DefaultExtensions
	}

	c := &Collector{
		extensions: make(map[string]bool, len(exts)),
		skipDirs:   make(map[string]bool, len(opts.SkipDirs)),
	}
	for _, ext := range exts {
		ext = strings.ToLower(ext)
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		c.extensions[ext] = true
	}
	for _, d := range opts.SkipDirs {
		c.skipDirs[filepath.Clean(d)] = true
	}

	return c
}

// Accepts reports whether name carries one of the configured extensions.
func (c *Collector) Accepts(name string) bool {
	return c.extensions[strings.ToLower(filepath.Ext(name))]
}

// Collect walks rootDir and returns every accepted file, sorted by path.
func (c *Collector) Collect(rootDir string) ([]FileInfo, error) {
	var files []FileInfo

	err := filepath.WalkDir(rootDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			if path != rootDir && (c.skipDirs[filepath.Clean(path)] || c.skipDirs[d.Name()]) {
				return filepath.SkipDir
			}
			return nil
		}

		if !d.Type().IsRegular() || !c.Accepts(d.Name()) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		files = append(files, FileInfo{
			Path:    path,
			Dir:     filepath.Dir(path),
			Name:    d.Name(),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

// CollectFromDir collects accepted files only from dir itself (non-recursive).
func (c *Collector) CollectFromDir(dir string) ([]FileInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	files := make([]FileInfo, 0, len(entries))
	for _, entry := range entries {
		if !entry.Type().IsRegular() || !c.Accepts(entry.Name()) {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			return nil, err
		}

		files = append(files, FileInfo{
			Path:    filepath.Join(dir, entry.Name()),
			Dir:     dir,
			Name:    info.Name(),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}

	return files, nil
}
