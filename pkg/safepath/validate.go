package safepath

import (
	"errors"
	"fmt"
	"path/filepath"

	"rpfix/pkg/collector"
)

// ErrInsideOutput indicates an input archive resolves into the directory
// repaired archives are written to.
var ErrInsideOutput = errors.New("archive resolves into the output directory")

// Rejection is a collected archive that must not be read.
type Rejection struct {
	File collector.FileInfo
	Err  error
}

// CheckArchives splits collected archives into those safe to repair and
// rejections. An archive is rejected when it, or its symlink target, leaves
// inputs, or when it resolves into outputs. outputs may be nil when nothing
// will be written.
func CheckArchives(inputs, outputs *Validator, files []collector.FileInfo) ([]collector.FileInfo, []Rejection) {
	safe := make([]collector.FileInfo, 0, len(files))
	var rejected []Rejection

	for _, file := range files {
		if err := inputs.ValidatePathForRead(file.Path); err != nil {
			rejected = append(rejected, Rejection{File: file, Err: err})
			continue
		}
		if outputs != nil {
			resolved, err := filepath.EvalSymlinks(file.Path)
			if err == nil && outputs.Contains(resolved) {
				rejected = append(rejected, Rejection{
					File: file,
					Err:  fmt.Errorf("%w: %s -> %s", ErrInsideOutput, file.Path, resolved),
				})
				continue
			}
		}

		safe = append(safe, file)
	}

	return safe, rejected
}
