// Package progress carries progress callbacks from the repair workflows to
// whatever renders them, a terminal bar or a test recorder.
package progress

// Stages reported by batch runs.
const (
	StageHash   = "hash"
	StageRepair = "repair"
	StageVerify = "verify"
)

// Func receives processed/total counts.
type Func func(processed, total int)

// StageFunc receives processed/total counts tagged with a stage label.
type StageFunc func(stage string, processed, total int)

// Emit calls cb with clamped processed/total values.
// It is a no-op when cb is nil or total is non-positive.
func Emit(cb Func, processed, total int) {
	if cb == nil || total <= 0 {
		return
	}

	cb(clamp(processed, total), total)
}

// EmitStage calls cb with a stage label and clamped processed/total values.
// It is a no-op when cb is nil or total is non-positive.
func EmitStage(cb StageFunc, stage string, processed, total int) {
	if cb == nil || total <= 0 {
		return
	}

	cb(stage, clamp(processed, total), total)
}

// Bind returns a Func that reports through cb under stage. It returns nil
// when cb is nil so callers can skip progress work entirely.
func Bind(cb StageFunc, stage string) Func {
	if cb == nil {
		return nil
	}

	return func(processed, total int) {
		EmitStage(cb, stage, processed, total)
	}
}

func clamp(processed, total int) int {
	return min(max(processed, 0), total)
}
