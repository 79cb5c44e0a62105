// Package usecase provides application-level orchestration for CLI workflows.
package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"rpfix/pkg/collector"
	"rpfix/pkg/filelock"
	"rpfix/pkg/hasher"
	"rpfix/pkg/progress"
	"rpfix/pkg/repair"
	"rpfix/pkg/safepath"
	"rpfix/pkg/verifier"
	"rpfix/pkg/zipstruct"
)

// DefaultOutDirName is the batch output directory created inside the target
// directory when none is configured.
const DefaultOutDirName = "repaired"

// ErrSameFile is returned when the output path would overwrite the input.
var ErrSameFile = errors.New("output must differ from input")

// Options configures a Service.
type Options struct {
	IgnoreDiskNumbers bool
	AllowTrailingData bool
	Extensions        []string
	// JournalPath enables the JSONL repair journal when non-empty.
	JournalPath string
	Workers     int
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{IgnoreDiskNumbers: repair.DefaultOptions().IgnoreDiskNumbers}
}

// Service orchestrates command workflows without Cobra dependencies.
type Service struct {
	repairOpts  repair.Options
	extensions  []string
	journalPath string
	hasher      *hasher.Hasher
}

// New creates a use-case service.
func New(opts Options) *Service {
	return &Service{
		repairOpts: repair.Options{
			IgnoreDiskNumbers: opts.IgnoreDiskNumbers,
			AllowTrailingData: opts.AllowTrailingData,
		},
		extensions:  append([]string(nil), opts.Extensions...),
		journalPath: opts.JournalPath,
		hasher:      hasher.New(hasher.WithWorkers(opts.Workers)),
	}
}

// EntryCallback receives each entry report as it is written.
type EntryCallback func(index, total int, report repair.EntryReport)

// RepairRequest contains inputs for the repair workflow.
type RepairRequest struct {
	Input  string
	Output string
	DryRun bool
	// Verify re-reads the written archive with an independent zip reader.
	Verify  bool
	OnEntry EntryCallback
}

// RepairExecution contains repair workflow outputs.
type RepairExecution struct {
	Input       string
	Output      string
	DryRun      bool
	Duration    time.Duration
	Result      repair.Result
	SourceHash  string
	DestHash    string
	Verify      *verifier.Report
	JournalPath string
}

// BatchRequest contains inputs for the batch workflow.
type BatchRequest struct {
	TargetDir string
	// OutDir defaults to DefaultOutDirName inside TargetDir.
	OutDir     string
	DryRun     bool
	Verify     bool
	OnProgress progress.StageFunc
}

// BatchOperation is the outcome of repairing one archive in a batch.
type BatchOperation struct {
	Input     string
	Output    string
	Execution RepairExecution
	Error     error
}

// BatchExecution contains batch workflow outputs.
type BatchExecution struct {
	RootDir         string
	OutDir          string
	FileCount       int
	CollectDuration time.Duration
	Duration        time.Duration
	Operations      []BatchOperation
	Succeeded       int
	Failed          int
	JournalPath     string
}

// VerifyRequest contains inputs for the verify workflow.
type VerifyRequest struct {
	Paths      []string
	OnProgress progress.StageFunc
}

// VerifyExecution contains verify workflow outputs.
type VerifyExecution struct {
	Reports []verifier.Report
	// Errors holds archives that could not be opened, keyed by path.
	Errors map[string]error
}

// OK reports whether every archive opened and verified cleanly.
func (e VerifyExecution) OK() bool {
	if len(e.Errors) > 0 {
		return false
	}
	for _, r := range e.Reports {
		if !r.OK() {
			return false
		}
	}
	return true
}

// InspectExecution contains the decoded structure of an archive.
type InspectExecution struct {
	Path    string
	Size    int64
	Archive *repair.Archive
}

// CleanPath trims whitespace and surrounding quotes from a path typed at a
// prompt or pasted from a file manager.
func CleanPath(p string) string {
	return strings.Trim(strings.TrimSpace(p), `"'`)
}

// DefaultOutputPath names the repaired copy of input next to it.
func DefaultOutputPath(input string) string {
	ext := filepath.Ext(input)
	return strings.TrimSuffix(input, ext) + "_repaired" + ext
}

// RunRepair repairs one archive into req.Output. The output is written to a
// temporary file in the same directory and renamed into place on success, so
// an existing file at req.Output is only replaced by a complete archive.
func (s *Service) RunRepair(ctx context.Context, req RepairRequest) (RepairExecution, error) {
	input, output, err := resolveRepairPaths(req.Input, req.Output)
	if err != nil {
		return RepairExecution{}, err
	}

	outValidator, err := newOutputValidator(filepath.Dir(output), req.DryRun)
	if err != nil {
		return RepairExecution{}, err
	}

	rec, err := s.openJournal(req.DryRun)
	if err != nil {
		return RepairExecution{}, err
	}
	defer rec.close()

	sourceHash, err := s.hasher.ComputeHash(input)
	if err != nil {
		return RepairExecution{}, fmt.Errorf("failed to hash %s: %w", input, err)
	}

	return s.repairFile(ctx, repairJob{
		input:      input,
		output:     output,
		sourceHash: sourceHash,
		dryRun:     req.DryRun,
		verify:     req.Verify,
		onEntry:    req.OnEntry,
		validator:  outValidator,
		recorder:   rec,
	})
}

// RunBatch repairs every archive under req.TargetDir, one after another,
// mirroring the directory layout below req.OutDir. A failed archive does not
// stop the batch; cancellation does.
func (s *Service) RunBatch(ctx context.Context, req BatchRequest) (BatchExecution, error) {
	startTime := time.Now()

	target, err := resolveWorkflowTarget(req.TargetDir)
	if err != nil {
		return BatchExecution{}, err
	}

	outDir := req.OutDir
	if outDir == "" {
		outDir = filepath.Join(target.rootDir, DefaultOutDirName)
	}
	outDir, err = filepath.Abs(outDir)
	if err != nil {
		return BatchExecution{}, fmt.Errorf("cannot resolve output directory: %w", err)
	}
	if !req.DryRun {
		if err := os.MkdirAll(outDir, 0o755); err != nil {
			return BatchExecution{}, fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	execution := BatchExecution{RootDir: target.rootDir, OutDir: outDir}

	files, collectDuration, err := s.collectFiles(target.rootDir, outDir)
	if err != nil {
		return execution, fmt.Errorf("failed to collect files: %w", err)
	}
	execution.FileCount = len(files)
	execution.CollectDuration = collectDuration
	if len(files) == 0 {
		execution.Duration = time.Since(startTime)
		return execution, nil
	}

	outValidator, err := newOutputValidator(outDir, req.DryRun)
	if err != nil {
		return execution, err
	}

	safe, rejected := safepath.CheckArchives(target.validator, outValidator, files)
	for _, r := range rejected {
		execution.Operations = append(execution.Operations, BatchOperation{Input: r.File.Path, Error: r.Err})
	}
	execution.Failed += len(rejected)

	rec, err := s.openJournal(req.DryRun)
	if err != nil {
		return execution, err
	}
	defer rec.close()
	execution.JournalPath = rec.path()

	paths := make([]string, len(safe))
	for i, f := range safe {
		paths[i] = f.Path
	}
	progress.EmitStage(req.OnProgress, progress.StageHash, 0, len(paths))
	digests, hashFailures := s.hasher.HashAll(paths)
	progress.EmitStage(req.OnProgress, progress.StageHash, len(paths), len(paths))

	for i, f := range safe {
		if err := ctx.Err(); err != nil {
			return execution, err
		}
		progress.EmitStage(req.OnProgress, progress.StageRepair, i, len(safe))

		op := BatchOperation{Input: f.Path}
		op.Output, op.Error = batchOutputPath(target.rootDir, outDir, outValidator, f.Path)
		if op.Error == nil {
			op.Error = hashFailures[f.Path]
		}
		if op.Error == nil {
			op.Execution, op.Error = s.repairFile(ctx, repairJob{
				input:      f.Path,
				output:     op.Output,
				sourceHash: digests[f.Path],
				dryRun:     req.DryRun,
				verify:     req.Verify,
				validator:  outValidator,
				recorder:   rec,
			})
		}

		if errors.Is(op.Error, context.Canceled) || errors.Is(op.Error, context.DeadlineExceeded) {
			execution.Operations = append(execution.Operations, op)
			execution.Failed++
			return execution, op.Error
		}
		if op.Error != nil {
			execution.Failed++
		} else {
			execution.Succeeded++
		}
		execution.Operations = append(execution.Operations, op)
	}
	progress.EmitStage(req.OnProgress, progress.StageRepair, len(safe), len(safe))

	execution.Duration = time.Since(startTime)
	return execution, nil
}

// RunVerify checks each archive in req.Paths.
func (s *Service) RunVerify(ctx context.Context, req VerifyRequest) (VerifyExecution, error) {
	execution := VerifyExecution{Errors: make(map[string]error)}
	opts := verifier.Options{AllowTrailingData: s.repairOpts.AllowTrailingData}

	for i, path := range req.Paths {
		if err := ctx.Err(); err != nil {
			return execution, err
		}
		progress.EmitStage(req.OnProgress, progress.StageVerify, i, len(req.Paths))

		report, err := verifier.Verify(ctx, path, opts)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return execution, err
			}
			execution.Errors[path] = err
			continue
		}
		execution.Reports = append(execution.Reports, report)
	}
	progress.EmitStage(req.OnProgress, progress.StageVerify, len(req.Paths), len(req.Paths))

	return execution, nil
}

// RunInspect decodes the end record and central directory of path without
// touching any entry payload.
func (s *Service) RunInspect(path string) (InspectExecution, error) {
	f, err := os.Open(path)
	if err != nil {
		return InspectExecution{}, fmt.Errorf("failed to open archive %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return InspectExecution{}, fmt.Errorf("failed to stat archive %s: %w", path, err)
	}

	archive, err := repair.ReadArchive(f, s.repairOpts)
	if err != nil {
		return InspectExecution{Path: path, Size: info.Size()}, err
	}

	return InspectExecution{Path: path, Size: info.Size(), Archive: archive}, nil
}

type repairJob struct {
	input      string
	output     string
	sourceHash string
	dryRun     bool
	verify     bool
	onEntry    EntryCallback
	validator  *safepath.Validator
	recorder   *recorder
}

// repairFile runs one repair and records it in the journal. In dry-run mode
// the rebuilt archive is only hashed, never written.
func (s *Service) repairFile(ctx context.Context, job repairJob) (RepairExecution, error) {
	startTime := time.Now()
	execution := RepairExecution{
		Input:       job.input,
		Output:      job.output,
		DryRun:      job.dryRun,
		SourceHash:  job.sourceHash,
		JournalPath: job.recorder.path(),
	}

	opts := s.repairOpts
	if job.onEntry != nil {
		opts.OnEntry = job.onEntry
	}

	src, err := os.Open(job.input)
	if err != nil {
		return execution, fmt.Errorf("failed to open archive %s: %w", job.input, err)
	}
	defer src.Close()

	if job.dryRun {
		hw := hasher.NewWriter(io.Discard)
		execution.Result, err = repair.Rebuild(ctx, src, hw, opts)
		execution.DestHash = hw.Sum()
		execution.Duration = time.Since(startTime)
		if err != nil {
			return execution, fmt.Errorf("failed to repair %s: %w", job.input, err)
		}
		return execution, nil
	}

	if err := job.recorder.intent(job.input, job.output, job.sourceHash); err != nil {
		return execution, err
	}

	execution.Result, execution.DestHash, err = writeAtomically(ctx, src, job.output, job.validator, opts)
	execution.Duration = time.Since(startTime)
	if err != nil {
		err = fmt.Errorf("failed to repair %s: %w", job.input, err)
		return execution, errors.Join(err, job.recorder.failed(job.input, job.output, job.sourceHash, err))
	}

	if err := job.recorder.confirmed(execution); err != nil {
		return execution, err
	}

	if job.verify {
		report, err := verifier.Verify(ctx, job.output, verifier.Options{})
		if err != nil {
			return execution, fmt.Errorf("failed to verify %s: %w", job.output, err)
		}
		execution.Verify = &report
		if err := job.recorder.verified(job.output, execution.DestHash, report); err != nil {
			return execution, err
		}
	}

	return execution, nil
}

// writeAtomically rebuilds src into a temporary file next to output and
// renames it into place. The lock on output is held throughout.
func writeAtomically(
	ctx context.Context,
	src io.ReadSeeker,
	output string,
	validator *safepath.Validator,
	opts repair.Options,
) (repair.Result, string, error) {
	lock, err := filelock.ForOutput(output)
	if err != nil {
		return repair.Result{}, "", err
	}
	defer lock.Close()

	if err := validator.ValidatePathForWrite(output); err != nil {
		return repair.Result{}, "", err
	}

	tmp, err := os.CreateTemp(filepath.Dir(output), "."+filepath.Base(output)+".*.tmp")
	if err != nil {
		return repair.Result{}, "", fmt.Errorf("failed to create temporary output: %w", err)
	}
	cleanup := func(cause error) error {
		return errors.Join(cause, tmp.Close(), os.Remove(tmp.Name()))
	}

	hw := hasher.NewWriter(tmp)
	res, err := repair.Rebuild(ctx, src, hw, opts)
	if err != nil {
		return res, "", cleanup(err)
	}
	if err := tmp.Sync(); err != nil {
		return res, "", cleanup(fmt.Errorf("failed to sync output: %w", err))
	}
	if err := tmp.Close(); err != nil {
		return res, "", errors.Join(fmt.Errorf("failed to close output: %w", err), os.Remove(tmp.Name()))
	}
	if err := validator.SafeRename(tmp.Name(), output); err != nil {
		return res, "", errors.Join(fmt.Errorf("failed to move output into place: %w", err), os.Remove(tmp.Name()))
	}

	return res, hw.Sum(), nil
}

func resolveRepairPaths(input, output string) (string, string, error) {
	input = CleanPath(input)
	if input == "" {
		return "", "", errors.New("input path is required")
	}
	output = CleanPath(output)
	if output == "" {
		output = DefaultOutputPath(input)
	}

	absIn, err := filepath.Abs(input)
	if err != nil {
		return "", "", fmt.Errorf("cannot resolve input path: %w", err)
	}
	absOut, err := filepath.Abs(output)
	if err != nil {
		return "", "", fmt.Errorf("cannot resolve output path: %w", err)
	}

	info, err := os.Stat(absIn)
	if err != nil {
		return "", "", fmt.Errorf("cannot access input: %w", err)
	}
	if !info.Mode().IsRegular() {
		return "", "", fmt.Errorf("%s is not a regular file", absIn)
	}

	if absIn == absOut {
		return "", "", fmt.Errorf("%w: %s", ErrSameFile, absIn)
	}
	if outInfo, err := os.Stat(absOut); err == nil && os.SameFile(info, outInfo) {
		return "", "", fmt.Errorf("%w: %s", ErrSameFile, absOut)
	}

	return absIn, absOut, nil
}

// batchOutputPath maps path below rootDir to the same relative path below
// outDir, creating intermediate directories.
func batchOutputPath(rootDir, outDir string, validator *safepath.Validator, path string) (string, error) {
	rel, err := filepath.Rel(rootDir, path)
	if err != nil {
		return "", fmt.Errorf("cannot map %s into output directory: %w", path, err)
	}

	if validator == nil {
		return filepath.Join(outDir, rel), nil
	}

	out, err := validator.Resolve(rel)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	return out, nil
}

// newOutputValidator returns nil in dry-run mode, where outDir may not exist.
func newOutputValidator(outDir string, dryRun bool) (*safepath.Validator, error) {
	if dryRun {
		return nil, nil
	}

	v, err := safepath.New(outDir)
	if err != nil {
		return nil, fmt.Errorf("cannot create path validator: %w", err)
	}
	return v, nil
}

func (s *Service) collectFiles(rootDir, outDir string) ([]collector.FileInfo, time.Duration, error) {
	startTime := time.Now()

	c := collector.New(collector.Options{
		Extensions: s.extensions,
		SkipDirs:   []string{outDir},
	})

	files, err := c.Collect(rootDir)
	if err != nil {
		return nil, 0, err
	}

	return files, time.Since(startTime), nil
}

// Workflow invariant: no path is opened before validator approval.
type workflowTarget struct {
	rootDir   string
	validator *safepath.Validator
}

func resolveWorkflowTarget(targetDir string) (workflowTarget, error) {
	info, err := os.Stat(targetDir)
	if err != nil {
		return workflowTarget{}, fmt.Errorf("cannot access directory: %w", err)
	}
	if !info.IsDir() {
		return workflowTarget{}, fmt.Errorf("%s is not a directory", targetDir)
	}

	validator, err := safepath.New(targetDir)
	if err != nil {
		return workflowTarget{}, fmt.Errorf("cannot create path validator: %w", err)
	}

	return workflowTarget{
		rootDir:   validator.Root(),
		validator: validator,
	}, nil
}

// describeError renders err for the journal, naming the failing structure
// when it is a format error.
func describeError(err error) string {
	var fe *zipstruct.FormatError
	if errors.As(err, &fe) {
		return fe.Error()
	}
	return err.Error()
}
