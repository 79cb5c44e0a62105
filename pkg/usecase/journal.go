package usecase

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"rpfix/pkg/journal"
	"rpfix/pkg/repair"
	"rpfix/pkg/verifier"
	"rpfix/pkg/zipstruct"
)

// recorder writes one run's journal lines. A nil recorder records nothing.
//
// Each repair is written as a two-phase entry: an intent entry (Success=false)
// before the output is touched, then a confirmation (Success=true) or a
// failure entry carrying the error. journal.Validate reports intents left
// without either, the trace of a process that died mid-write.
type recorder struct {
	writer  *journal.Writer
	journal string
	run     string
}

func (s *Service) openJournal(dryRun bool) (*recorder, error) {
	if dryRun || s.journalPath == "" {
		return nil, nil
	}

	if err := os.MkdirAll(filepath.Dir(s.journalPath), 0o755); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}
	w, err := journal.NewWriter(s.journalPath)
	if err != nil {
		return nil, fmt.Errorf("create journal writer: %w", err)
	}

	return &recorder{
		writer:  w,
		journal: s.journalPath,
		run:     "repair-" + time.Now().UTC().Format("20060102T150405"),
	}, nil
}

func (r *recorder) path() string {
	if r == nil {
		return ""
	}
	return r.journal
}

func (r *recorder) close() {
	if r != nil {
		_ = r.writer.Close()
	}
}

func (r *recorder) log(e journal.Entry) error {
	if r == nil {
		return nil
	}
	e.Run = r.run
	if err := r.writer.Log(e); err != nil {
		return fmt.Errorf("write journal: %w", err)
	}
	return nil
}

func (r *recorder) intent(src, dst, hash string) error {
	return r.log(journal.Entry{Type: journal.TypeRepair, Source: src, Dest: dst, Hash: hash})
}

func (r *recorder) failed(src, dst, hash string, cause error) error {
	return r.log(journal.Entry{
		Type:   journal.TypeRepair,
		Source: src,
		Dest:   dst,
		Hash:   hash,
		Error:  describeError(cause),
	})
}

// confirmed logs the confirmation followed by one line per rewritten entry.
func (r *recorder) confirmed(e RepairExecution) error {
	if err := r.log(journal.Entry{
		Type:        journal.TypeRepair,
		Source:      e.Input,
		Dest:        e.Output,
		Hash:        e.SourceHash,
		DestHash:    e.DestHash,
		Success:     true,
		Entries:     len(e.Result.Entries),
		Changed:     e.Result.Changed(),
		Passthrough: e.Result.Passthrough(),
	}); err != nil {
		return err
	}

	for _, report := range e.Result.Entries {
		if !report.Changed() {
			continue
		}
		if err := r.log(entryLine(e.Input, report)); err != nil {
			return err
		}
	}
	return nil
}

func (r *recorder) verified(dst, hash string, report verifier.Report) error {
	e := journal.Entry{
		Type:     journal.TypeVerify,
		Source:   dst,
		DestHash: hash,
		Success:  report.OK(),
		Entries:  report.Entries,
	}
	if !report.OK() {
		e.Error = report.Issues[0].String()
	}
	return r.log(e)
}

func entryLine(src string, report repair.EntryReport) journal.Entry {
	return journal.Entry{
		Type:      journal.TypeEntry,
		Source:    src,
		Success:   true,
		Name:      report.Name,
		Method:    zipstruct.MethodName(report.Method),
		OldCRC:    report.OldCRC,
		NewCRC:    report.NewCRC,
		OldSize:   report.OldSize,
		NewSize:   report.NewSize,
		OldOffset: report.OldOffset,
		NewOffset: report.NewOffset,
	}
}
