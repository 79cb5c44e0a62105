package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"rpfix/pkg/usecase"
)

var (
	batchOutDir string
	batchVerify bool
)

func buildBatchCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch [path]",
		Short: "Repair every archive under a directory",
		Long: `Repairs every archive found under a directory tree:
  - Collects files whose extension is configured (.zip and .mcpack by default)
  - Hashes every source archive before it is touched
  - Repairs each archive into the output directory, keeping subfolders
  - Continues with the next archive when one cannot be repaired

The output directory defaults to "repaired" inside the target directory and
is skipped while collecting.

Safety:
  - Source archives are never modified
  - Symlinks that leave the target directory are refused
  - Outputs cannot escape the output directory

Examples:
  rpfix batch --dry-run ./resourcepacks          # Preview the batch
  rpfix batch ./resourcepacks                    # Repair into ./resourcepacks/repaired
  rpfix batch --out-dir ./fixed --verify ./packs # Repair and verify every output`,
		Args: cobra.ExactArgs(1),
		RunE: runBatch,
	}

	cmd.Flags().StringVar(&batchOutDir, "out-dir", "", "Directory for repaired archives")
	cmd.Flags().BoolVar(&batchVerify, "verify", false, "Re-read every repaired archive with an independent zip reader")

	return cmd
}

func runBatch(cmd *cobra.Command, args []string) error {
	targetDir, err := validateAndResolvePath(usecase.CleanPath(args[0]))
	if err != nil {
		return err
	}

	outDir := batchOutDir
	if !cmd.Flags().Changed("out-dir") {
		outDir = settings.OutDir
	}

	printDryRunBanner()
	printCommandHeader("BATCH", targetDir)
	fmt.Println("Collecting files...")

	progress := startProgress()
	execution, err := newUseCaseService().RunBatch(commandContext(cmd), usecase.BatchRequest{
		TargetDir:  targetDir,
		OutDir:     outDir,
		DryRun:     dryRun,
		Verify:     batchVerify,
		OnProgress: progress.Report,
	})
	progress.Stop()
	if err != nil {
		return fmt.Errorf("batch failed: %w", err)
	}

	fmt.Printf("Found %d archives in %v\n", execution.FileCount, execution.CollectDuration.Round(time.Millisecond))
	fmt.Printf("Output directory: %s\n", execution.OutDir)
	fmt.Println()

	if execution.FileCount == 0 {
		fmt.Println("No archives to repair.")
		return nil
	}

	verifyFailures := 0
	for _, op := range execution.Operations {
		printBatchOperation(op)
		if v := op.Execution.Verify; v != nil && !v.OK() {
			verifyFailures++
		}
	}
	fmt.Println()

	printSummary(
		fmt.Sprintf("Archives found:    %d", execution.FileCount),
		fmt.Sprintf("Repaired:          %d", execution.Succeeded),
		fmt.Sprintf("Failed:            %d", execution.Failed),
		fmt.Sprintf("Verify failures:   %d", verifyFailures),
		fmt.Sprintf("Duration:          %v", execution.Duration.Round(time.Millisecond)),
	)
	printJournal(execution.JournalPath)
	printDryRunHint()

	if execution.Failed > 0 || verifyFailures > 0 {
		return fmt.Errorf("%d of %d archives could not be repaired cleanly",
			execution.Failed+verifyFailures, execution.FileCount)
	}
	return nil
}

func printBatchOperation(op usecase.BatchOperation) {
	if op.Error != nil {
		fmt.Printf("ERROR: %s: %v\n", op.Input, op.Error)
		return
	}

	result := op.Execution.Result
	fmt.Printf("REPAIR: %s -> %s\n", op.Input, op.Output)
	fmt.Printf("  ENTRIES: %d, changed %d, copied as-is %d\n",
		len(result.Entries), result.Changed(), result.Passthrough())
	if verbose {
		for _, e := range result.Entries {
			printEntryReport(e)
		}
	}
	if op.Execution.Verify != nil {
		printVerifyReport(*op.Execution.Verify)
	}
}
