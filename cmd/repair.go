package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"rpfix/pkg/repair"
	"rpfix/pkg/usecase"
	"rpfix/pkg/verifier"
)

var verifyOutput bool

func buildRepairCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "repair [input] [output]",
		Short: "Repair one archive into a new file",
		Long: `Rebuilds a ZIP archive so that every entry's CRC-32, sizes and local
header offset match the data actually stored:
  - Decompresses stored and deflated entries to recompute CRC-32 and size
  - Copies compressed data unchanged, so packs keep their compression
  - Writes fresh local headers, central directory and end record
  - Copies encrypted entries and other methods without re-validation

Paths that are not given on the command line are asked for interactively.
Without an output path the repaired copy is written next to the input as
<name>_repaired<ext>.

Safety:
  - The input archive is never modified
  - Output is written to a temporary file and renamed into place
  - A lock file stops two repairs from writing the same output

Examples:
  rpfix repair                              # Prompt for both paths
  rpfix repair pack.zip                     # Writes pack_repaired.zip
  rpfix repair --dry-run -v pack.zip        # Show per-entry changes only
  rpfix repair --verify pack.zip fixed.zip  # Repair, then re-read the result`,
		Args: cobra.MaximumNArgs(2),
		RunE: runRepair,
	}

	cmd.Flags().BoolVar(&verifyOutput, "verify", false, "Re-read the repaired archive with an independent zip reader")

	return cmd
}

func runRepair(cmd *cobra.Command, args []string) error {
	input, output, err := repairPaths(args)
	if err != nil {
		return err
	}

	printDryRunBanner()
	printCommandHeader("REPAIR", input)
	fmt.Println()

	req := usecase.RepairRequest{
		Input:  input,
		Output: output,
		DryRun: dryRun,
		Verify: verifyOutput,
	}
	if verbose {
		req.OnEntry = func(_, _ int, report repair.EntryReport) {
			printEntryReport(report)
		}
	}

	execution, err := newUseCaseService().RunRepair(commandContext(cmd), req)
	if err != nil {
		return fmt.Errorf("repair failed: %w", err)
	}

	result := execution.Result
	if result.BaseOffset != 0 {
		fmt.Printf("Removed %d bytes of prefix data before the first entry.\n\n", result.BaseOffset)
	}

	printSummary(
		fmt.Sprintf("Output:          %s", execution.Output),
		fmt.Sprintf("Entries:         %d", len(result.Entries)),
		fmt.Sprintf("Entries changed: %d", result.Changed()),
		fmt.Sprintf("Copied as-is:    %d", result.Passthrough()),
		fmt.Sprintf("Size:            %s", formatBytes(result.BytesWritten)),
		fmt.Sprintf("Source SHA-256:  %s", execution.SourceHash),
		fmt.Sprintf("Output SHA-256:  %s", execution.DestHash),
		fmt.Sprintf("Duration:        %v", execution.Duration.Round(time.Millisecond)),
	)
	printJournal(execution.JournalPath)

	if execution.Verify != nil {
		fmt.Println()
		printVerifyReport(*execution.Verify)
		if !execution.Verify.OK() {
			return fmt.Errorf("repaired archive %s failed verification", execution.Output)
		}
	}

	printDryRunHint()
	return nil
}

// repairPaths takes paths from args and prompts for the missing ones.
func repairPaths(args []string) (string, string, error) {
	var input, output string
	if len(args) > 0 {
		input = usecase.CleanPath(args[0])
	}
	if len(args) > 1 {
		output = usecase.CleanPath(args[1])
	}
	if input != "" {
		return input, output, nil
	}

	input, err := askPath("Path to the archive to repair:", "")
	if err != nil {
		return "", "", err
	}
	output, err = askPath("Path for the repaired archive:", usecase.DefaultOutputPath(input))
	if err != nil {
		return "", "", err
	}
	return input, output, nil
}

func printEntryReport(r repair.EntryReport) {
	switch {
	case !r.Recomputed:
		fmt.Printf("COPY: %s (%s)\n", r.Name, methodLabel(r.Method))
	case r.Changed():
		fmt.Printf("FIX: %s\n", r.Name)
		if r.OldCRC != r.NewCRC {
			fmt.Printf("   CRC: %s -> %s\n", crcLabel(r.OldCRC), crcLabel(r.NewCRC))
		}
		if r.OldSize != r.NewSize {
			fmt.Printf("  SIZE: %d -> %d\n", r.OldSize, r.NewSize)
		}
		if r.OldOffset != r.NewOffset {
			fmt.Printf("OFFSET: %d -> %d\n", r.OldOffset, r.NewOffset)
		}
	default:
		fmt.Printf("OK: %s\n", r.Name)
	}
}

func printVerifyReport(r verifier.Report) {
	status := "OK"
	if !r.OK() {
		status = "FAILED"
	}
	fmt.Printf("VERIFY %s: %s\n", status, r.Path)
	fmt.Printf("  entries %d, verified %d, skipped %d\n", r.Entries, r.Verified, r.Skipped)
	for _, issue := range r.Issues {
		fmt.Printf("  ISSUE: %s\n", issue)
	}
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
