package main

import (
	"fmt"
	"os"
	"path/filepath"

	"rpfix/pkg/usecase"
	"rpfix/pkg/zipstruct"
)

func validateAndResolvePath(targetDir string) (string, error) {
	info, err := os.Stat(targetDir)
	if err != nil {
		return "", fmt.Errorf("cannot access directory: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%s is not a directory", targetDir)
	}

	absPath, err := filepath.Abs(targetDir)
	if err != nil {
		return "", fmt.Errorf("cannot resolve path: %w", err)
	}

	return absPath, nil
}

func newUseCaseService() *usecase.Service {
	return usecase.New(usecase.Options{
		IgnoreDiskNumbers: settings.IgnoreDiskNumbers,
		AllowTrailingData: settings.AllowTrailingData,
		Extensions:        settings.Extensions,
		JournalPath:       settings.Journal,
		Workers:           workers,
	})
}

func printDryRunBanner() {
	if !dryRun {
		return
	}

	fmt.Println("=== DRY RUN - no archives will be written ===")
	fmt.Println()
}

func printCommandHeader(command, target string) {
	fmt.Printf("Command: %s\n", command)
	fmt.Printf("Target: %s\n", target)
}

func printSummary(lines ...string) {
	fmt.Println("=== Summary ===")
	for _, line := range lines {
		fmt.Println(line)
	}
}

func printDryRunHint() {
	if !dryRun {
		return
	}

	fmt.Println()
	fmt.Println("Run without --dry-run to write the repaired archive.")
}

func printJournal(path string) {
	if path == "" {
		return
	}
	fmt.Printf("Journal: %s\n", path)
}

func crcLabel(crc uint32) string {
	return fmt.Sprintf("%08x", crc)
}

func methodLabel(method uint16) string {
	return zipstruct.MethodName(method)
}

func formatBytes(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.2f GB", float64(bytes)/GB)
	case bytes >= MB:
		return fmt.Sprintf("%.2f MB", float64(bytes)/MB)
	case bytes >= KB:
		return fmt.Sprintf("%.2f KB", float64(bytes)/KB)
	default:
		return fmt.Sprintf("%d bytes", bytes)
	}
}
