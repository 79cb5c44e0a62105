package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"rpfix/pkg/usecase"
)

func buildInspectCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <archive>",
		Short: "Print the end record and central directory of an archive",
		Long: `Decodes an archive's end of central directory record, its Zip64 locator
when present, and every central directory entry, without reading any entry
data. Useful to see which recorded values a repair would have to fix.

Examples:
  rpfix inspect pack.zip
  rpfix inspect --allow-trailing-data pack.zip`,
		Args: cobra.ExactArgs(1),
		RunE: runInspect,
	}
}

func runInspect(_ *cobra.Command, args []string) error {
	execution, err := newUseCaseService().RunInspect(usecase.CleanPath(args[0]))
	if err != nil {
		return err
	}

	archive := execution.Archive
	printCommandHeader("INSPECT", execution.Path)
	fmt.Printf("Size: %s\n", formatBytes(execution.Size))
	fmt.Println()

	fmt.Printf("End of central directory at offset %d\n", archive.End.Offset)
	fmt.Println(archive.Record.String())
	if len(archive.End.Comment) > 0 {
		fmt.Printf("Comment          : %q\n", archive.End.Comment)
	}
	if archive.End.Locator != nil {
		fmt.Println()
		fmt.Printf("Zip64 locator at offset %d\n", archive.End.LocatorOffset)
		fmt.Println(archive.End.Locator.String())
	}
	if archive.BaseOffset != 0 {
		fmt.Printf("Prefix data      : %d bytes\n", archive.BaseOffset)
	}
	fmt.Println()

	fmt.Printf("%-8s %-8s %10s %10s %10s  %s\n", "METHOD", "CRC32", "COMPRESSED", "SIZE", "OFFSET", "NAME")
	for _, e := range archive.Entries {
		h := e.Header
		fmt.Printf("%-8s %-8s %10d %10d %10d  %s\n",
			methodLabel(h.CompressionMethod), crcLabel(h.CRC32),
			h.CompressedSize, h.UncompressedSize, h.LocalHeaderOffset, e.Name)
	}
	fmt.Println()

	printSummary(
		fmt.Sprintf("Entries:          %d", len(archive.Entries)),
		fmt.Sprintf("Directory start:  %d", archive.DirectoryStart()),
		fmt.Sprintf("Directory size:   %d", archive.Record.DirectorySize),
	)
	return nil
}
