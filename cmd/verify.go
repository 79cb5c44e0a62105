package main

import (
	"errors"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"rpfix/pkg/usecase"
)

func buildVerifyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <archive>...",
		Short: "Check archives with an independent zip reader",
		Long: `Opens each archive with a zip reader that shares no code with the repair
path and checks that:
  - Every central directory offset points at a local file header
  - Local headers agree with the central directory
  - Every stored or deflated entry decompresses to its recorded CRC-32 and size

The command exits with an error when any archive has an issue.

Examples:
  rpfix verify pack.zip
  rpfix verify repaired/*.zip`,
		Args: cobra.MinimumNArgs(1),
		RunE: runVerify,
	}
}

func runVerify(cmd *cobra.Command, args []string) error {
	paths := make([]string, 0, len(args))
	for _, arg := range args {
		paths = append(paths, usecase.CleanPath(arg))
	}

	progress := startProgress()
	execution, err := newUseCaseService().RunVerify(commandContext(cmd), usecase.VerifyRequest{
		Paths:      paths,
		OnProgress: progress.Report,
	})
	progress.Stop()
	if err != nil {
		return err
	}

	for _, report := range execution.Reports {
		printVerifyReport(report)
	}

	failed := make([]string, 0, len(execution.Errors))
	for path := range execution.Errors {
		failed = append(failed, path)
	}
	sort.Strings(failed)
	for _, path := range failed {
		fmt.Printf("ERROR: %s: %v\n", path, execution.Errors[path])
	}

	if !execution.OK() {
		return errors.New("verification failed")
	}
	return nil
}
