package main

import (
	"runtime"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"rpfix/pkg/config"
)

var (
	dryRun            bool
	verbose           bool
	workers           int
	configPath        string
	logFile           string
	strictDisks       bool
	allowTrailingData bool
	journalPath       string

	// settings is the configuration file merged with explicitly set flags.
	settings = config.Default()
)

func buildRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rpfix",
		Short: "Repair ZIP archives whose headers disagree with their contents",
		Long: `rpfix repairs ZIP archives, typically Minecraft resource packs, whose
stored CRC-32 values, sizes or local header offsets do not match the data
they describe. Every entry is re-validated and copied into a fresh archive
whose local headers, central directory and end record agree.

Commands:
  repair   Repair one archive into a new file
  batch    Repair every archive under a directory
  verify   Check archives with an independent zip reader
  inspect  Print the end record and central directory of an archive

Examples:
  # Preview what repair would change
  rpfix repair --dry-run pack.zip fixed.zip

  # Repair a pack, prompting for the paths
  rpfix repair

  # Repair every pack in a folder into ./resourcepacks/repaired
  rpfix batch ./resourcepacks

  # Confirm the result opens cleanly
  rpfix verify fixed.zip

Safety:
  The input archive is never modified. Output is written to a temporary
  file and renamed into place only after the whole archive was rebuilt.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadSettings(cmd.Flags())
			if err != nil {
				return err
			}
			settings = cfg
			return setupLogging(cfg.Logs, verbose)
		},
	}

	flags := cmd.PersistentFlags()
	flags.BoolVar(&dryRun, "dry-run", false, "Show what would be done without writing any archive")
	flags.BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	flags.IntVar(&workers, "workers", runtime.NumCPU(), "Number of parallel workers for hashing")
	flags.StringVar(&configPath, "config", "", "Path to a YAML configuration file")
	flags.StringVar(&logFile, "log-file", "", "Also write logs to this file, rotated by size")
	flags.BoolVar(&strictDisks, "strict-disks", false, "Reject archives that claim to span several disks")
	flags.BoolVar(&allowTrailingData, "allow-trailing-data", false, "Accept bytes after the archive comment")
	flags.StringVar(&journalPath, "journal", "", "Append a JSONL record of every repair to this file")

	return cmd
}

// loadSettings reads the configuration file and lets flags that were set on
// the command line override it.
func loadSettings(flags *pflag.FlagSet) (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, err
	}

	if flags.Changed("strict-disks") {
		cfg.IgnoreDiskNumbers = !strictDisks
	}
	if flags.Changed("allow-trailing-data") {
		cfg.AllowTrailingData = allowTrailingData
	}
	if flags.Changed("journal") {
		cfg.Journal = journalPath
	}
	if flags.Changed("log-file") {
		cfg.Logs.File = logFile
	}

	return cfg, nil
}
