package cmd

import (
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/fmerge/fmerge/pkg/config"
	"github.com/fmerge/fmerge/pkg/inodefile"
	"github.com/fmerge/fmerge/pkg/logger"
)

func ScanCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "scan [BASE]",
		Short: "Scan numeric subdirectories into per-directory record caches",
		Long: `For every all-digit subdirectory of BASE, scan its files and dump the
records to a cache file inside the subdirectory. Subdirectories whose
cache file already exists are skipped, so an interrupted scan resumes
where it left off. No merging is performed.`,

		Args: cobra.ExactArgs(1),
	}

	command.Run = func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()

		// init core
		if !initialized {
			initCore(true)
			initialized = true
		}

		// set log
		log := logger.GetLogger("scan")

		base := args[0]

		segments, err := numericSubdirectories(base)
		if err != nil {
			log.WithError(err).Fatalf("Failed listing subdirectories of: %q", base)
		}

		log.Infof("Found %d segment(s) in: %q", len(segments), base)

		accept := buildAcceptFunc(ctx, compileIgnoreFilters(log), log)

		for _, segment := range segments {
			if err := ctx.Err(); err != nil {
				log.WithError(err).Warn("Scan interrupted")
				return
			}

			cachePath := filepath.Join(base, segment, config.Config.CacheName)
			if _, err := os.Stat(cachePath); err == nil {
				log.Infof("Skipping %s", segment)
				continue
			}

			log.Infof("Scanning %s", segment)

			list := inodefile.NewList()
			if err := list.AddFiltered(filepath.Join(base, segment), accept); err != nil {
				log.WithError(err).Fatalf("Failed scanning segment: %q", segment)
			}

			if FlagDryRun {
				log.Warnf("Dry-run enabled, not dumping %d records (%s)",
					list.Len(), humanize.IBytes(uint64(list.TotalBytes())))
				continue
			}

			if err := list.Dump(cachePath); err != nil {
				log.WithError(err).Fatalf("Failed dumping cache: %q", cachePath)
			}

			log.Infof("Dumped %d records (%s) to: %q",
				list.Len(), humanize.IBytes(uint64(list.TotalBytes())), cachePath)
		}
	}

	return command
}
