package cmd

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/fmerge/fmerge/pkg/inodefile"
	"github.com/fmerge/fmerge/pkg/logger"
)

const (
	collectDataName   = "fmerge.data"
	collectStatusName = "fmerge.status"
)

func CollectCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "collect [BASE]",
		Short: "Collect numeric subdirectories into a growing record checkpoint",
		Long: `Scan the all-digit subdirectories of BASE in numeric order into one
growing collection. After each subdirectory the collection is dumped to
a data checkpoint in BASE and the segment number is written to a status
marker, so an interrupted run resumes with the first uncollected
segment. No merging is performed.`,

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
		log := logger.GetLogger("collect")

		base := args[0]
		dataPath := filepath.Join(base, collectDataName)
		statusPath := filepath.Join(base, collectStatusName)

		segments, err := numericSubdirectories(base)
		if err != nil {
			log.WithError(err).Fatalf("Failed listing subdirectories of: %q", base)
		}

		log.Infof("Found %d segment(s) in: %q", len(segments), base)

		// resume from the status marker when one exists
		var (
			resumed bool
			done    uint64
		)
		if raw, err := os.ReadFile(statusPath); err == nil {
			parsed, perr := strconv.ParseUint(strings.TrimSpace(string(raw)), 10, 64)
			if perr != nil {
				log.WithError(perr).Fatalf("Failed parsing status marker: %q", statusPath)
			}

			resumed = true
			done = parsed
			log.Infof("Resuming after segment %d", done)
		}

		all := inodefile.NewList()
		if _, err := os.Stat(dataPath); err == nil {
			if err := all.Load(dataPath); err != nil {
				log.WithError(err).Fatalf("Failed loading checkpoint: %q", dataPath)
			}
			log.Infof("Loaded %d records from checkpoint", all.Len())
		}

		accept := buildAcceptFunc(ctx, compileIgnoreFilters(log), log)

		for _, segment := range segments {
			if err := ctx.Err(); err != nil {
				log.WithError(err).Warn("Collect interrupted")
				return
			}

			number, _ := strconv.ParseUint(segment, 10, 64)
			if resumed && number <= done {
				log.Debugf("Already collected, skipping: %s", segment)
				continue
			}

			log.Infof("Collecting %s", segment)

			if err := all.AddFiltered(filepath.Join(base, segment), accept); err != nil {
				log.WithError(err).Fatalf("Failed scanning segment: %q", segment)
			}

			if FlagDryRun {
				log.Warn("Dry-run enabled, not writing checkpoint...")
			} else {
				if err := all.Dump(dataPath); err != nil {
					log.WithError(err).Fatalf("Failed dumping checkpoint: %q", dataPath)
				}

				if err := os.WriteFile(statusPath, []byte(segment), 0644); err != nil {
					log.WithError(err).Fatalf("Failed writing status marker: %q", statusPath)
				}
			}

			log.Infof("Collected %s: %d records (%s) total",
				segment, all.Len(), humanize.IBytes(uint64(all.TotalBytes())))
		}

		log.Infof("Collection complete: %d records (%s)",
			all.Len(), humanize.IBytes(uint64(all.TotalBytes())))
	}

	return command
}
