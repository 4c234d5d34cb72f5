package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/fmerge/fmerge/pkg/config"
	"github.com/fmerge/fmerge/pkg/inodefile"
	"github.com/fmerge/fmerge/pkg/logger"
	"github.com/fmerge/fmerge/pkg/notification"
)

func ConsolidateCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "consolidate [BASE]",
		Short: "Merge duplicates across all scanned subdirectory caches",
		Long: `Load the record cache of every all-digit subdirectory of BASE into one
collection and merge duplicates across all of them. Records already
hardlinked within a subdirectory collapse further when the same content
appears in other subdirectories. Caches are produced by scan or batch.`,

		Args: cobra.ExactArgs(1),
	}

	command.Run = func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		start := time.Now()

		// init core
		if !initialized {
			initCore(true)
			initialized = true
		}

		// set log
		log := logger.GetLogger("consolidate")

		noti := notification.NewDiscordSender(log, config.Config.Notifications)

		base := args[0]

		segments, err := numericSubdirectories(base)
		if err != nil {
			log.WithError(err).Fatalf("Failed listing subdirectories of: %q", base)
		}

		log.Infof("Found %d segment(s) in: %q", len(segments), base)

		// load every cache, folding records that share an inode across
		// segments into one entry
		all := inodefile.NewList()
		loaded := 0
		for _, segment := range segments {
			cachePath := filepath.Join(base, segment, config.Config.CacheName)
			if _, err := os.Stat(cachePath); err != nil {
				log.Warnf("No cache for segment %s, skipping", segment)
				continue
			}

			seg := inodefile.NewList()
			if err := seg.Load(cachePath); err != nil {
				log.WithError(err).Fatalf("Failed loading cache: %q", cachePath)
			}

			all.AddList(seg)
			loaded++

			log.Debugf("Loaded %s: %d records, %d total", segment, seg.Len(), all.Len())
		}

		log.Infof("Loaded %d records (%s) from %d cache(s)",
			all.Len(), humanize.IBytes(uint64(all.TotalBytes())), loaded)

		// merge
		merger := inodefile.NewMerger(log, mergerConfig())

		merged, stats, err := merger.Merge(ctx, all)
		if err != nil {
			log.WithError(err).Error("Merge pass aborted")
		}

		var fields []notification.Field
		merged.Each(func(f *inodefile.File) bool {
			base := f.MergedInto()
			if base == nil {
				return true
			}

			fields = append(fields, noti.BuildField(notification.ActionConsolidate, notification.BuildOptions{
				Base:      base.Path(),
				Size:      f.Size(),
				Relinked:  f.PathCount(),
				Reclaimed: f.Size(),
			}))
			return true
		})

		log.Info("-----")
		log.WithField("reclaimed_space", humanize.IBytes(uint64(stats.Bytes))).
			Infof("Consolidated %d groups: %d files, %d paths relinked and %d failures",
				stats.Groups, stats.Files, stats.Paths, stats.Failed)

		if !noti.CanSend() {
			log.Debug("Notifications disabled, skipping...")
			return
		}

		sendErr := noti.Send(
			"Consolidate",
			fmt.Sprintf("Merged **%d** duplicate files across **%d** segments | Total reclaimed **%s**",
				stats.Files, loaded, humanize.IBytes(uint64(stats.Bytes))),
			time.Since(start),
			fields,
			FlagDryRun,
		)
		if sendErr != nil {
			log.WithError(sendErr).Error("Failed sending notification")
		}
	}

	return command
}
