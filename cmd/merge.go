package cmd

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/fmerge/fmerge/pkg/config"
	"github.com/fmerge/fmerge/pkg/inodefile"
	"github.com/fmerge/fmerge/pkg/logger"
	"github.com/fmerge/fmerge/pkg/notification"
)

func MergeCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "merge [PATH]...",
		Short: "Merge duplicate files under the given paths into hardlinks",
		Long: `Scan the given files and directories, find files with identical content
and consolidate each duplicate group into hardlinks of a single inode.`,

		Args: cobra.MinimumNArgs(1),
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
		log := logger.GetLogger("merge")

		noti := notification.NewDiscordSender(log, config.Config.Notifications)

		accept := buildAcceptFunc(ctx, compileIgnoreFilters(log), log)

		// scan
		list := inodefile.NewList()
		for _, path := range args {
			log.Infof("Scanning: %q", path)
			if err := list.AddFiltered(path, accept); err != nil {
				log.WithError(err).Fatalf("Failed scanning: %q", path)
			}
		}

		log.Infof("Scanned %d files (%s)", list.Len(), humanize.IBytes(uint64(list.TotalBytes())))

		// merge
		merger := inodefile.NewMerger(log, mergerConfig())

		merged, stats, err := merger.Merge(ctx, list)
		if err != nil {
			log.WithError(err).Error("Merge pass aborted")
		}

		// build notification fields from the merged records
		var fields []notification.Field
		merged.Each(func(f *inodefile.File) bool {
			base := f.MergedInto()
			if base == nil {
				return true
			}

			fields = append(fields, noti.BuildField(notification.ActionMerge, notification.BuildOptions{
				Base:      base.Path(),
				Size:      f.Size(),
				Relinked:  f.PathCount(),
				Reclaimed: f.Size(),
			}))
			return true
		})

		log.Info("-----")
		log.WithField("reclaimed_space", humanize.IBytes(uint64(stats.Bytes))).
			Infof("Merged %d groups: %d files, %d paths relinked and %d failures",
				stats.Groups, stats.Files, stats.Paths, stats.Failed)

		if !noti.CanSend() {
			log.Debug("Notifications disabled, skipping...")
			return
		}

		sendErr := noti.Send(
			"Merge",
			fmt.Sprintf("Merged **%d** duplicate files into **%d** groups | Total reclaimed **%s**",
				stats.Files, stats.Groups, humanize.IBytes(uint64(stats.Bytes))),
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
