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
	"github.com/fmerge/fmerge/pkg/paths"
)

func BatchCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "batch [BASE]",
		Short: "Merge duplicates within each subdirectory of a base directory",
		Long: `For every subdirectory of BASE, scan its files, merge duplicates found
within that subdirectory and dump the surviving records to a cache file
inside it. Subdirectories whose cache file already exists are skipped,
so an interrupted run resumes where it left off.`,

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
		log := logger.GetLogger("batch")

		noti := notification.NewDiscordSender(log, config.Config.Notifications)

		base := args[0]

		segments, err := paths.Subdirectories(base)
		if err != nil {
			log.WithError(err).Fatalf("Failed listing subdirectories of: %q", base)
		}

		log.Infof("Found %d segment(s) in: %q", len(segments), base)

		accept := buildAcceptFunc(ctx, compileIgnoreFilters(log), log)
		merger := inodefile.NewMerger(log, mergerConfig())

		var (
			fields       []notification.Field
			totalFiles   int
			totalMerged  int
			totalFailed  int
			totalSkipped int
			totalBytes   int64
		)

		for _, segment := range segments {
			if err := ctx.Err(); err != nil {
				log.WithError(err).Warn("Batch interrupted")
				break
			}

			cachePath := filepath.Join(base, segment, config.Config.CacheName)
			if _, err := os.Stat(cachePath); err == nil {
				log.Infof("Skipping %s", segment)
				totalSkipped++
				continue
			}

			log.Info("-----")
			log.Infof("Scanning %s", segment)

			list := inodefile.NewList()
			if err := list.AddFiltered(filepath.Join(base, segment), accept); err != nil {
				log.WithError(err).Fatalf("Failed scanning segment: %q", segment)
			}

			scanned := list.Len()

			_, stats, err := merger.Merge(ctx, list)
			if err != nil {
				log.WithError(err).Errorf("Merge pass aborted in segment: %q", segment)
				break
			}

			totalFiles += scanned
			totalMerged += stats.Files
			totalFailed += stats.Failed
			totalBytes += stats.Bytes

			log.WithField("reclaimed_space", humanize.IBytes(uint64(stats.Bytes))).
				Infof("Merged %d of %d files in %s", stats.Files, scanned, segment)

			if stats.Files > 0 {
				fields = append(fields, noti.BuildField(notification.ActionBatch, notification.BuildOptions{
					Directory: segment,
					Files:     scanned,
					Merged:    stats.Files,
					Reclaimed: stats.Bytes,
				}))
			}

			if FlagDryRun {
				log.Warn("Dry-run enabled, not dumping cache...")
				continue
			}

			if err := list.Dump(cachePath); err != nil {
				log.WithError(err).Fatalf("Failed dumping cache: %q", cachePath)
			}
		}

		log.Info("-----")
		log.WithField("reclaimed_space", humanize.IBytes(uint64(totalBytes))).
			Infof("Batch merged %d of %d files with %d failures. Skipped %d already processed segment(s)",
				totalMerged, totalFiles, totalFailed, totalSkipped)

		if !noti.CanSend() {
			log.Debug("Notifications disabled, skipping...")
			return
		}

		sendErr := noti.Send(
			"Batch",
			fmt.Sprintf("Merged **%d** of **%d** files across **%d** segments | Total reclaimed **%s**",
				totalMerged, totalFiles, len(segments)-totalSkipped, humanize.IBytes(uint64(totalBytes))),
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
