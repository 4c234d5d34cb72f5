package cmd

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/fmerge/fmerge/pkg/config"
	"github.com/fmerge/fmerge/pkg/expression"
	"github.com/fmerge/fmerge/pkg/inodefile"
	"github.com/fmerge/fmerge/pkg/logger"
	"github.com/fmerge/fmerge/pkg/paths"
	"github.com/fmerge/fmerge/pkg/runtime"
)

var (
	// Global flags
	FlagLogLevel     = 0
	FlagConfigFile   = "config.yaml"
	FlagConfigFolder = config.GetDefaultConfigDirectory("fmerge", FlagConfigFile)
	FlagLogFile      = "activity.log"

	FlagDryRun bool

	// Global vars
	initialized bool
)

// initCore wires config and logging for a command run.
func initCore(showAppInfo bool) {
	// Init Config
	configFilePath := filepath.Join(FlagConfigFolder, FlagConfigFile)
	if err := config.Init(configFilePath); err != nil {
		logger.GetLogger("cfg").WithError(err).Fatal("Failed initializing config")
	}

	// Init Log
	logFilePath := filepath.Join(FlagConfigFolder, FlagLogFile)
	if err := logger.Init(FlagLogLevel, logFilePath); err != nil {
		logger.GetLogger("log").WithError(err).Fatal("Failed initializing logger")
	}

	// Show Using
	if showAppInfo {
		showUsing()
	}
}

func showUsing() {
	log := logger.GetLogger("app")
	log.Infof("Using fmerge %s (%s@%s)", runtime.Version, runtime.GitCommit, runtime.Timestamp)
	log.Infof("Using config: %q", filepath.Join(FlagConfigFolder, FlagConfigFile))
	log.Infof("Using log: %q", filepath.Join(FlagConfigFolder, FlagLogFile))
}

// compileIgnoreFilters compiles the configured ignore filter expressions.
func compileIgnoreFilters(log *logrus.Entry) []expression.CompiledExpression {
	exprs, err := expression.Compile(config.Config.Filters.Ignore)
	if err != nil {
		log.WithError(err).Fatal("Failed compiling ignore filters")
	}

	if len(exprs) > 0 {
		log.Debugf("Compiled %d ignore filter(s)", len(exprs))
	}

	return exprs
}

// buildAcceptFunc turns compiled ignore filters into a scan accept
// callback. Without filters it returns nil so walks skip evaluation
// entirely. The callback runs from parallel walkers; each call builds
// its own evaluation environment.
func buildAcceptFunc(ctx context.Context, exprs []expression.CompiledExpression, log *logrus.Entry) paths.AcceptFunc {
	if len(exprs) == 0 {
		return nil
	}

	return func(path string, info os.FileInfo) bool {
		match, reason, err := expression.CheckFileSingleMatchWithReason(ctx, expression.NewFile(path, info), exprs)
		if err != nil {
			log.WithError(err).Warnf("Failed evaluating ignore filters, keeping: %q", path)
			return true
		}

		if match {
			log.Debugf("Ignoring %q: %s", path, reason)
			return false
		}

		return true
	}
}

// numericSubdirectories returns the all-digit subdirectory names of base
// sorted by numeric value, so "10" follows "9" instead of "1".
func numericSubdirectories(base string) ([]string, error) {
	dirs, err := paths.Subdirectories(base)
	if err != nil {
		return nil, err
	}

	numeric := make(map[string]uint64)
	segments := make([]string, 0, len(dirs))
	for _, dir := range dirs {
		value, err := strconv.ParseUint(dir, 10, 64)
		if err != nil {
			continue
		}
		numeric[dir] = value
		segments = append(segments, dir)
	}

	sort.Slice(segments, func(i, j int) bool {
		return numeric[segments[i]] < numeric[segments[j]]
	})

	return segments, nil
}

// mergerConfig assembles engine tunables from global config and the
// dry-run flag.
func mergerConfig() inodefile.MergerConfig {
	return inodefile.MergerConfig{
		MinSize:   config.Config.MinimumSize,
		Workers:   config.Config.Workers,
		DryRun:    FlagDryRun,
		RateLimit: config.Config.RateLimit,
	}
}
