package paths

import (
	"io/fs"
	"os"

	"github.com/charlievieth/fastwalk"

	"github.com/fmerge/fmerge/pkg/logger"
)

/* Types */

// AcceptFunc decides whether a walked file takes part in a scan.
type AcceptFunc func(path string, info os.FileInfo) bool

/* Vars */

var (
	log = logger.GetLogger("pathutils")
)

/* Public */

// WalkRegularFiles walks folder recursively and calls fn for every regular
// file, skipping symlinks and special files with a diagnostic. Walkers run
// in parallel, so fn must be safe for concurrent use. Entries vanishing
// mid-walk are logged and skipped.
func WalkRegularFiles(folder string, acceptFn AcceptFunc, fn func(path string, info os.FileInfo)) error {
	conf := fastwalk.Config{
		Follow: false,
	}

	return fastwalk.Walk(&conf, folder, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			log.WithError(err).Warnf("Failed walking path, skipping: %q", path)
			return nil
		}

		if d.IsDir() {
			return nil
		}

		if !d.Type().IsRegular() {
			log.Debugf("Non regular file not supported, skipping: %q", path)
			return nil
		}

		info, err := d.Info()
		if err != nil {
			log.WithError(err).Warnf("Failed to get file info, skipping: %q", path)
			return nil
		}

		if acceptFn != nil && !acceptFn(path, info) {
			log.Tracef("Skipping rejected path: %q", path)
			return nil
		}

		fn(path, info)
		return nil
	})
}

// Subdirectories returns the names of the immediate subdirectories of
// folder, sorted lexically.
func Subdirectories(folder string) ([]string, error) {
	entries, err := os.ReadDir(folder)
	if err != nil {
		return nil, err
	}

	var dirs []string
	for _, entry := range entries {
		if entry.IsDir() {
			dirs = append(dirs, entry.Name())
		}
	}

	return dirs, nil
}
