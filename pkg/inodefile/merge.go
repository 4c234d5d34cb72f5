package inodefile

import (
	"context"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
	"go.uber.org/ratelimit"
)

// MergerConfig carries the tunables of a merge pass.
type MergerConfig struct {
	// MinSize is the byte floor for candidate groups. Size groups at or
	// below it are never considered.
	MinSize int64
	// Workers bounds parallel digest computation within a group. Values
	// below 2 hash sequentially.
	Workers int
	// DryRun partitions and reports but performs no filesystem mutation.
	DryRun bool
	// RateLimit caps record merges per second, 0 meaning unlimited.
	RateLimit int
}

// Stats summarizes one merge pass.
type Stats struct {
	// Groups is the number of equivalence groups merged.
	Groups int
	// Files is the number of records folded into their group's base.
	Files int
	// Paths is the number of paths relinked.
	Paths int
	// Failed is the number of paths left untouched after filesystem
	// errors.
	Failed int
	// Bytes is the reclaimed space. A record's size counts only when
	// every one of its paths was relinked.
	Bytes int64
}

// Merger deduplicates a collection by cascading comparisons from cheap
// to expensive: size first, then a digest of the leading bytes, then
// full MD5, then full SHA1. Records still grouped together after the
// last level hold identical content and are relinked onto one base.
type Merger struct {
	log     *logrus.Entry
	cfg     MergerConfig
	limiter ratelimit.Limiter
}

func NewMerger(log *logrus.Entry, cfg MergerConfig) *Merger {
	m := &Merger{
		log: log,
		cfg: cfg,
	}

	if cfg.RateLimit > 0 {
		m.limiter = ratelimit.New(cfg.RateLimit)
	} else {
		m.limiter = ratelimit.NewUnlimited()
	}

	return m
}

// Merge runs one deduplication pass over list. Folded records are
// tombstoned, removed from list and returned alongside the pass totals.
// The pass stops early when ctx is cancelled or a record's content turns
// unreadable; whatever was folded up to that point is still returned.
func (m *Merger) Merge(ctx context.Context, list *List) (*List, Stats, error) {
	merged := NewList()
	var stats Stats

	finish := func(err error) (*List, Stats, error) {
		if rerr := list.RemoveList(merged); rerr != nil && err == nil {
			err = rerr
		}
		return merged, stats, err
	}

	sizeGroups, err := list.GroupBy(AttrSize, m.cfg.MinSize)
	if err != nil {
		return finish(err)
	}

	for _, sizeGroup := range sizeGroups {
		if err := ctx.Err(); err != nil {
			return finish(err)
		}

		m.log.Tracef("Size group %s: %d records", humanize.IBytes(uint64(sizeGroup.At(0).Size())), sizeGroup.Len())

		if err := m.precompute(ctx, sizeGroup, AttrPrefixHash); err != nil {
			return finish(err)
		}
		prefixGroups, err := sizeGroup.GroupBy(AttrPrefixHash, 0)
		if err != nil {
			return finish(err)
		}

		for _, prefixGroup := range prefixGroups {
			if err := m.precompute(ctx, prefixGroup, AttrMD5); err != nil {
				return finish(err)
			}
			md5Groups, err := prefixGroup.GroupBy(AttrMD5, 0)
			if err != nil {
				return finish(err)
			}

			for _, md5Group := range md5Groups {
				if err := m.precompute(ctx, md5Group, AttrSHA1); err != nil {
					return finish(err)
				}
				sha1Groups, err := md5Group.GroupBy(AttrSHA1, 0)
				if err != nil {
					return finish(err)
				}

				for _, group := range sha1Groups {
					if err := ctx.Err(); err != nil {
						return finish(err)
					}

					m.mergeGroup(group, merged, &stats)
				}
			}
		}
	}

	return finish(nil)
}

// mergeGroup relinks every record in group onto the group's base, the
// record at the last position. In dry-run mode only the would-be totals
// are counted.
func (m *Merger) mergeGroup(group *List, merged *List, stats *Stats) {
	base := group.PopLast()
	if base == nil || group.Len() == 0 {
		return
	}

	stats.Groups++

	group.Each(func(other *File) bool {
		if m.cfg.DryRun {
			m.log.Infof("Dry-run: would merge %d path(s) of inode %d into %q", other.PathCount(), other.Inode(), base.Path())
			stats.Files++
			stats.Paths += other.PathCount()
			stats.Bytes += other.Size()
			return true
		}

		m.limiter.Take()

		outcome := base.Merge(other, m.log)
		stats.Files++
		stats.Paths += outcome.Moved
		stats.Failed += outcome.Failed
		if outcome.Failed == 0 {
			stats.Bytes += other.Size()
		}

		return true
	})

	if !m.cfg.DryRun {
		group.Each(func(f *File) bool {
			merged.push(f)
			return true
		})
	}
}

// precompute fills the digest cache for attr across every record of the
// group, fanning the file reads out over a bounded worker pool. Each
// record is touched by exactly one goroutine.
func (m *Merger) precompute(ctx context.Context, group *List, attr Attribute) error {
	if attr == AttrSize {
		return nil
	}

	if m.cfg.Workers < 2 || group.Len() < 2 {
		var err error
		group.Each(func(f *File) bool {
			_, err = f.hashAttr(ctx, attr)
			return err == nil
		})
		return err
	}

	workerSem := make(chan struct{}, m.cfg.Workers)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)

	group.Each(func(f *File) bool {
		wg.Add(1)
		workerSem <- struct{}{}

		go func(f *File) {
			defer func() {
				<-workerSem
				wg.Done()
			}()

			if _, err := f.hashAttr(ctx, attr); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
		}(f)

		return true
	})

	wg.Wait()
	return firstErr
}
