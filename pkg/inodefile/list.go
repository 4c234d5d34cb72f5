package inodefile

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/fmerge/fmerge/pkg/logger"
	"github.com/fmerge/fmerge/pkg/paths"
)

var (
	log = logger.GetLogger("inodefile")
)

// List is an inode-keyed collection of records. Insertion order is
// preserved in a side index that can be stably resorted by record
// attributes. A List is not safe for concurrent mutation.
type List struct {
	files map[uint64]*File
	order []uint64
}

func NewList() *List {
	return &List{
		files: make(map[uint64]*File),
	}
}

// NewListFromPath builds a list by scanning a file or directory.
func NewListFromPath(path string) (*List, error) {
	l := NewList()
	if err := l.Add(path); err != nil {
		return nil, err
	}
	return l, nil
}

// LoadList builds a list from a dump file.
func LoadList(path string) (*List, error) {
	l := NewList()
	if err := l.Load(path); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *List) Len() int {
	return len(l.order)
}

func (l *List) String() string {
	return fmt.Sprintf("%d inode files", len(l.order))
}

// Get returns the record stored for inode.
func (l *List) Get(inode uint64) (*File, bool) {
	f, ok := l.files[inode]
	return f, ok
}

// Has reports whether a record with the same inode is present.
func (l *List) Has(f *File) bool {
	_, ok := l.files[f.inode]
	return ok
}

// At returns the record at the given position of the current order.
func (l *List) At(index int) *File {
	return l.files[l.order[index]]
}

// Each visits the records in the current order until fn returns false.
func (l *List) Each(fn func(*File) bool) {
	for _, inode := range l.order {
		if !fn(l.files[inode]) {
			return
		}
	}
}

// Files returns the records in the current order.
func (l *List) Files() []*File {
	files := make([]*File, 0, len(l.order))
	for _, inode := range l.order {
		files = append(files, l.files[inode])
	}
	return files
}

// push inserts or replaces a record directly, bypassing merge-on-insert.
// A replaced record keeps its position in the order.
func (l *List) push(f *File) {
	if _, ok := l.files[f.inode]; !ok {
		l.order = append(l.order, f.inode)
	}
	l.files[f.inode] = f
}

// Insert adds a record to the collection, folding it into an existing
// record with the same inode. Records failing the fold's stat
// verification are dropped with a warning.
func (l *List) Insert(f *File) {
	existing, ok := l.files[f.inode]
	if !ok {
		l.push(f)
		return
	}

	added, err := existing.AddFile(f)
	if err != nil {
		log.WithError(err).Warnf("Stale record for inode %d not folded", f.inode)
		return
	}
	if !added {
		log.Warnf("Record for inode %d no longer matches on disk, not folded", f.inode)
	}
}

// AddList inserts every record of other, folding duplicate inodes.
func (l *List) AddList(other *List) {
	other.Each(func(f *File) bool {
		l.Insert(f)
		return true
	})
}

// Add scans path into the collection. A directory is walked recursively
// and every regular file inserted. Irregular files are skipped with a
// diagnostic, as is a path that does not exist.
func (l *List) Add(path string) error {
	return l.AddFiltered(path, nil)
}

// AddFiltered is Add with an accept callback applied to every walked file.
func (l *List) AddFiltered(path string, accept paths.AcceptFunc) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return errors.Wrapf(err, "resolve %q", path)
	}

	info, err := os.Lstat(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			log.Debugf("File not found: %q", abs)
			return nil
		}
		return errors.Wrapf(err, "stat %q", abs)
	}

	switch {
	case info.IsDir():
		// walk callbacks arrive from parallel walkers
		var mu sync.Mutex
		return paths.WalkRegularFiles(abs, accept, func(p string, info os.FileInfo) {
			f, err := newFromInfo(p, info)
			if err != nil {
				log.WithError(err).Warnf("Failed building record, skipping: %q", p)
				return
			}

			mu.Lock()
			l.Insert(f)
			mu.Unlock()
		})

	case info.Mode().IsRegular():
		if accept != nil && !accept(abs, info) {
			log.Tracef("Skipping rejected path: %q", abs)
			return nil
		}

		f, err := newFromInfo(abs, info)
		if err != nil {
			return err
		}
		l.Insert(f)
		return nil

	default:
		log.Debugf("Non regular file not supported: %q", abs)
		return nil
	}
}

// Remove deletes the record stored for inode.
func (l *List) Remove(inode uint64) error {
	if _, ok := l.files[inode]; !ok {
		return errors.Wrapf(ErrNotFound, "inode %d", inode)
	}

	delete(l.files, inode)
	for i, o := range l.order {
		if o == inode {
			l.order = append(l.order[:i], l.order[i+1:]...)
			break
		}
	}

	return nil
}

// RemoveFile deletes the record with f's inode.
func (l *List) RemoveFile(f *File) error {
	return l.Remove(f.inode)
}

// RemoveList deletes every record of other from l. A missing inode
// fails the whole call before anything is removed, so l stays intact on
// error. The order index is rebuilt once at the end.
func (l *List) RemoveList(other *List) error {
	if other.Len() == 0 {
		return nil
	}

	for _, inode := range other.order {
		if _, ok := l.files[inode]; !ok {
			return errors.Wrapf(ErrNotFound, "inode %d", inode)
		}
	}

	for _, inode := range other.order {
		delete(l.files, inode)
	}

	order := l.order[:0]
	for _, inode := range l.order {
		if _, ok := l.files[inode]; ok {
			order = append(order, inode)
		}
	}
	l.order = order

	return nil
}

// PopLast removes and returns the record at the last position of the
// current order, or nil when the collection is empty.
func (l *List) PopLast() *File {
	if len(l.order) == 0 {
		return nil
	}

	inode := l.order[len(l.order)-1]
	l.order = l.order[:len(l.order)-1]

	f := l.files[inode]
	delete(l.files, inode)
	return f
}

// SortBy stably reorders the collection by the given attribute, size
// descending and digests ascending. Digests missing from records are
// computed on demand, one record at a time.
func (l *List) SortBy(attr Attribute) error {
	if attr == AttrSize {
		sort.SliceStable(l.order, func(i, j int) bool {
			return l.files[l.order[i]].size > l.files[l.order[j]].size
		})
		return nil
	}

	for _, inode := range l.order {
		if _, err := l.files[inode].hashAttr(context.Background(), attr); err != nil {
			return err
		}
	}

	sort.SliceStable(l.order, func(i, j int) bool {
		return l.files[l.order[i]].cachedDigest(attr) < l.files[l.order[j]].cachedDigest(attr)
	})

	return nil
}

// GroupBy sorts by attr and partitions the collection into maximal runs
// of records sharing the attribute value. Runs holding a single record
// are dropped, and for the size attribute so are runs at or below minSize
// bytes. The whole partition is materialized up front and the returned
// groups share record pointers with l.
func (l *List) GroupBy(attr Attribute, minSize int64) ([]*List, error) {
	if err := l.SortBy(attr); err != nil {
		return nil, err
	}

	same := func(a, b *File) bool {
		if attr == AttrSize {
			return a.size == b.size
		}
		return a.cachedDigest(attr) == b.cachedDigest(attr)
	}

	keep := func(group *List) bool {
		if group.Len() <= 1 {
			return false
		}
		if attr == AttrSize && group.At(0).size <= minSize {
			return false
		}
		return true
	}

	var groups []*List
	group := NewList()

	l.Each(func(f *File) bool {
		if group.Len() > 0 && !same(group.At(0), f) {
			if keep(group) {
				groups = append(groups, group)
			}
			group = NewList()
		}
		group.push(f)
		return true
	})

	if keep(group) {
		groups = append(groups, group)
	}

	return groups, nil
}

// TotalBytes sums the sizes of all live records. One inode counts once
// no matter how many paths it carries.
func (l *List) TotalBytes() int64 {
	var total int64
	for _, inode := range l.order {
		if f := l.files[inode]; f.Live() {
			total += f.size
		}
	}
	return total
}
