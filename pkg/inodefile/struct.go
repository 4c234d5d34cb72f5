package inodefile

import (
	"errors"
	"strings"

	"github.com/scylladb/go-set/strset"
)

var (
	// ErrNotFound is returned when a path or inode is not present.
	ErrNotFound = errors.New("not found")
	// ErrNotRegularFile is returned when a path points at a directory,
	// symlink or special file where a regular file is required.
	ErrNotRegularFile = errors.New("not a regular file")
)

// BackupSuffix is appended to a path while it is relinked. A leftover
// backup file indicates an interrupted or partially failed merge.
const BackupSuffix = ".fmerge-bu"

// hashChunkSize is the read granularity for content hashing. The prefix
// digest covers exactly the first chunk.
const hashChunkSize = 1280

// Attribute identifies a comparable property of a File used for sorting
// and grouping.
type Attribute int

const (
	AttrSize Attribute = iota
	AttrPrefixHash
	AttrMD5
	AttrSHA1
)

func (a Attribute) String() string {
	switch a {
	case AttrSize:
		return "size"
	case AttrPrefixHash:
		return "prefix_md5"
	case AttrMD5:
		return "md5"
	case AttrSHA1:
		return "sha1"
	}
	return "unknown"
}

// File tracks one physical file by inode. All hardlinked paths that were
// seen for the inode are collected on the same record, so the record and
// not the path is the unit of deduplication.
//
// Inode numbers are only unique within a single filesystem. A File must
// never be compared or merged across filesystem boundaries.
type File struct {
	inode uint64
	size  int64
	paths *strset.Set

	// hex digests, computed on first use and cached for the lifetime
	// of the record. An empty string means not yet computed.
	prefixHash string
	md5sum     string
	sha1sum    string

	// mergedInto tombstones the record once its paths were relinked
	// onto another record.
	mergedInto *File
}

// Inode returns the immutable identity of the record.
func (f *File) Inode() uint64 {
	return f.inode
}

// Size returns the byte length captured when the record was built.
func (f *File) Size() int64 {
	return f.size
}

// Path returns one of the paths linked to the inode, without preference.
func (f *File) Path() string {
	var path string
	f.paths.Each(func(p string) bool {
		path = p
		return false
	})
	return path
}

// Paths returns all known paths of the record.
func (f *File) Paths() []string {
	return f.paths.List()
}

// PathCount returns the number of known paths of the record.
func (f *File) PathCount() int {
	return f.paths.Size()
}

// Live reports whether the record still owns its paths. A record stops
// being live once it was merged into another record.
func (f *File) Live() bool {
	return f.mergedInto == nil
}

// MergedInto returns the record this one was merged into, or nil while
// the record is live.
func (f *File) MergedInto() *File {
	return f.mergedInto
}

func (f *File) String() string {
	if f.mergedInto != nil {
		return "merged into " + f.mergedInto.String()
	}
	return "[" + strings.Join(f.paths.List(), ", ") + "]"
}
