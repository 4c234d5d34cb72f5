package inodefile

import (
	"context"
	"crypto/md5"
	"crypto/sha1"
	"encoding/hex"
	"hash"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/scylladb/go-set/strset"
	"github.com/sirupsen/logrus"
)

// New builds a record for the regular file at path. Symlinks are not
// followed. The stored path goes through encoding recovery, see AddPath.
func New(path string) (*File, error) {
	info, err := os.Lstat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, errors.Wrapf(ErrNotFound, "stat %q", path)
		}
		return nil, errors.Wrapf(err, "stat %q", path)
	}

	return newFromInfo(path, info)
}

// newFromInfo builds a record from an already-stated path, reusing the
// FileInfo a directory walk collected.
func newFromInfo(path string, info os.FileInfo) (*File, error) {
	if !info.Mode().IsRegular() {
		return nil, errors.Wrapf(ErrNotRegularFile, "%q", path)
	}

	inode, err := inodeByInfo(path, info)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve inode for %q", path)
	}

	f := &File{
		inode: inode,
		size:  info.Size(),
		paths: strset.New(),
	}

	if err := f.storePath(path); err != nil {
		return nil, err
	}

	return f, nil
}

// AddPath records path on the record after verifying with a fresh stat
// that it still resolves to this inode. On a mismatch it reports false
// and mutates nothing.
func (f *File) AddPath(path string) (bool, error) {
	inode, err := inodeByPath(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, errors.Wrapf(ErrNotFound, "stat %q", path)
		}
		return false, err
	}

	if inode != f.inode {
		return false, nil
	}

	if err := f.storePath(path); err != nil {
		return false, err
	}

	return true, nil
}

// AddFile folds another record for the same inode into this one. Every
// path of other is re-stated first, since records restored from a dump
// can carry stale inode numbers. On any mismatch nothing is merged.
func (f *File) AddFile(other *File) (bool, error) {
	if other.inode != f.inode {
		return false, nil
	}

	for _, path := range other.Paths() {
		inode, err := inodeByPath(path)
		if err != nil {
			return false, err
		}
		if inode != f.inode {
			return false, nil
		}
	}

	f.paths.Merge(other.paths)
	return true, nil
}

// storePath adds path to the record, first renaming it on disk when it
// contains bytes the line codec cannot carry (NUL or newline bytes,
// invalid UTF-8).
func (f *File) storePath(path string) error {
	sanitized := sanitizePath(path)
	if sanitized != path {
		if err := os.Rename(path, sanitized); err != nil {
			return errors.Wrapf(err, "rename unencodable path %q", path)
		}
		log.Warnf("Renamed unencodable path %q -> %q", path, sanitized)
		path = sanitized
	}

	f.paths.Add(path)
	return nil
}

func sanitizePath(path string) string {
	s := strings.ToValidUTF8(path, "?")
	return strings.Map(func(r rune) rune {
		switch r {
		case '\x00', '\n', '\r':
			return '?'
		}
		return r
	}, s)
}

// Equal reports whether both records plausibly reference identical
// content. Only digests already computed on both sides take part in the
// comparison; Equal itself never reads file content. Tombstoned records
// compare unequal to everything.
func (f *File) Equal(other *File) bool {
	if !f.Live() || !other.Live() {
		return false
	}
	if f.inode == other.inode {
		return true
	}
	if f.size != other.size {
		return false
	}
	if f.prefixHash != "" && other.prefixHash != "" && f.prefixHash != other.prefixHash {
		return false
	}
	if f.md5sum != "" && other.md5sum != "" && f.md5sum != other.md5sum {
		return false
	}
	if f.sha1sum != "" && other.sha1sum != "" && f.sha1sum != other.sha1sum {
		return false
	}
	return true
}

// PrefixHash returns the MD5 digest of the file's leading 1280 bytes,
// computed on first use and cached for the record's lifetime.
func (f *File) PrefixHash() (string, error) {
	return f.hashAttr(context.Background(), AttrPrefixHash)
}

// MD5Sum returns the MD5 digest of the whole content, computed on first
// use and cached.
func (f *File) MD5Sum() (string, error) {
	return f.hashAttr(context.Background(), AttrMD5)
}

// SHA1Sum returns the SHA1 digest of the whole content, computed on first
// use and cached.
func (f *File) SHA1Sum() (string, error) {
	return f.hashAttr(context.Background(), AttrSHA1)
}

// hashAttr returns the cached digest for attr, computing it when absent.
func (f *File) hashAttr(ctx context.Context, attr Attribute) (string, error) {
	switch attr {
	case AttrPrefixHash:
		if f.prefixHash == "" {
			digest, err := f.digest(ctx, md5.New(), true)
			if err != nil {
				return "", err
			}
			f.prefixHash = digest
		}
		return f.prefixHash, nil

	case AttrMD5:
		if f.md5sum == "" {
			digest, err := f.digest(ctx, md5.New(), false)
			if err != nil {
				return "", err
			}
			f.md5sum = digest
		}
		return f.md5sum, nil

	case AttrSHA1:
		if f.sha1sum == "" {
			digest, err := f.digest(ctx, sha1.New(), false)
			if err != nil {
				return "", err
			}
			f.sha1sum = digest
		}
		return f.sha1sum, nil
	}

	return "", errors.Errorf("attribute %s is not hashable", attr)
}

// cachedDigest returns the digest for attr already held on the record, or
// the empty string when it was never computed.
func (f *File) cachedDigest(attr Attribute) string {
	switch attr {
	case AttrPrefixHash:
		return f.prefixHash
	case AttrMD5:
		return f.md5sum
	case AttrSHA1:
		return f.sha1sum
	}
	return ""
}

// digest streams the file through h in fixed-size chunks. With
// prefixOnly only the leading chunk is hashed.
func (f *File) digest(ctx context.Context, h hash.Hash, prefixOnly bool) (string, error) {
	path := f.Path()

	file, err := os.Open(path)
	if err != nil {
		return "", errors.Wrapf(err, "open %q for hashing", path)
	}
	defer file.Close()

	if err := hashContent(ctx, h, file, prefixOnly); err != nil {
		return "", errors.Wrapf(err, "read %q for hashing", path)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// hashContent drains r into h in fixed-size chunks, observing ctx
// between reads so a cancelled pass stops promptly. With prefixOnly it
// consumes exactly one chunk, retrying short reads until the chunk is
// full or r ends early.
func hashContent(ctx context.Context, h hash.Hash, r io.Reader, prefixOnly bool) error {
	buf := make([]byte, hashChunkSize)

	if prefixOnly {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, err := io.ReadFull(r, buf)
		if n > 0 {
			h.Write(buf[:n])
		}
		if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
			return err
		}
		return nil
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, err := r.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// MergeOutcome reports the per-path results of merging one record into
// another.
type MergeOutcome struct {
	Moved  int
	Failed int
}

// Merge relinks every path of other onto f, one path at a time: the path
// is renamed to a backup, a hardlink to f is created in its place and the
// backup is removed. Failing paths are warned about and skipped, never
// retried. other must be live and is tombstoned afterwards even when some
// of its paths could not be relinked.
func (f *File) Merge(other *File, log *logrus.Entry) MergeOutcome {
	var out MergeOutcome

	for _, path := range other.Paths() {
		backup := path + BackupSuffix

		if err := os.Rename(path, backup); err != nil {
			log.WithError(err).Warnf("No rights for %q, skipping", path)
			out.Failed++
			continue
		}

		if err := os.Link(f.Path(), path); err != nil {
			log.WithError(err).Warnf("No rights for %q, skipping", path)
			// the path was moved aside already, move it back so no
			// visible path disappears
			if rerr := os.Rename(backup, path); rerr != nil {
				log.WithError(rerr).Warnf("Partial merge of %q, data kept at backup %q", path, backup)
			}
			out.Failed++
			continue
		}

		if err := os.Remove(backup); err != nil {
			log.WithError(err).Warnf("Failed removing backup %q, duplicate data remains", backup)
		}

		f.paths.Add(path)
		out.Moved++
	}

	other.mergedInto = f
	return out
}
