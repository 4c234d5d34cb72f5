package inodefile

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fmerge/fmerge/pkg/logger"
)

// writeFile creates a file with the given content and returns its path
func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestNew(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "sample.txt", "hello world")

	f, err := New(path)
	require.NoError(t, err)

	assert.NotZero(t, f.Inode())
	assert.Equal(t, int64(11), f.Size())
	assert.Equal(t, path, f.Path())
	assert.Equal(t, 1, f.PathCount())
	assert.True(t, f.Live())
	assert.Nil(t, f.MergedInto())
}

func TestNew_Missing(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "no-such-file"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNew_NotRegular(t *testing.T) {
	dir := t.TempDir()

	// a directory is not a regular file
	_, err := New(dir)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotRegularFile)

	// neither is a symlink, which must not be followed
	target := writeFile(t, dir, "target.txt", "data")
	link := filepath.Join(dir, "link.txt")
	require.NoError(t, os.Symlink(target, link))

	_, err = New(link)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotRegularFile)
}

func TestFile_AddPath(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "a.txt", "shared content")

	hardlink := filepath.Join(dir, "b.txt")
	require.NoError(t, os.Link(path, hardlink))

	other := writeFile(t, dir, "other.txt", "different file")

	f, err := New(path)
	require.NoError(t, err)

	// a hardlink of the same inode is accepted
	added, err := f.AddPath(hardlink)
	require.NoError(t, err)
	assert.True(t, added)
	assert.Equal(t, 2, f.PathCount())
	assert.ElementsMatch(t, []string{path, hardlink}, f.Paths())

	// a path resolving to another inode is rejected without mutation
	added, err = f.AddPath(other)
	require.NoError(t, err)
	assert.False(t, added)
	assert.Equal(t, 2, f.PathCount())

	// a missing path reports not found
	_, err = f.AddPath(filepath.Join(dir, "gone.txt"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFile_AddFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "a.txt", "shared content")

	hardlink := filepath.Join(dir, "b.txt")
	require.NoError(t, os.Link(path, hardlink))

	f, err := New(path)
	require.NoError(t, err)

	same, err := New(hardlink)
	require.NoError(t, err)

	added, err := f.AddFile(same)
	require.NoError(t, err)
	assert.True(t, added)
	assert.ElementsMatch(t, []string{path, hardlink}, f.Paths())

	// a record of a different inode is never folded
	other, err := New(writeFile(t, dir, "other.txt", "different file"))
	require.NoError(t, err)

	added, err = f.AddFile(other)
	require.NoError(t, err)
	assert.False(t, added)
	assert.Equal(t, 2, f.PathCount())
}

func TestFile_AddFile_StalePath(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "a.txt", "shared content")

	f, err := New(path)
	require.NoError(t, err)

	// a restored record claiming this inode for a path that now belongs
	// to a different file must be rejected
	otherPath := writeFile(t, dir, "other.txt", "impostor content")
	stale, err := Parse(fmt.Sprintf("%d\x00%d\x00\x00\x00\x00%s", f.Inode(), f.Size(), otherPath))
	require.NoError(t, err)

	added, err := f.AddFile(stale)
	require.NoError(t, err)
	assert.False(t, added)
	assert.Equal(t, 1, f.PathCount())
}

func TestFile_Hashes(t *testing.T) {
	dir := t.TempDir()

	// small file, shorter than one hash chunk
	small, err := New(writeFile(t, dir, "small.txt", "foobar"))
	require.NoError(t, err)

	prefix, err := small.PrefixHash()
	require.NoError(t, err)
	assert.Equal(t, "3858f62230ac3c915f300c664312c63f", prefix)

	md5sum, err := small.MD5Sum()
	require.NoError(t, err)
	assert.Equal(t, "3858f62230ac3c915f300c664312c63f", md5sum)

	sha1sum, err := small.SHA1Sum()
	require.NoError(t, err)
	assert.Equal(t, "8843d7f92416211de9ebb963ff4ce28125932878", sha1sum)

	// file spanning many chunks, prefix and full digests diverge
	big, err := New(writeFile(t, dir, "big.txt", strings.Repeat("I am a big file\n", 1280)))
	require.NoError(t, err)

	prefix, err = big.PrefixHash()
	require.NoError(t, err)
	assert.Equal(t, "65dfc2296533ce7d59674f57c3432e49", prefix)

	md5sum, err = big.MD5Sum()
	require.NoError(t, err)
	assert.Equal(t, "1ff3f95f646c6dc500d341fd0ebab380", md5sum)

	sha1sum, err = big.SHA1Sum()
	require.NoError(t, err)
	assert.Equal(t, "a13a2fa71f9eef222ab05611a63a0a7219b6ec24", sha1sum)
}

func TestHashContent_ShortReads(t *testing.T) {
	content := strings.Repeat("I am a big file\n", 1280)

	// a reader delivering one byte per call still fills the exact
	// prefix window
	prefix := md5.New()
	err := hashContent(context.Background(), prefix, iotest.OneByteReader(strings.NewReader(content)), true)
	require.NoError(t, err)
	assert.Equal(t, "65dfc2296533ce7d59674f57c3432e49", hex.EncodeToString(prefix.Sum(nil)))

	// content ending before the window is hashed as far as it goes
	short := md5.New()
	err = hashContent(context.Background(), short, iotest.OneByteReader(strings.NewReader("foobar")), true)
	require.NoError(t, err)
	assert.Equal(t, "3858f62230ac3c915f300c664312c63f", hex.EncodeToString(short.Sum(nil)))

	// the full digest drains the reader regardless of read granularity
	full := md5.New()
	err = hashContent(context.Background(), full, iotest.OneByteReader(strings.NewReader(content)), false)
	require.NoError(t, err)
	assert.Equal(t, "1ff3f95f646c6dc500d341fd0ebab380", hex.EncodeToString(full.Sum(nil)))
}

func TestFile_Hashes_Cached(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "cached.txt", "foobar")

	f, err := New(path)
	require.NoError(t, err)

	first, err := f.MD5Sum()
	require.NoError(t, err)

	// rewriting the content must not change the already-computed digest
	require.NoError(t, os.WriteFile(path, []byte("changed"), 0644))

	second, err := f.MD5Sum()
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestFile_Hashes_Unreadable(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "gone.txt", "foobar")

	f, err := New(path)
	require.NoError(t, err)
	require.NoError(t, os.Remove(path))

	_, err = f.PrefixHash()
	require.Error(t, err)
}

func TestFile_Equal(t *testing.T) {
	dir := t.TempDir()

	a, err := New(writeFile(t, dir, "a.txt", "foo"))
	require.NoError(t, err)

	hardlink := filepath.Join(dir, "a2.txt")
	require.NoError(t, os.Link(a.Path(), hardlink))
	sameInode, err := New(hardlink)
	require.NoError(t, err)

	b, err := New(writeFile(t, dir, "b.txt", "bar"))
	require.NoError(t, err)

	c, err := New(writeFile(t, dir, "c.txt", "longer"))
	require.NoError(t, err)

	// same inode is always equal
	assert.True(t, a.Equal(sameInode))

	// equal size with no digests computed is plausibly equal
	assert.True(t, a.Equal(b))

	// a digest cached on one side only never decides
	_, err = a.PrefixHash()
	require.NoError(t, err)
	assert.True(t, a.Equal(b))

	// cached on both sides it does
	_, err = b.PrefixHash()
	require.NoError(t, err)
	assert.False(t, a.Equal(b))

	// size differences are decided without any hashing
	assert.False(t, a.Equal(c))
	assert.Empty(t, c.cachedDigest(AttrPrefixHash))
}

func TestFile_Equal_Tombstone(t *testing.T) {
	dir := t.TempDir()
	log := logger.GetLogger("test")

	base, err := New(writeFile(t, dir, "base.txt", "identical"))
	require.NoError(t, err)

	dup, err := New(writeFile(t, dir, "dup.txt", "identical"))
	require.NoError(t, err)

	assert.True(t, base.Equal(dup))

	base.Merge(dup, log)

	// tombstoned records compare unequal to everything
	assert.False(t, base.Equal(dup))
	assert.False(t, dup.Equal(base))
	assert.False(t, dup.Equal(dup))
}

func TestFile_Merge(t *testing.T) {
	dir := t.TempDir()
	log := logger.GetLogger("test")

	basePath := writeFile(t, dir, "base.txt", "identical content")
	dupPath := writeFile(t, dir, "dup.txt", "identical content")
	dupLink := filepath.Join(dir, "dup2.txt")
	require.NoError(t, os.Link(dupPath, dupLink))

	base, err := New(basePath)
	require.NoError(t, err)

	dup, err := New(dupPath)
	require.NoError(t, err)
	added, err := dup.AddPath(dupLink)
	require.NoError(t, err)
	require.True(t, added)

	out := base.Merge(dup, log)
	assert.Equal(t, 2, out.Moved)
	assert.Equal(t, 0, out.Failed)

	// every path now resolves to the base inode
	baseInfo, err := os.Lstat(basePath)
	require.NoError(t, err)
	for _, path := range []string{dupPath, dupLink} {
		info, err := os.Lstat(path)
		require.NoError(t, err)
		assert.True(t, os.SameFile(baseInfo, info), "expected %q relinked onto base", path)
	}

	// the base owns all three paths, the duplicate is a tombstone
	assert.Equal(t, 3, base.PathCount())
	assert.False(t, dup.Live())
	assert.Same(t, base, dup.MergedInto())

	// no backup files left behind
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, entry := range entries {
		assert.False(t, strings.HasSuffix(entry.Name(), BackupSuffix), "leftover backup %q", entry.Name())
	}
}

func TestFile_Merge_PartialFailure(t *testing.T) {
	dir := t.TempDir()
	log := logger.GetLogger("test")

	basePath := writeFile(t, dir, "base.txt", "identical content")
	dupPath := writeFile(t, dir, "dup.txt", "identical content")
	ghostPath := filepath.Join(dir, "ghost.txt")

	base, err := New(basePath)
	require.NoError(t, err)

	dupReal, err := New(dupPath)
	require.NoError(t, err)

	// a restored record carrying one live path and one that no longer
	// exists: the live path relinks, the missing one fails its rename
	dup, err := Parse(fmt.Sprintf("%d\x00%d\x00\x00\x00\x00%s\x00%s",
		dupReal.Inode(), dupReal.Size(), dupPath, ghostPath))
	require.NoError(t, err)

	out := base.Merge(dup, log)
	assert.Equal(t, 1, out.Moved)
	assert.Equal(t, 1, out.Failed)

	baseInfo, err := os.Lstat(basePath)
	require.NoError(t, err)
	dupInfo, err := os.Lstat(dupPath)
	require.NoError(t, err)
	assert.True(t, os.SameFile(baseInfo, dupInfo))

	// tombstoned despite the partial failure
	assert.False(t, dup.Live())
}

func TestSanitizePath(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		expected string
	}{
		{"clean", "/data/a.txt", "/data/a.txt"},
		{"newline", "/data/a\nb.txt", "/data/a?b.txt"},
		{"carriage return", "/data/a\rb.txt", "/data/a?b.txt"},
		{"nul byte", "/data/a\x00b.txt", "/data/a?b.txt"},
		{"invalid utf8", "/data/a\xffb.txt", "/data/a?b.txt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, sanitizePath(tt.path))
		})
	}
}

func TestFile_String(t *testing.T) {
	dir := t.TempDir()
	log := logger.GetLogger("test")

	base, err := New(writeFile(t, dir, "base.txt", "identical"))
	require.NoError(t, err)

	dup, err := New(writeFile(t, dir, "dup.txt", "identical"))
	require.NoError(t, err)

	assert.Contains(t, dup.String(), "dup.txt")

	base.Merge(dup, log)
	assert.Contains(t, dup.String(), "merged into")
}
