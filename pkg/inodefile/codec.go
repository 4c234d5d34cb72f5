package inodefile

import (
	"bufio"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/scylladb/go-set/strset"
)

const (
	// fieldSeparator delimits fields within one serialized record. POSIX
	// paths can never contain a NUL byte, and newline bytes are rewritten
	// out of paths when records are built, so both line and field framing
	// are unambiguous.
	fieldSeparator = "\x00"

	// maxRecordLine bounds one serialized record when loading. Records
	// carrying very many paths still fit comfortably.
	maxRecordLine = 16 << 20
)

// Encode renders the record as a single line: inode, size, the three
// digest fields and every path, separated by NUL bytes. Digests never
// computed are encoded as empty fields and round-trip as uncomputed.
func (f *File) Encode() string {
	fields := make([]string, 0, 5+f.paths.Size())
	fields = append(fields,
		strconv.FormatUint(f.inode, 10),
		strconv.FormatInt(f.size, 10),
		f.prefixHash,
		f.md5sum,
		f.sha1sum,
	)
	fields = append(fields, f.paths.List()...)

	return strings.Join(fields, fieldSeparator)
}

// Parse restores a record from its Encode form without touching the
// filesystem.
func Parse(line string) (*File, error) {
	fields := strings.Split(line, fieldSeparator)
	if len(fields) < 6 {
		return nil, errors.Errorf("corrupt record: %d fields", len(fields))
	}

	inode, err := strconv.ParseUint(fields[0], 10, 64)
	if err != nil {
		return nil, errors.Wrap(err, "corrupt record: inode")
	}

	size, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return nil, errors.Wrap(err, "corrupt record: size")
	}

	f := &File{
		inode:      inode,
		size:       size,
		prefixHash: fields[2],
		md5sum:     fields[3],
		sha1sum:    fields[4],
		paths:      strset.New(),
	}

	for _, path := range fields[5:] {
		if path == "" {
			return nil, errors.New("corrupt record: empty path")
		}
		f.paths.Add(path)
	}

	return f, nil
}

// Dump writes every live record as one line each, in the current order,
// creating or truncating path.
func (l *List) Dump(path string) error {
	file, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "create dump %q", path)
	}

	w := bufio.NewWriter(file)
	for _, inode := range l.order {
		f := l.files[inode]
		if !f.Live() {
			continue
		}

		if _, err := w.WriteString(f.Encode() + "\n"); err != nil {
			file.Close()
			return errors.Wrapf(err, "write dump %q", path)
		}
	}

	if err := w.Flush(); err != nil {
		file.Close()
		return errors.Wrapf(err, "flush dump %q", path)
	}

	return file.Close()
}

// Load reads a dump produced by Dump. Records are inserted keyed by
// inode without the merge-on-insert fold; a dump holds each inode at
// most once, and loading must not depend on the dumped files still
// being present. A corrupt line aborts the load.
func (l *List) Load(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open dump %q", path)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), maxRecordLine)

	for scanner.Scan() {
		f, err := Parse(scanner.Text())
		if err != nil {
			return errors.Wrapf(err, "load dump %q", path)
		}
		l.push(f)
	}

	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "read dump %q", path)
	}

	return nil
}
