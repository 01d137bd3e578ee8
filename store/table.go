package store

import (
	"bufio"
	"io"
	"os"

	"github.com/pkg/errors"

	"termchat/filelock"
)

const maxRecordLen = 1 << 20

// table is one flat record file, one record per line.
type table struct {
	path string
}

// view scans the records under a shared lock until fn returns false.
// A missing file is an empty table.
func (t table) view(fn func(line string) bool) error {
	f, err := os.Open(t.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "store: open %s", t.path)
	}
	defer f.Close()

	if err := filelock.Lock(f, filelock.Shared); err != nil {
		return errors.Wrap(err, "store")
	}
	defer filelock.Unlock(f)

	sc := newScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		if !fn(line) {
			return nil
		}
	}
	return errors.Wrapf(sc.Err(), "store: read %s", t.path)
}

// update runs one read-modify-rewrite transaction under an exclusive lock.
// fn receives every record and returns the new record set; the file is
// rewritten only when fn reports a change and returns no error.
func (t table) update(fn func(lines []string) ([]string, bool, error)) error {
	f, err := os.OpenFile(t.path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return errors.Wrapf(err, "store: open %s", t.path)
	}
	defer f.Close()

	if err := filelock.Lock(f, filelock.Exclusive); err != nil {
		return errors.Wrap(err, "store")
	}
	defer filelock.Unlock(f)

	var lines []string
	sc := newScanner(f)
	for sc.Scan() {
		if line := sc.Text(); line != "" {
			lines = append(lines, line)
		}
	}
	if err := sc.Err(); err != nil {
		return errors.Wrapf(err, "store: read %s", t.path)
	}

	next, changed, err := fn(lines)
	if err != nil || !changed {
		return err
	}

	return t.rewrite(f, next)
}

func (t table) rewrite(f *os.File, lines []string) error {
	if err := f.Truncate(0); err != nil {
		return errors.Wrapf(err, "store: truncate %s", t.path)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return errors.Wrapf(err, "store: seek %s", t.path)
	}

	w := bufio.NewWriter(f)
	for _, line := range lines {
		w.WriteString(line)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		return errors.Wrapf(err, "store: write %s", t.path)
	}
	return errors.Wrapf(f.Sync(), "store: sync %s", t.path)
}

// append adds one record at the end under an exclusive lock.
func (t table) append(line string) error {
	f, err := os.OpenFile(t.path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0644)
	if err != nil {
		return errors.Wrapf(err, "store: open %s", t.path)
	}
	defer f.Close()

	if err := filelock.Lock(f, filelock.Exclusive); err != nil {
		return errors.Wrap(err, "store")
	}
	defer filelock.Unlock(f)

	if _, err := f.WriteString(line + "\n"); err != nil {
		return errors.Wrapf(err, "store: write %s", t.path)
	}
	return errors.Wrapf(f.Sync(), "store: sync %s", t.path)
}

func newScanner(r io.Reader) *bufio.Scanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxRecordLen)
	return sc
}
