package bpindex

import (
	"bufio"
	"os"
	"strconv"

	"github.com/pkg/errors"
)

// InsertFromFile reads whitespace-separated decimal integers from the
// named file and inserts each as an int64 key with its identity record
// id. Duplicate keys are skipped.
func (t *BPlusTree) InsertFromFile(path string) error {
	return eachInt64(path, func(v int64) error {
		_, err := t.Insert(Int64Key(v), RIDFromInt64(v))
		return err
	})
}

// RemoveFromFile reads whitespace-separated decimal integers from the
// named file and removes each.
func (t *BPlusTree) RemoveFromFile(path string) error {
	return eachInt64(path, func(v int64) error {
		return t.Remove(Int64Key(v))
	})
}

func eachInt64(path string, fn func(v int64) error) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "open key file")
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Split(bufio.ScanWords)
	for sc.Scan() {
		v, err := strconv.ParseInt(sc.Text(), 10, 64)
		if err != nil {
			return errors.Wrapf(err, "bad key %q", sc.Text())
		}
		if err := fn(v); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil {
		return errors.Wrap(err, "read key file")
	}
	return nil
}
