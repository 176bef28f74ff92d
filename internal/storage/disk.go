package storage

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

// Footprint is the on-disk size in bytes of named stores, e.g. "database",
// "vectors" and "keywords".
type Footprint map[string]int64

// Total sums every entry.
func (f Footprint) Total() int64 {
	var n int64
	for _, v := range f {
		n += v
	}
	return n
}

// MeasureFootprint sizes each path, summing directories recursively. Empty
// and missing paths count as zero; SQLite's -wal and -shm files are added to
// their database.
func MeasureFootprint(paths map[string]string) (Footprint, error) {
	out := make(Footprint, len(paths))
	for name, p := range paths {
		var total int64
		for _, candidate := range []string{p, p + "-wal", p + "-shm"} {
			if p == "" {
				break
			}
			n, err := pathSize(candidate)
			if err != nil {
				return nil, err
			}
			total += n
		}
		out[name] = total
	}
	return out, nil
}

func pathSize(p string) (int64, error) {
	info, err := os.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if !info.IsDir() {
		return info.Size(), nil
	}
	var total int64
	err = filepath.WalkDir(p, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		total += fi.Size()
		return nil
	})
	return total, err
}
