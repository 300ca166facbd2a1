package storage

import (
	"errors"
	"io/fs"
	"os"
)

// DiskUsage is the on-disk footprint of a SQLite database in WAL mode.
type DiskUsage struct {
	Main int64 `json:"main"`
	WAL  int64 `json:"wal"`
	SHM  int64 `json:"shm"`
}

// Total is the sum of all three files.
func (u DiskUsage) Total() int64 { return u.Main + u.WAL + u.SHM }

// MeasureDisk stats the database file and its -wal and -shm companions.
// Companions that do not exist count as zero; a missing main file is an error.
func MeasureDisk(dbPath string) (DiskUsage, error) {
	var u DiskUsage
	main, err := os.Stat(dbPath)
	if err != nil {
		return u, err
	}
	u.Main = main.Size()
	for suffix, dst := range map[string]*int64{"-wal": &u.WAL, "-shm": &u.SHM} {
		info, err := os.Stat(dbPath + suffix)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return u, err
		default:
			*dst = info.Size()
		}
	}
	return u, nil
}
