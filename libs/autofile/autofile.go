package autofile

import (
	"os"
	"path/filepath"
	"sync"
)

const autoFilePerms = os.FileMode(0600)

// AutoFile is the append-only head file of a Group. The underlying *os.File
// is (re)opened lazily, so the group may close it for rotation and keep
// writing through the same AutoFile afterwards.
type AutoFile struct {
	Path string

	mtx  sync.Mutex
	file *os.File
}

// OpenAutoFile opens (creating if needed) the file at path in append mode.
func OpenAutoFile(path string) (*AutoFile, error) {
	path, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	af := &AutoFile{Path: path}
	if err := af.openFile(); err != nil {
		return nil, err
	}
	return af, nil
}

// Close closes the underlying file. A later Write reopens it.
func (af *AutoFile) Close() error {
	af.mtx.Lock()
	defer af.mtx.Unlock()

	return af.closeFile()
}

func (af *AutoFile) closeFile() error {
	file := af.file
	if file == nil {
		return nil
	}
	af.file = nil
	return file.Close()
}

// Write appends b to the file, opening it first if it was closed.
func (af *AutoFile) Write(b []byte) (int, error) {
	af.mtx.Lock()
	defer af.mtx.Unlock()

	if af.file == nil {
		if err := af.openFile(); err != nil {
			return 0, err
		}
	}
	return af.file.Write(b)
}

// Sync commits the current contents of the file to stable storage.
func (af *AutoFile) Sync() error {
	af.mtx.Lock()
	defer af.mtx.Unlock()

	if af.file == nil {
		if err := af.openFile(); err != nil {
			return err
		}
	}
	return af.file.Sync()
}

// Truncate cuts the file down to size bytes and syncs it. Later writes
// append after the new end.
func (af *AutoFile) Truncate(size int64) error {
	af.mtx.Lock()
	defer af.mtx.Unlock()

	if af.file == nil {
		if err := af.openFile(); err != nil {
			return err
		}
	}
	if err := af.file.Truncate(size); err != nil {
		return err
	}
	return af.file.Sync()
}

func (af *AutoFile) openFile() error {
	file, err := os.OpenFile(af.Path, os.O_RDWR|os.O_CREATE|os.O_APPEND, autoFilePerms)
	if err != nil {
		return err
	}
	af.file = file
	return nil
}

// Size returns the size of the file on disk, or -1 and an error if it cannot
// be opened or stat'ed.
func (af *AutoFile) Size() (int64, error) {
	af.mtx.Lock()
	defer af.mtx.Unlock()

	if af.file == nil {
		if err := af.openFile(); err != nil {
			return -1, err
		}
	}

	stat, err := af.file.Stat()
	if err != nil {
		return -1, err
	}
	return stat.Size(), nil
}
