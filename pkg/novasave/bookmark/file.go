package bookmark

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
)

const (
	filePrefix = "sav"
	fileSuffix = ".nsav"
)

// FileName returns the file name of a slot inside a save directory.
func FileName(id int) string {
	return fmt.Sprintf("%s%03d%s", filePrefix, id, fileSuffix)
}

// parseFileName returns the slot id encoded in name.
func parseFileName(name string) (int, bool) {
	if !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
		return 0, false
	}
	digits := strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileSuffix)
	id, err := strconv.Atoi(digits)
	if err != nil || id < 0 {
		return 0, false
	}
	return id, true
}

// FileStore keeps one file per slot in a directory.
type FileStore struct {
	dir    string
	mu     sync.RWMutex
	closed bool
}

// NewFileStore creates the directory if needed and returns a store over it.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create bookmark directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Path returns the file path of a slot.
func (f *FileStore) Path(id int) string {
	return filepath.Join(f.dir, FileName(id))
}

// Save implements Store. The file is written to a temporary name and renamed
// so a crash never leaves a half-written slot behind.
func (f *FileStore) Save(id int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrStoreClosed
	}

	tmp, err := os.CreateTemp(f.dir, FileName(id)+".*.tmp")
	if err != nil {
		return fmt.Errorf("save bookmark: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("save bookmark: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("save bookmark: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("save bookmark: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.Path(id)); err != nil {
		return fmt.Errorf("save bookmark: %w", err)
	}
	return nil
}

// Load implements Store.
func (f *FileStore) Load(id int) ([]byte, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.closed {
		return nil, ErrStoreClosed
	}

	data, err := os.ReadFile(f.Path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load bookmark: %w", err)
	}
	return data, nil
}

// Delete implements Store.
func (f *FileStore) Delete(id int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrStoreClosed
	}

	err := os.Remove(f.Path(id))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete bookmark: %w", err)
	}
	return nil
}

// List implements Store. Files that do not follow the slot naming scheme
// are ignored.
func (f *FileStore) List() ([]Info, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.closed {
		return nil, ErrStoreClosed
	}

	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, fmt.Errorf("list bookmarks: %w", err)
	}

	infos := []Info{}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		id, ok := parseFileName(e.Name())
		if !ok {
			continue
		}
		fi, err := e.Info()
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("stat bookmark %d: %w", id, err)
		}
		infos = append(infos, Info{
			ID:        id,
			Timestamp: fi.ModTime().UTC(),
			Size:      fi.Size(),
		})
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].ID < infos[j].ID
	})
	return infos, nil
}

// Close implements Store.
func (f *FileStore) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}
