package manifest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sheerbytes/fluxcopy/internal/transfer"
	"github.com/spf13/afero"
)

var (
	// ErrNotDirectory indicates the source path is missing or not a directory.
	ErrNotDirectory = errors.New("not a directory")
	// ErrEmpty indicates the source directory holds no regular files.
	ErrEmpty = errors.New("directory has no files")
)

// Manifest is the flat list of regular files found directly under Root.
type Manifest struct {
	Root       string              // Absolute path of the scanned directory
	Files      []transfer.FileTask // Sorted by name
	TotalBytes int64               // Sum of file sizes
	Skipped    []string            // Entries that are not (links to) regular files
}

// Scan lists the regular files directly inside dir, following symlinks to
// regular files. Subdirectories, links to directories and other special files
// are skipped, not descended into.
// Returns ErrNotDirectory if dir does not exist or is not a directory and
// ErrEmpty if it contains no regular files.
func Scan(fsys afero.Fs, dir string) (Manifest, error) {
	info, err := fsys.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return Manifest{}, fmt.Errorf("%w: %s does not exist", ErrNotDirectory, dir)
		}
		return Manifest{}, fmt.Errorf("cannot access path: %w", err)
	}
	if !info.IsDir() {
		return Manifest{}, fmt.Errorf("%w: %s", ErrNotDirectory, dir)
	}

	root := dir
	if _, isOS := fsys.(*afero.OsFs); isOS {
		abs, err := filepath.Abs(dir)
		if err != nil {
			return Manifest{}, fmt.Errorf("cannot get absolute path: %w", err)
		}
		root = abs
	}

	// afero.ReadDir returns entries sorted by name.
	entries, err := afero.ReadDir(fsys, root)
	if err != nil {
		return Manifest{}, fmt.Errorf("cannot read %s: %w", dir, err)
	}

	m := Manifest{Root: root, Files: make([]transfer.FileTask, 0, len(entries))}
	for _, entry := range entries {
		path := filepath.Join(root, entry.Name())
		if entry.Mode()&os.ModeSymlink != 0 {
			// Links are sent as the file they point to; dangling ones are skipped.
			target, err := fsys.Stat(path)
			if err != nil {
				m.Skipped = append(m.Skipped, entry.Name())
				continue
			}
			entry = target
		}
		if !entry.Mode().IsRegular() {
			m.Skipped = append(m.Skipped, entry.Name())
			continue
		}
		m.Files = append(m.Files, transfer.FileTask{
			Path: path,
			Size: entry.Size(),
			Name: filepath.Base(path),
		})
		m.TotalBytes += entry.Size()
	}
	if len(m.Files) == 0 {
		return Manifest{}, fmt.Errorf("%w: %s", ErrEmpty, dir)
	}
	return m, nil
}
