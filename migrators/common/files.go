// common contains filesystem helpers shared by migrators: finding the project
// root and listing migration files in execution order.
package common

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
)

// ErrProjectRootNotFound is returned by [ProjectRoot] when no ancestor
// directory contains the marker file.
var ErrProjectRootNotFound = errors.New("project root not found")

// ProjectRoot returns the nearest directory, starting at `start` and walking
// up through its parents, that contains a file named `marker`.
//
// Examples:
//
//	ProjectRoot(cwd, "go.mod")
//	ProjectRoot(cwd, "go.work")
func ProjectRoot(start, marker string) (string, error) {
	dir, err := filepath.Abs(start)
	if err != nil {
		return "", err
	}
	for {
		_, err := os.Stat(filepath.Join(dir, marker))
		switch {
		case err == nil:
			return dir, nil
		case !errors.Is(err, fs.ErrNotExist):
			return "", err
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("%w: no %s in %s or any parent", ErrProjectRootNotFound, marker, start)
		}
		dir = parent
	}
}

// ListFiles returns the paths of the regular files directly inside `dir`
// whose extension is `ext`, sorted ascending by path. Subdirectories are not
// searched.
//
// Examples:
//
//	ListFiles(os.DirFS(root), "migrations", ".sql")
//	ListFiles(embeddedFS, ".", ".sql")
func ListFiles(fsys fs.FS, dir, ext string) ([]string, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, entry := range entries {
		if entry.IsDir() || path.Ext(entry.Name()) != ext {
			continue
		}
		paths = append(paths, path.Join(dir, entry.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}
