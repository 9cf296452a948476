package watcher

import (
	"io/fs"
	"path/filepath"
)

// collectRecursiveDirs lists root and every directory below it. Unreadable
// entries are skipped rather than failing the walk.
func collectRecursiveDirs(root string) ([]string, error) {
	dirs := []string{}
	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil
		}
		if !entry.IsDir() {
			return nil
		}
		dirs = append(dirs, path)
		return nil
	})
	return dirs, err
}

// collectFiles lists regular files below root, used to surface files that
// landed in a new directory before its watch was in place.
func collectFiles(root string) []string {
	files := []string{}
	_ = filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if entry.Type().IsRegular() {
			files = append(files, path)
		}
		return nil
	})
	return files
}
