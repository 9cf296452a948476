package desktop

import (
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
)

var ErrNoParentDirectory = errors.New("could not get parent directory")

// Launcher starts a process without waiting for it to finish.
type Launcher func(name string, args ...string) error

func startDetached(name string, args ...string) error {
	cmd := exec.Command(name, args...)
	if err := cmd.Start(); err != nil {
		return err
	}
	go func() {
		_ = cmd.Wait()
	}()
	return nil
}

// revealCommand returns the file manager invocation for goos. Linux file
// managers cannot select a file, so the parent directory is opened instead.
func revealCommand(goos, path string) (string, []string, error) {
	switch goos {
	case "windows":
		return "explorer", []string{"/select,", path}, nil
	case "darwin":
		return "open", []string{"-R", path}, nil
	default:
		if path == "" {
			return "", nil, ErrNoParentDirectory
		}
		parent := filepath.Dir(path)
		if parent == path {
			return "", nil, ErrNoParentDirectory
		}
		return "xdg-open", []string{parent}, nil
	}
}

func reveal(launch Launcher, goos, path string) error {
	name, args, err := revealCommand(goos, path)
	if err != nil {
		return err
	}
	if err := launch(name, args...); err != nil {
		return fmt.Errorf("open file location: %w", err)
	}
	return nil
}
