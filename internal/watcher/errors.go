package watcher

import (
	"errors"
	"fmt"
)

var (
	ErrPathNotFound     = errors.New("path not found")
	ErrWatchSetupFailed = errors.New("watch setup failed")
)

// WatchSetupError reports a backend that refused a subscription.
type WatchSetupError struct {
	Path string
	Err  error
}

func (err *WatchSetupError) Error() string {
	if err == nil {
		return ""
	}
	if err.Err == nil {
		return fmt.Sprintf("watch setup failed for %s", err.Path)
	}
	return fmt.Sprintf("watch setup failed for %s: %v", err.Path, err.Err)
}

func (err *WatchSetupError) Unwrap() error {
	if err == nil {
		return nil
	}
	return err.Err
}

func (err *WatchSetupError) Is(target error) bool {
	return target == ErrWatchSetupFailed
}
