// Package event carries typed UI events over an in-process fan-out bus.
package event

import "time"

// Event names shared with the frontend.
const (
	TypeFileChanged = "file-changed"
	TypeFileOpen    = "file-open"
)

// Event represents a typed event with an occurrence timestamp.
type Event interface {
	Type() string
	Timestamp() time.Time
}

// FileChangedEvent reports a settled change to a watched image file.
// Change is one of "created", "modified" or "deleted".
type FileChangedEvent struct {
	Path       string
	Change     string
	OccurredAt time.Time
}

func NewFileChangedEvent(path, change string) FileChangedEvent {
	return FileChangedEvent{
		Path:       path,
		Change:     change,
		OccurredAt: time.Now().UTC(),
	}
}

func (e FileChangedEvent) Type() string {
	return TypeFileChanged
}

func (e FileChangedEvent) Timestamp() time.Time {
	return e.OccurredAt
}

// FileOpenEvent hands the launch file to the frontend.
type FileOpenEvent struct {
	Path       string
	OccurredAt time.Time
}

func NewFileOpenEvent(path string) FileOpenEvent {
	return FileOpenEvent{
		Path:       path,
		OccurredAt: time.Now().UTC(),
	}
}

func (e FileOpenEvent) Type() string {
	return TypeFileOpen
}

func (e FileOpenEvent) Timestamp() time.Time {
	return e.OccurredAt
}
