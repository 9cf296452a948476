package logging

import (
	"sync"
	"testing"
)

func TestLogBufferCircular(t *testing.T) {
	buffer := NewLogBuffer(2)
	buffer.Add(LogEntry{Message: "first"})
	buffer.Add(LogEntry{Message: "second"})
	buffer.Add(LogEntry{Message: "third"})

	entries := buffer.List()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Message != "second" || entries[1].Message != "third" {
		t.Fatalf("unexpected entries %+v", entries)
	}
}

func TestLogBufferRecentFiltersAndLimits(t *testing.T) {
	buffer := NewLogBuffer(10)
	buffer.Add(LogEntry{Level: LevelDebug, Message: "debug"})
	buffer.Add(LogEntry{Level: LevelWarning, Message: "warn-1"})
	buffer.Add(LogEntry{Level: LevelInfo, Message: "info"})
	buffer.Add(LogEntry{Level: LevelError, Message: "error"})
	buffer.Add(LogEntry{Level: LevelWarning, Message: "warn-2"})

	entries := buffer.Recent(2, LevelWarning)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Message != "error" || entries[1].Message != "warn-2" {
		t.Fatalf("unexpected entries %+v", entries)
	}
	if all := buffer.Recent(0, ""); len(all) != 5 {
		t.Fatalf("expected all 5 entries, got %d", len(all))
	}
}

func TestLogBufferConcurrentAdd(t *testing.T) {
	buffer := NewLogBuffer(100)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				buffer.Add(LogEntry{Message: "entry"})
			}
		}()
	}
	wg.Wait()
	if got := len(buffer.List()); got != 100 {
		t.Fatalf("expected 100 entries, got %d", got)
	}
}
