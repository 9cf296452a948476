package watcher

import (
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/fsnotify/fsnotify"
)

func TestCollectRecursiveDirsIncludesRoot(t *testing.T) {
	dir := t.TempDir()
	nested := filepath.Join(dir, "a", "b")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatalf("create nested dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "a", "file.png"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	dirs, err := collectRecursiveDirs(dir)
	if err != nil {
		t.Fatalf("collect dirs: %v", err)
	}
	sort.Strings(dirs)
	want := []string{dir, filepath.Join(dir, "a"), nested}
	sort.Strings(want)
	if len(dirs) != len(want) {
		t.Fatalf("expected %v, got %v", want, dirs)
	}
	for index := range want {
		if dirs[index] != want[index] {
			t.Fatalf("expected %v, got %v", want, dirs)
		}
	}
}

func TestCollectRecursiveDirsMissingRoot(t *testing.T) {
	if _, err := collectRecursiveDirs(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatal("expected error for missing root")
	}
}

func TestCollectFilesSkipsDirectories(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatalf("create dir: %v", err)
	}
	path := filepath.Join(dir, "sub", "icon.svg")
	if err := os.WriteFile(path, []byte("<svg/>"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	files := collectFiles(dir)
	if len(files) != 1 || files[0] != path {
		t.Fatalf("expected [%s], got %v", path, files)
	}
}

func TestKindForOp(t *testing.T) {
	cases := []struct {
		op   fsnotify.Op
		want Kind
	}{
		{fsnotify.Create, KindCreated},
		{fsnotify.Write, KindModified},
		{fsnotify.Rename, KindModified},
		{fsnotify.Remove, KindRemoved},
		{fsnotify.Chmod, KindOther},
		{fsnotify.Create | fsnotify.Write, KindCreated},
	}
	for _, tc := range cases {
		if got := kindForOp(tc.op); got != tc.want {
			t.Errorf("kindForOp(%s) = %s, want %s", tc.op, got, tc.want)
		}
	}
}
