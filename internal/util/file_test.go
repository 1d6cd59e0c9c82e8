package util

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestAtomicWriteFile(t *testing.T) {
	tmpDir := t.TempDir()

	t.Run("creates file with correct content", func(t *testing.T) {
		path := filepath.Join(tmpDir, "test1.txt")
		content := []byte("hello world")

		if err := AtomicWriteFile(path, content, 0644); err != nil {
			t.Fatalf("AtomicWriteFile failed: %v", err)
		}

		got, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("reading file: %v", err)
		}
		if string(got) != string(content) {
			t.Errorf("content mismatch: got %q, want %q", string(got), string(content))
		}
	})

	t.Run("overwrites existing file atomically", func(t *testing.T) {
		path := filepath.Join(tmpDir, "test2.txt")

		if err := AtomicWriteFile(path, []byte("initial"), 0644); err != nil {
			t.Fatalf("first write failed: %v", err)
		}
		if err := AtomicWriteFile(path, []byte("updated content"), 0644); err != nil {
			t.Fatalf("second write failed: %v", err)
		}

		got, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("reading file: %v", err)
		}
		if string(got) != "updated content" {
			t.Errorf("content mismatch: got %q, want %q", string(got), "updated content")
		}
	})

	t.Run("fails for nonexistent parent directory", func(t *testing.T) {
		nestedPath := filepath.Join(tmpDir, "nonexistent", "subdir", "test.txt")
		if err := AtomicWriteFile(nestedPath, []byte("test"), 0644); err == nil {
			t.Fatal("expected error for nonexistent parent directory")
		}
	})

	t.Run("cleans up temp file on success", func(t *testing.T) {
		path := filepath.Join(tmpDir, "test3.txt")
		if err := AtomicWriteFile(path, []byte("test"), 0644); err != nil {
			t.Fatalf("AtomicWriteFile failed: %v", err)
		}

		entries, err := os.ReadDir(tmpDir)
		if err != nil {
			t.Fatalf("reading dir: %v", err)
		}
		for _, entry := range entries {
			if strings.HasPrefix(entry.Name(), "ace-atomic-") {
				t.Errorf("temp file left behind: %s", entry.Name())
			}
		}
	})
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}

	tests := []struct {
		in   string
		want string
	}{
		{"~", home},
		{"~/ace/verdicts.jsonl", filepath.Join(home, "ace", "verdicts.jsonl")},
		{"/var/lib/ace.db", "/var/lib/ace.db"},
		{"relative/path", "relative/path"},
		{"~other/file", "~other/file"},
	}
	for _, tc := range tests {
		if got := ExpandPath(tc.in); got != tc.want {
			t.Errorf("ExpandPath(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
