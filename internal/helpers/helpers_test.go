package helpers

import (
	"bytes"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/zeebo/blake3"
)

func TestBytesToSize(t *testing.T) {
	tests := []struct {
		name     string
		expected string
		bytes    uint64
	}{
		{name: "zero bytes", bytes: 0, expected: "0B"},
		{name: "one byte", bytes: 1, expected: "1.00B"},
		{name: "kilobytes", bytes: 1024, expected: "1.00KB"},
		{name: "megabytes", bytes: 1024 * 1024, expected: "1.00MB"},
		{name: "gigabytes", bytes: 1024 * 1024 * 1024, expected: "1.00GB"},
		{name: "fractional megabytes", bytes: 1536 * 1024, expected: "1.50MB"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BytesToSize(tt.bytes)
			if got != tt.expected {
				t.Errorf("BytesToSize(%d) = %q, want %q", tt.bytes, got, tt.expected)
			}
		})
	}
}

func TestSanitizePath(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "simple path", input: "folder/file.txt", expected: "folder/file.txt"},
		{name: "path with dots", input: "folder/../other/file.txt", expected: "other/file.txt"},
		{name: "path traversal attempt", input: "../../etc/passwd", expected: "etc/passwd"},
		{name: "current directory", input: "./file.txt", expected: "file.txt"},
		{name: "complex traversal", input: "a/b/../c/../d", expected: "a/d"},
		{name: "only parent", input: "..", expected: "."},
		{name: "absolute kept", input: "/var/data/../log/api.log", expected: "/var/log/api.log"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SanitizePath(filepath.FromSlash(tt.input))
			if got != filepath.FromSlash(tt.expected) {
				t.Errorf("SanitizePath(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestCheckAndMakeDir(t *testing.T) {
	tempDir := t.TempDir()

	tests := []struct {
		name string
		dir  string
	}{
		{name: "create new directory", dir: filepath.Join(tempDir, "new_dir")},
		{name: "create nested directory", dir: filepath.Join(tempDir, "nested", "path", "here")},
		{name: "existing directory", dir: tempDir},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !CheckAndMakeDir(tt.dir) {
				t.Fatalf("CheckAndMakeDir(%q) = false, want true", tt.dir)
			}
			if _, err := os.Stat(tt.dir); os.IsNotExist(err) {
				t.Errorf("Directory %q was not created", tt.dir)
			}
		})
	}

	t.Run("path is a file", func(t *testing.T) {
		file := filepath.Join(tempDir, "plain.txt")
		if err := os.WriteFile(file, []byte("x"), 0644); err != nil {
			t.Fatalf("Failed to create file: %v", err)
		}
		if CheckAndMakeDir(filepath.Join(file, "child")) {
			t.Error("CheckAndMakeDir under a regular file should fail")
		}
	})
}

func TestCounterWriter(t *testing.T) {
	var buf bytes.Buffer
	cw := &CounterWriter{Writer: &buf}

	data := []byte("Hello, World!")
	n, err := cw.Write(data)
	if err != nil {
		t.Errorf("CounterWriter.Write() error = %v", err)
	}
	if n != len(data) {
		t.Errorf("CounterWriter.Write() wrote %d bytes, want %d", n, len(data))
	}

	moreData := []byte(" More data!")
	if _, err := cw.Write(moreData); err != nil {
		t.Errorf("CounterWriter.Write() second error = %v", err)
	}
	expectedTotal := uint64(len(data) + len(moreData))
	if cw.Total != expectedTotal {
		t.Errorf("CounterWriter.Total after second write = %d, want %d", cw.Total, expectedTotal)
	}
	if buf.String() != "Hello, World! More data!" {
		t.Errorf("Buffer contents = %q, want %q", buf.String(), "Hello, World! More data!")
	}
}

func TestHashFileAndCheckHash(t *testing.T) {
	tempDir := t.TempDir()
	testFile := filepath.Join(tempDir, "XC1.mp3")
	content := []byte("not really audio")
	if err := os.WriteFile(testFile, content, 0644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}

	sum := blake3.Sum256(content)
	want := hex.EncodeToString(sum[:])

	got, err := HashFile(testFile)
	if err != nil {
		t.Fatalf("HashFile() error = %v", err)
	}
	if got != want {
		t.Errorf("HashFile() = %s, want %s", got, want)
	}

	t.Run("matching hash", func(t *testing.T) {
		if !CheckHash(testFile, want) {
			t.Error("CheckHash() with correct hash should return true")
		}
	})

	t.Run("no hash provided", func(t *testing.T) {
		if CheckHash(testFile, "") {
			t.Error("CheckHash() with no hash should return false")
		}
	})

	t.Run("nonexistent file", func(t *testing.T) {
		if CheckHash(filepath.Join(tempDir, "missing.mp3"), want) {
			t.Error("CheckHash() with nonexistent file should return false")
		}
	})
}
