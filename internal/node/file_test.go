package node

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestHashFile(t *testing.T) {
	data := "hello world"
	hash, err := HashFile(strings.NewReader(data))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// SHA256 of "hello world"
	expected := "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"
	if hash != expected {
		t.Errorf("expected %s, got %s", expected, hash)
	}
}

func TestHashFile_Empty(t *testing.T) {
	hash, err := HashFile(strings.NewReader(""))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// SHA256 of empty string
	expected := "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	if hash != expected {
		t.Errorf("expected %s, got %s", expected, hash)
	}
}

func TestCalculateTotalChunks(t *testing.T) {
	tests := []struct {
		fileSize  int64
		chunkSize int64
		expected  int
	}{
		{1024, 256, 4},
		{1000, 256, 4},
		{256, 256, 1},
		{0, 256, 0},
		{1, 256, 1},
		{257, 256, 2},
		{100, 0, 0}, // zero chunk size
	}

	for _, tt := range tests {
		result := CalculateTotalChunks(tt.fileSize, tt.chunkSize)
		if result != tt.expected {
			t.Errorf("CalculateTotalChunks(%d, %d) = %d, want %d",
				tt.fileSize, tt.chunkSize, result, tt.expected)
		}
	}
}

func TestSafeFileName(t *testing.T) {
	tests := []struct {
		name     string
		expected string
	}{
		{"/home/user/file.txt", "file.txt"},
		{"file.txt", "file.txt"},
		{"a/b/c/d.txt", "d.txt"},
		{"../../etc/passwd", "passwd"},
		{`C:\Users\me\report.pdf`, "report.pdf"},
		{"..", "download"},
		{"", "download"},
	}

	for _, tt := range tests {
		result := SafeFileName(tt.name)
		if result != tt.expected {
			t.Errorf("SafeFileName(%q) = %q, want %q", tt.name, result, tt.expected)
		}
	}
}

func TestBuildDownloadPath(t *testing.T) {
	dir := t.TempDir()

	first, err := BuildDownloadPath(dir, "test.txt")
	if err != nil {
		t.Fatalf("BuildDownloadPath failed: %v", err)
	}
	if first != filepath.Join(dir, "test.txt") {
		t.Errorf("expected %q, got %q", filepath.Join(dir, "test.txt"), first)
	}

	if err := os.WriteFile(first, []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	second, err := BuildDownloadPath(dir, "test.txt")
	if err != nil {
		t.Fatalf("BuildDownloadPath failed: %v", err)
	}
	if second != filepath.Join(dir, "test (1).txt") {
		t.Errorf("expected %q, got %q", filepath.Join(dir, "test (1).txt"), second)
	}
}

func TestSaveArtifact(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "downloads")

	path, sum, err := saveArtifact(dir, "../hello.txt", []byte("hello world"))
	if err != nil {
		t.Fatalf("saveArtifact failed: %v", err)
	}
	if filepath.Dir(path) != dir {
		t.Errorf("expected file inside %q, got %q", dir, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(data) != "hello world" {
		t.Errorf("expected %q, got %q", "hello world", data)
	}
	if sum != "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9" {
		t.Errorf("unexpected checksum %s", sum)
	}
}
