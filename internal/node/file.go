package node

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

func HashFile(r io.Reader) (string, error) {
	hash := sha256.New()
	if _, err := io.Copy(hash, r); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", hash.Sum(nil)), nil
}

func CalculateTotalChunks(fileSize, chunkSize int64) int {
	if chunkSize <= 0 {
		return 0
	}
	return int((fileSize + chunkSize - 1) / chunkSize)
}

// SafeFileName reduces a remote-supplied name to a plain file name.
func SafeFileName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(filepath.Clean("/" + name))
	switch name {
	case "", ".", "..", "/":
		return "download"
	}
	return name
}

// BuildDownloadPath returns a path in dir for name that does not exist yet,
// appending " (n)" before the extension when needed.
func BuildDownloadPath(dir, name string) (string, error) {
	name = SafeFileName(name)
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)

	for i := 0; i < 1000; i++ {
		candidate := name
		if i > 0 {
			candidate = fmt.Sprintf("%s (%d)%s", stem, i, ext)
		}
		path := filepath.Join(dir, candidate)
		_, err := os.Stat(path)
		if errors.Is(err, fs.ErrNotExist) {
			return path, nil
		}
		if err != nil {
			return "", err
		}
	}
	return "", fmt.Errorf("no free file name for %s in %s", name, dir)
}

// saveArtifact writes data under dir and returns the path and checksum.
func saveArtifact(dir, name string, data []byte) (string, string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", fmt.Errorf("creating download dir: %w", err)
	}
	path, err := BuildDownloadPath(dir, name)
	if err != nil {
		return "", "", err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", "", fmt.Errorf("writing %s: %w", path, err)
	}
	sum, err := HashFile(bytes.NewReader(data))
	if err != nil {
		return path, "", err
	}
	return path, sum, nil
}
