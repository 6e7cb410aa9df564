package helpers

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/zeebo/blake3"
)

// CounterWriter counts the bytes written through it.
type CounterWriter struct {
	Writer io.Writer
	Total  uint64
}

// Write implements io.Writer.
func (cw *CounterWriter) Write(p []byte) (int, error) {
	n, err := cw.Writer.Write(p)
	cw.Total += uint64(n)
	return n, err
}

// BytesToSize converts a byte count to a human readable string.
func BytesToSize(bytes uint64) string {
	if bytes == 0 {
		return "0B"
	}
	units := []string{"B", "KB", "MB", "GB", "TB", "PB"}
	size := float64(bytes)
	i := 0
	for size >= 1024 && i < len(units)-1 {
		size /= 1024
		i++
	}
	return fmt.Sprintf("%.2f%s", size, units[i])
}

// SanitizePath cleans a path and drops leading ".." segments so a relative
// path can never climb above its base. Absolute paths stay absolute.
func SanitizePath(path string) string {
	cleaned := filepath.Clean(path)
	if filepath.IsAbs(cleaned) {
		return cleaned
	}
	sep := string(filepath.Separator)
	for cleaned == ".." || strings.HasPrefix(cleaned, ".."+sep) {
		cleaned = strings.TrimPrefix(strings.TrimPrefix(cleaned, ".."), sep)
	}
	if cleaned == "" {
		return "."
	}
	return cleaned
}

// CheckAndMakeDir ensures a directory exists, creating it if needed.
func CheckAndMakeDir(dir string) bool {
	if err := os.MkdirAll(dir, 0750); err != nil {
		log.WithError(err).Errorf("Error creating directory %s", dir)
		return false
	}
	return true
}

// HashFile returns the hex BLAKE3 digest of a file's contents.
func HashFile(path string) (string, error) {
	// #nosec G304
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening %s for hashing: %w", path, err)
	}
	defer f.Close()

	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hashing %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// CheckHash reports whether the file at path has the given BLAKE3 digest.
// An empty expected hash or an unreadable file never matches.
func CheckHash(path string, expected string) bool {
	if expected == "" {
		return false
	}
	got, err := HashFile(path)
	if err != nil {
		log.WithError(err).Debugf("Could not hash %s", path)
		return false
	}
	return strings.EqualFold(got, expected)
}
