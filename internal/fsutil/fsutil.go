package fsutil

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// sniffLen is how many leading bytes http.DetectContentType considers.
const sniffLen = 512

// ErrNotRegular is returned by Inspect for directories, sockets and the like.
var ErrNotRegular = errors.New("not a regular file")

// Snapshot describes a vault file at the moment it was inspected.
type Snapshot struct {
	Size        int64
	ModTime     time.Time
	ContentHash string
	MIMEType    string
}

// Inspect stats, hashes and sniffs the file at path in a single read.
func Inspect(path string) (Snapshot, error) {
	file, err := os.Open(path)
	if err != nil {
		return Snapshot{}, err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to stat %s; %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return Snapshot{}, fmt.Errorf("%s: %w", path, ErrNotRegular)
	}

	head := &headWriter{limit: sniffLen}
	hash := sha256.New()
	if _, err := io.Copy(io.MultiWriter(hash, head), file); err != nil {
		return Snapshot{}, fmt.Errorf("failed to read %s; %w", path, err)
	}

	return Snapshot{
		Size:        info.Size(),
		ModTime:     info.ModTime(),
		ContentHash: hex.EncodeToString(hash.Sum(nil)),
		MIMEType:    DetectMIME(path, head.buf),
	}, nil
}

// HashFile computes the SHA-256 hash of a file's contents.
func HashFile(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", err
	}

	return hex.EncodeToString(hash.Sum(nil)), nil
}

// HashBytes computes the SHA-256 hash of the provided bytes.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// DetectMIME determines the MIME type of content. The extension wins unless
// sniffing finds something more specific than plain text.
func DetectMIME(path string, content []byte) string {
	ext := strings.ToLower(filepath.Ext(path))
	extMime := vaultMIME[ext]
	if extMime == "" {
		extMime = strings.TrimSpace(mime.TypeByExtension(ext))
		if idx := strings.Index(extMime, ";"); idx != -1 {
			extMime = strings.TrimSpace(extMime[:idx])
		}
	}

	var sniffed string
	if len(content) > 0 {
		sniffed = http.DetectContentType(content)
		if idx := strings.Index(sniffed, ";"); idx != -1 {
			sniffed = strings.TrimSpace(sniffed[:idx])
		}
	}

	if extMime != "" {
		if sniffed == "" || sniffed == "application/octet-stream" || sniffed == "text/plain" {
			return extMime
		}
	}

	if sniffed != "" {
		return sniffed
	}

	if extMime != "" {
		return extMime
	}

	return "application/octet-stream"
}

var vaultMIME = map[string]string{
	".md":       "text/markdown",
	".markdown": "text/markdown",
	".txt":      "text/plain",
	".canvas":   "application/json",
	".json":     "application/json",
	".yaml":     "text/yaml",
	".yml":      "text/yaml",
	".csv":      "text/csv",
	".pdf":      "application/pdf",
	".png":      "image/png",
	".jpg":      "image/jpeg",
	".jpeg":     "image/jpeg",
	".gif":      "image/gif",
	".webp":     "image/webp",
	".svg":      "image/svg+xml",
}

type headWriter struct {
	buf   []byte
	limit int
}

func (w *headWriter) Write(p []byte) (int, error) {
	if room := w.limit - len(w.buf); room > 0 {
		if len(p) < room {
			room = len(p)
		}
		w.buf = append(w.buf, p[:room]...)
	}
	return len(p), nil
}
