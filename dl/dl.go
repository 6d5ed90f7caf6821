package dl

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

var client = &http.Client{Timeout: 30 * time.Second}

// IsRemote reports whether a source refers to an http(s) URL.
func IsRemote(source string) bool {
	return strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://")
}

// CachePath returns where a remote source is stored inside dir.
func CachePath(dir, url string) string {
	sum := sha1.Sum([]byte(url))
	ext := filepath.Ext(url)
	if i := strings.IndexAny(ext, "?#"); i >= 0 {
		ext = ext[:i]
	}
	return filepath.Join(dir, hex.EncodeToString(sum[:])+ext)
}

// Get writes the body of url to dst.
func Get(url string, dst io.Writer) error {
	resp, err := client.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: %s", url, resp.Status)
	}

	_, err = io.Copy(dst, resp.Body)
	return err
}

// Fetch downloads url into dir once and returns the local path. Later calls
// reuse the cached file.
func Fetch(url, dir string) (string, error) {
	path := CachePath(dir, url)
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}

	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return "", err
	}

	// Workers must never see a partial source.
	tmp, err := os.CreateTemp(dir, ".download-*")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())

	if err := Get(url, tmp); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", err
	}
	return path, nil
}
