// ABOUTME: Thumbnail cache for queued items
// ABOUTME: Downloads thumbnail images once and serves them from a local directory
package artwork

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// MaxImageBytes caps a single downloaded image
const MaxImageBytes = 8 << 20

// Cache manages thumbnail downloads
type Cache struct {
	cacheDir string
	client   *http.Client
	logger   *slog.Logger

	// Serializes downloads of the same file
	mu       sync.Mutex
	inflight map[string]*sync.Mutex
}

// NewCache creates a cache in dir, or a temp directory when dir is empty
func NewCache(dir string, client *http.Client, logger *slog.Logger) (*Cache, error) {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "breezebeats-thumbnails")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Cache{
		cacheDir: dir,
		client:   client,
		logger:   logger,
		inflight: make(map[string]*sync.Mutex),
	}, nil
}

// Fetch returns the local path of the image at rawURL, downloading it on
// first use
func (c *Cache) Fetch(ctx context.Context, rawURL string) (string, error) {
	if rawURL == "" {
		return "", fmt.Errorf("no thumbnail")
	}

	hash := sha256.Sum256([]byte(rawURL))
	cachePath := filepath.Join(c.cacheDir, fmt.Sprintf("%x%s", hash[:8], extension(rawURL)))

	lock := c.lockFor(cachePath)
	lock.Lock()
	defer lock.Unlock()

	if _, err := os.Stat(cachePath); err == nil {
		c.logger.Debug("thumbnail cache hit", "path", cachePath)
		return cachePath, nil
	}

	c.logger.Debug("downloading thumbnail", "url", rawURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("invalid thumbnail url: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to download thumbnail: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("thumbnail download failed: HTTP %d", resp.StatusCode)
	}

	// Write to a temp file so a failed download never leaves a cache hit
	tmp, err := os.CreateTemp(c.cacheDir, "download-*")
	if err != nil {
		return "", fmt.Errorf("failed to create cache file: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, io.LimitReader(resp.Body, MaxImageBytes+1))
	tmp.Close()
	if err != nil {
		return "", fmt.Errorf("failed to save thumbnail: %w", err)
	}
	if n > MaxImageBytes {
		return "", fmt.Errorf("thumbnail larger than %d bytes", MaxImageBytes)
	}
	if err := os.Rename(tmp.Name(), cachePath); err != nil {
		return "", fmt.Errorf("failed to save thumbnail: %w", err)
	}

	c.logger.Debug("thumbnail saved", "path", cachePath)
	return cachePath, nil
}

func (c *Cache) lockFor(path string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	lock, ok := c.inflight[path]
	if !ok {
		lock = &sync.Mutex{}
		c.inflight[path] = lock
	}
	return lock
}

// extension extracts the file extension from the URL path
func extension(rawURL string) string {
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		p = u.Path
	}
	ext := strings.ToLower(filepath.Ext(p))
	switch ext {
	case ".jpg", ".jpeg", ".png", ".webp", ".gif":
		return ext
	default:
		return ".jpg"
	}
}

// Cleanup removes the cache directory
func (c *Cache) Cleanup() error {
	return os.RemoveAll(c.cacheDir)
}
