// ABOUTME: Media resolvers turning submitted URLs into playable metadata
// ABOUTME: Chain tries resolvers in order until one claims the URL
package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"strings"

	"github.com/AutoBreezeBeats/breezebeats/internal/playback"
)

// ErrUnsupported is returned by a resolver that does not handle a URL, so
// the chain moves on to the next one.
var ErrUnsupported = errors.New("unsupported media url")

// Named is a resolver with a name for logs and config
type Named interface {
	playback.Resolver
	Name() string
}

// Chain resolves with the first resolver that supports the URL
type Chain struct {
	resolvers []Named
	logger    *slog.Logger
}

// NewChain creates a chain; order matters
func NewChain(logger *slog.Logger, resolvers ...Named) *Chain {
	if logger == nil {
		logger = slog.Default()
	}
	return &Chain{resolvers: resolvers, logger: logger}
}

// Resolve implements playback.Resolver
func (c *Chain) Resolve(ctx context.Context, rawURL string) (playback.Metadata, error) {
	for _, r := range c.resolvers {
		meta, err := r.Resolve(ctx, rawURL)
		if errors.Is(err, ErrUnsupported) {
			c.logger.Debug("resolver skipped url", "resolver", r.Name(), "url", rawURL)
			continue
		}
		if err != nil {
			return playback.Metadata{}, fmt.Errorf("%s: %w", r.Name(), err)
		}
		c.logger.Debug("url resolved", "resolver", r.Name(), "url", rawURL, "title", meta.Title)
		return meta, nil
	}
	return playback.Metadata{}, ErrUnsupported
}

// Direct accepts any URL as-is, titled after the last path element
type Direct struct{}

func (Direct) Name() string { return "direct" }

// Resolve implements playback.Resolver
func (Direct) Resolve(ctx context.Context, rawURL string) (playback.Metadata, error) {
	return playback.Metadata{Title: titleFromURL(rawURL), PlayableURI: rawURL}, nil
}

// titleFromURL derives a display title from the last path element
func titleFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Path == "" || u.Path == "/" {
		return rawURL
	}
	base := path.Base(u.Path)
	if unescaped, err := url.PathUnescape(base); err == nil {
		base = unescaped
	}
	return strings.TrimSuffix(base, path.Ext(base))
}
