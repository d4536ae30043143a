package storage

import (
	"context"
	"log/slog"

	"github.com/kanbun-tools/syosetu2ebook/internal/fetch"
)

// Cached serves pages from Store when present and records successful
// fetches. Store failures are logged, never returned.
type Cached struct {
	Getter fetch.Getter
	Store  PageStore
	Logger *slog.Logger
}

func (c *Cached) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func (c *Cached) Fetch(ctx context.Context, rawURL string) (string, error) {
	body, ok, err := c.Store.Get(ctx, rawURL)
	if err != nil {
		c.logger().Warn("Page cache lookup failed", "url", rawURL, "err", err)
	} else if ok {
		c.logger().Debug("Page cache hit", "url", rawURL)
		return body, nil
	}

	body, err = c.Getter.Fetch(ctx, rawURL)
	if err != nil {
		return "", err
	}

	if err := c.Store.Put(ctx, rawURL, body); err != nil {
		c.logger().Warn("Page cache write failed", "url", rawURL, "err", err)
	}
	return body, nil
}
