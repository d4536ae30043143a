package cmd

import (
	"os"
	"strconv"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/kanbun-tools/syosetu2ebook/internal/fetch"
	"github.com/kanbun-tools/syosetu2ebook/internal/site"
)

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return v
	}
	return def
}

// fetchFlags are shared by every command that talks to the site.
type fetchFlags struct {
	profile  string
	rate     float64
	retries  int
	timeout  time.Duration
	inFlight int
}

func (f *fetchFlags) fetcher() *fetch.Fetcher {
	return fetch.NewFetcher(fetch.Config{
		UserAgent:         os.Getenv("SYOSETU2EBOOK_USER_AGENT"),
		MaxAttempts:       f.retries,
		Backoff:           time.Second,
		AttemptTimeout:    f.timeout,
		RequestsPerSecond: f.rate,
		MaxInFlight:       f.inFlight,
	})
}

func (f *fetchFlags) siteProfile() (site.Profile, error) {
	if f.profile == "" {
		return site.Syosetu(), nil
	}
	return site.Load(f.profile)
}

// barProgress adapts a progress bar to pipeline.Progress.
type barProgress struct {
	bar *progressbar.ProgressBar
}

func newBarProgress() *barProgress {
	return &barProgress{bar: progressbar.NewOptions(0,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription("chapters"),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)}
}

func (b *barProgress) Grow(n int) {
	b.bar.ChangeMax(b.bar.GetMax() + n)
}

func (b *barProgress) Step() {
	_ = b.bar.Add(1)
}

func (b *barProgress) Finish() {
	_ = b.bar.Finish()
}
