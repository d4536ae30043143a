package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kanbun-tools/syosetu2ebook/internal/annotate"
	"github.com/kanbun-tools/syosetu2ebook/internal/pipeline"
	"github.com/kanbun-tools/syosetu2ebook/internal/repack"
	"github.com/kanbun-tools/syosetu2ebook/internal/selection"
	"github.com/kanbun-tools/syosetu2ebook/internal/storage"
)

type buildOptions struct {
	fetchFlags

	volume      int
	chapters    string
	title       string
	outputDir   string
	kepub       bool
	furigana    bool
	provider    string
	furiganaCmd string
	model       string
	cache       string
	concurrency int
	volumes     int
	deadline    time.Duration
	horizontal  bool
	report      string
	noProgress  bool
}

func newBuildCmd() *cobra.Command {
	opts := &buildOptions{}

	cmd := &cobra.Command{
		Use:   "build BOOK_URL",
		Short: "Download a novel and write EPUB files",
		Long: `Download a novel's table of contents and chapters and write one EPUB per volume.

A chapter that cannot be downloaded is skipped and reported. A volume with no
chapters at all fails the run.`,
		Example: `  # Whole novel, one EPUB per volume
  syosetu2ebook build https://ncode.syosetu.com/n1234ab/

  # Chapters 5 to 10 of volume 2, with furigana from a local command
  syosetu2ebook build https://ncode.syosetu.com/n1234ab/ -v 2 -c 5-10 -f --furigana-cmd "furigana-gen --html"

  # Furigana from Gemini and a Kobo copy of every volume
  syosetu2ebook build https://ncode.syosetu.com/n1234ab/ -f --furigana-provider gemini -k`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBuild(cmd.Context(), args[0], opts)
		},
	}

	f := cmd.Flags()
	f.IntVarP(&opts.volume, "volume", "v", 0, "Only build this volume (1-based)")
	f.StringVarP(&opts.chapters, "chapters", "c", "", "Chapter range within each volume: N-M, N- or -M")
	f.StringVarP(&opts.title, "title", "t", "", "Override the book title")
	f.StringVarP(&opts.outputDir, "output", "o", envString("SYOSETU2EBOOK_OUTPUT_DIR", "."), "Output directory")
	f.BoolVarP(&opts.kepub, "kepub", "k", false, "Also write a Kobo kepub with kepubify")
	f.BoolVarP(&opts.furigana, "furigana", "f", false, "Add furigana to chapter text")
	f.StringVar(&opts.provider, "furigana-provider", "command", "Furigana source (command, gemini, ollama or openai)")
	f.StringVar(&opts.furiganaCmd, "furigana-cmd", os.Getenv("SYOSETU2EBOOK_FURIGANA_CMD"), "Command that reads lines on stdin and writes ruby markup")
	f.StringVar(&opts.model, "furigana-model", "", "Model name (defaults to provider's default)")
	f.StringVar(&opts.profile, "profile", "", "YAML site profile overriding the built-in selectors")
	f.StringVar(&opts.cache, "cache", os.Getenv("SYOSETU2EBOOK_CACHE"), "SQLite file caching chapter pages between runs")
	f.IntVar(&opts.concurrency, "concurrency", envInt("SYOSETU2EBOOK_CONCURRENCY", 2), "Concurrent chapter downloads")
	f.IntVar(&opts.volumes, "volume-concurrency", envInt("SYOSETU2EBOOK_VOLUME_CONCURRENCY", 1), "Volumes built at once")
	f.Float64Var(&opts.rate, "rate", envFloat("SYOSETU2EBOOK_RATE", 2), "Requests per second (0 disables the limit)")
	f.IntVar(&opts.retries, "retries", 4, "Attempts per page")
	f.DurationVar(&opts.timeout, "timeout", 30*time.Second, "Timeout per attempt")
	f.DurationVar(&opts.deadline, "deadline", 0, "Give up the whole run after this long (0 means no limit)")
	f.BoolVar(&opts.horizontal, "horizontal", false, "Typeset horizontally instead of vertically")
	f.StringVar(&opts.report, "report", "", "Write a YAML run report to this file")
	f.BoolVar(&opts.noProgress, "no-progress", false, "Hide the progress bar")

	return cmd
}

func runBuild(ctx context.Context, bookURL string, opts *buildOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.deadline)
		defer cancel()
	}

	var chapters *selection.Range
	if opts.chapters != "" {
		r, err := selection.ParseRange(opts.chapters)
		if err != nil {
			return err
		}
		chapters = r
	}

	profile, err := opts.siteProfile()
	if err != nil {
		return err
	}
	if opts.horizontal {
		profile.Vertical = false
	}

	var store storage.PageStore = storage.NewMemoryStore()
	if opts.cache != "" {
		s, err := storage.OpenSQLite(opts.cache)
		if err != nil {
			return err
		}
		store = s
	}
	defer store.Close()

	opts.inFlight = opts.concurrency * max(opts.volumes, 1)
	fetcher := opts.fetcher()
	p := pipeline.New(fetcher, &storage.Cached{Getter: fetcher, Store: store}, profile)

	if opts.furigana {
		a, err := newAnnotator(opts)
		if err != nil {
			return err
		}
		p.Annotator = a
	}
	if opts.kepub {
		p.Repackager = &repack.Kepubify{Path: os.Getenv("KEPUBIFY")}
	}

	var bar *barProgress
	if !opts.noProgress {
		bar = newBarProgress()
		p.Progress = bar
	}

	slog.Info("Starting build", "url", bookURL, "output", opts.outputDir, "furigana", opts.furigana, "kepub", opts.kepub)
	summary, err := p.Run(ctx, pipeline.Options{
		BookURL:           bookURL,
		Volume:            opts.volume,
		Chapters:          chapters,
		Title:             opts.title,
		OutputDir:         opts.outputDir,
		Concurrency:       opts.concurrency,
		VolumeConcurrency: opts.volumes,
	})
	if bar != nil {
		bar.Finish()
	}
	if err != nil {
		return err
	}

	summary.Print(os.Stdout)
	if opts.report != "" {
		if err := summary.WriteReport(opts.report); err != nil {
			return err
		}
		fmt.Printf("\nReport saved to: %s\n", opts.report)
	}
	if n := len(summary.Failed()); n > 0 {
		slog.Warn("Some chapters were skipped", "count", n)
	}
	return summary.Err()
}

func newAnnotator(opts *buildOptions) (annotate.Annotator, error) {
	switch strings.ToLower(opts.provider) {
	case "", "command":
		if opts.furiganaCmd == "" {
			return nil, fmt.Errorf("--furigana-cmd is required with the command provider")
		}
		c, err := annotate.NewCommand(opts.furiganaCmd)
		if err != nil {
			return nil, err
		}
		return annotate.New(c), nil
	default:
		provider, err := annotate.NewProvider(opts.provider)
		if err != nil {
			return nil, err
		}
		return annotate.New(&annotate.LLM{Provider: provider, Model: opts.model}), nil
	}
}
