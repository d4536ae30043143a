// Package pipeline runs a whole conversion: scan, select, extract,
// annotate, assemble, write and repackage.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kanbun-tools/syosetu2ebook/internal/annotate"
	"github.com/kanbun-tools/syosetu2ebook/internal/assemble"
	"github.com/kanbun-tools/syosetu2ebook/internal/epub"
	"github.com/kanbun-tools/syosetu2ebook/internal/extract"
	"github.com/kanbun-tools/syosetu2ebook/internal/fetch"
	"github.com/kanbun-tools/syosetu2ebook/internal/models"
	"github.com/kanbun-tools/syosetu2ebook/internal/repack"
	"github.com/kanbun-tools/syosetu2ebook/internal/selection"
	"github.com/kanbun-tools/syosetu2ebook/internal/site"
	"github.com/kanbun-tools/syosetu2ebook/internal/toc"
)

var (
	// ErrNoChapters fails a volume when none of its chapters could be
	// extracted.
	ErrNoChapters = errors.New("no chapters could be extracted")

	// ErrDuplicateOutput fails a volume whose archive path is already taken
	// by an earlier volume of the same run.
	ErrDuplicateOutput = errors.New("output path already used by another volume")
)

// CatalogScanner discovers a book's structure.
type CatalogScanner interface {
	Scan(ctx context.Context, rootURL string) (*models.Catalog, error)
}

// ChapterExtractor fetches and parses one chapter.
type ChapterExtractor interface {
	Extract(ctx context.Context, ref models.ChapterRef) (models.ChapterContent, error)
}

// ArchiveWriter writes one book model to disk.
type ArchiveWriter interface {
	Write(ctx context.Context, book *models.BookModel, dest string) error
}

// Progress receives chapter-level progress. Implementations must be safe
// for concurrent use.
type Progress interface {
	Grow(n int)
	Step()
}

type nopProgress struct{}

func (nopProgress) Grow(int) {}
func (nopProgress) Step()    {}

// Options are the per-run settings.
type Options struct {
	BookURL  string
	Volume   int
	Chapters *selection.Range

	// Title replaces the scanned book title when set.
	Title     string
	OutputDir string

	// Concurrency bounds chapter extraction per volume; VolumeConcurrency
	// bounds volumes built at once.
	Concurrency       int
	VolumeConcurrency int
}

// Pipeline wires the components together. Annotator and Repackager are
// optional.
type Pipeline struct {
	Scanner    CatalogScanner
	Extractor  ChapterExtractor
	Annotator  annotate.Annotator
	Writer     ArchiveWriter
	Repackager repack.Repackager
	Profile    site.Profile
	Progress   Progress
	Logger     *slog.Logger

	// Now stamps the package documents; defaults to time.Now.
	Now func() time.Time
}

// New builds a pipeline for profile p. Listing pages are read through
// listing and chapter pages through chapters, so only chapters need to go
// through a page cache.
func New(listing, chapters fetch.Getter, p site.Profile) *Pipeline {
	return &Pipeline{
		Scanner:   toc.NewScanner(listing, p),
		Extractor: extract.NewExtractor(chapters, p),
		Writer:    epub.NewWriter(),
		Profile:   p,
	}
}

func (p *Pipeline) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

func (p *Pipeline) progress() Progress {
	if p.Progress != nil {
		return p.Progress
	}
	return nopProgress{}
}

// Run converts the book. The returned error is reserved for run-level
// failures (scan, selection); per-volume and per-chapter failures are in
// the summary.
func (p *Pipeline) Run(ctx context.Context, opts Options) (*Summary, error) {
	started := time.Now()

	catalog, err := p.Scanner.Scan(ctx, opts.BookURL)
	if err != nil {
		return nil, err
	}
	p.logger().Info("Scanned table of contents",
		"title", catalog.Title, "volumes", len(catalog.Volumes), "chapters", catalog.ChapterCount())

	groups, err := selection.Select(catalog, opts.Volume, opts.Chapters)
	if err != nil {
		return nil, err
	}

	summary := &Summary{
		Title:     catalog.Title,
		SourceURL: catalog.SourceURL,
		Started:   started,
		Volumes:   make([]VolumeResult, len(groups)),
	}

	modified := time.Now()
	if p.Now != nil {
		modified = p.Now()
	}

	// Output paths are fixed before any chapter is fetched, so two volumes
	// can never be renamed onto the same file.
	type job struct {
		slot  int
		group selection.Group
		meta  assemble.Meta
		dest  string
	}
	var jobs []job
	claimed := make(map[string]int, len(groups))
	total := 0
	for i, g := range groups {
		meta := p.meta(catalog, g, opts, modified)
		dest := filepath.Join(opts.OutputDir, assemble.FileStem(assemble.Header(g.Volume.Index, meta), p.Annotator != nil)+".epub")
		if prev, ok := claimed[dest]; ok {
			summary.Volumes[i] = VolumeResult{Index: g.Volume.Index, Label: g.Volume.Label, Requested: len(g.Chapters)}.
				fail(fmt.Errorf("%w: %s (volume %d)", ErrDuplicateOutput, dest, prev))
			continue
		}
		claimed[dest] = g.Volume.Index
		jobs = append(jobs, job{slot: i, group: g, meta: meta, dest: dest})
		total += len(g.Chapters)
	}
	p.progress().Grow(total)

	volumeLimit := opts.VolumeConcurrency
	if volumeLimit < 1 {
		volumeLimit = 1
	}
	var eg errgroup.Group
	eg.SetLimit(volumeLimit)
	for _, j := range jobs {
		eg.Go(func() error {
			// Each volume owns its slot; failures stay in the result.
			summary.Volumes[j.slot] = p.buildVolume(ctx, j.group, j.meta, j.dest, opts)
			return nil
		})
	}
	_ = eg.Wait()

	summary.Finished = time.Now()
	return summary, nil
}

type chapterSlot struct {
	content models.ChapterContent
	err     error
}

func (p *Pipeline) meta(catalog *models.Catalog, g selection.Group, opts Options, modified time.Time) assemble.Meta {
	title := catalog.Title
	if opts.Title != "" {
		title = opts.Title
	}
	return assemble.Meta{
		Title:       title,
		Author:      catalog.Author,
		Language:    p.Profile.Language,
		SourceURL:   catalog.SourceURL,
		VolumeCount: len(catalog.Volumes),
		VolumeLabel: g.Volume.Label,
		Range:       g.Range,
		Vertical:    p.Profile.Vertical,
		Modified:    modified,
	}
}

func (p *Pipeline) buildVolume(ctx context.Context, g selection.Group, meta assemble.Meta, dest string, opts Options) VolumeResult {
	res := VolumeResult{
		Index:     g.Volume.Index,
		Label:     g.Volume.Label,
		Requested: len(g.Chapters),
	}
	log := p.logger().With("volume", g.Volume.Index)

	slots := p.extractAll(ctx, g.Chapters, opts.Concurrency)

	contents := make([]models.ChapterContent, 0, len(slots))
	for i, s := range slots {
		if s.err != nil {
			ref := g.Chapters[i]
			log.Warn("Skipping chapter", "chapter", ref.Index, "url", ref.URL, "err", s.err)
			res.Failed = append(res.Failed, ChapterFailure{
				Volume: ref.Volume,
				Index:  ref.Index,
				Title:  ref.Title,
				URL:    ref.URL,
				Reason: s.err.Error(),
			})
			continue
		}
		contents = append(contents, s.content)
	}

	if err := ctx.Err(); err != nil {
		return res.fail(err)
	}
	if len(contents) == 0 {
		return res.fail(fmt.Errorf("volume %d: %w", g.Volume.Index, ErrNoChapters))
	}

	if p.Annotator != nil {
		contents = p.annotateAll(ctx, contents, &res, opts.Concurrency)
	}

	book, err := assemble.Assemble(g.Volume.Index, contents, meta)
	if err != nil {
		return res.fail(err)
	}

	if err := p.Writer.Write(ctx, book, dest); err != nil {
		return res.fail(err)
	}
	if _, err := epub.Verify(dest); err != nil {
		if rmErr := os.Remove(dest); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
			log.Warn("Failed to remove unverified archive", "path", dest, "err", rmErr)
		}
		return res.fail(fmt.Errorf("written archive failed verification: %w", err))
	}
	res.Path = dest
	res.Written = len(book.Chapters)

	if p.Repackager != nil {
		out, err := p.Repackager.Repackage(ctx, dest)
		if err != nil {
			log.Warn("Repackaging failed, keeping the EPUB", "path", dest, "err", err)
			res.Warnings = append(res.Warnings, "repackage: "+err.Error())
		} else {
			res.RepackagedPath = out
		}
	}

	log.Info("Volume done", "path", dest, "chapters", res.Written, "failed", len(res.Failed))
	return res
}

// extractAll fetches chapters with bounded parallelism. Each worker writes
// only its own slot; Wait is the barrier before assembly.
func (p *Pipeline) extractAll(ctx context.Context, refs []models.ChapterRef, limit int) []chapterSlot {
	if limit < 1 {
		limit = 1
	}
	slots := make([]chapterSlot, len(refs))

	var eg errgroup.Group
	eg.SetLimit(limit)
	for i, ref := range refs {
		eg.Go(func() error {
			defer p.progress().Step()
			if err := ctx.Err(); err != nil {
				slots[i].err = err
				return nil
			}
			slots[i].content, slots[i].err = p.Extractor.Extract(ctx, ref)
			return nil
		})
	}
	_ = eg.Wait()
	return slots
}

// annotateAll degrades to the unannotated chapter on any failure.
func (p *Pipeline) annotateAll(ctx context.Context, contents []models.ChapterContent, res *VolumeResult, limit int) []models.ChapterContent {
	if limit < 1 {
		limit = 1
	}
	out := make([]models.ChapterContent, len(contents))
	errs := make([]error, len(contents))

	var eg errgroup.Group
	eg.SetLimit(limit)
	for i, c := range contents {
		eg.Go(func() error {
			annotated, err := p.Annotator.Annotate(ctx, c)
			if err != nil {
				out[i], errs[i] = c, err
				return nil
			}
			out[i] = annotated
			return nil
		})
	}
	_ = eg.Wait()

	for i, err := range errs {
		if err != nil {
			p.logger().Warn("Furigana skipped", "volume", res.Index, "chapter", contents[i].Ref.Index, "err", err)
			res.Warnings = append(res.Warnings, fmt.Sprintf("furigana skipped for chapter %d: %v", contents[i].Ref.Index, err))
		}
	}
	return out
}
