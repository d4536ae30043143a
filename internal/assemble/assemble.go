// Package assemble builds per-volume book models from extracted chapters.
package assemble

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/kanbun-tools/syosetu2ebook/internal/models"
)

var (
	// ErrEmpty is returned when a volume has no chapter content at all.
	ErrEmpty = errors.New("no chapters to assemble")

	// ErrOrder means chapters arrived out of catalog order or from the
	// wrong volume. It always points at an upstream bug.
	ErrOrder = errors.New("chapters out of order")
)

// Meta is the book-level metadata that does not come from the chapters.
type Meta struct {
	Title       string
	Author      string
	Language    string
	SourceURL   string
	VolumeCount int
	VolumeLabel string
	Range       *models.ChapterRange
	Vertical    bool
	Modified    time.Time
}

// MaxStemBytes caps FileStem so that the stem plus ".kepub.epub" or the
// writer's temp-file affixes stay under the usual 255-byte name limit.
const MaxStemBytes = 200

const maxSubtitleBytes = 64

// Assemble builds the model for one volume. contents must already be in
// catalog order; it is checked, never re-sorted.
func Assemble(volumeIndex int, contents []models.ChapterContent, meta Meta) (*models.BookModel, error) {
	if len(contents) == 0 {
		return nil, fmt.Errorf("volume %d: %w", volumeIndex, ErrEmpty)
	}

	prev := 0
	for i, c := range contents {
		if c.Ref.Volume != volumeIndex {
			return nil, fmt.Errorf("%w: content %d belongs to volume %d, not %d", ErrOrder, i, c.Ref.Volume, volumeIndex)
		}
		if c.Ref.Index <= prev {
			return nil, fmt.Errorf("%w: chapter %d follows chapter %d in volume %d", ErrOrder, c.Ref.Index, prev, volumeIndex)
		}
		prev = c.Ref.Index
	}

	book := Header(volumeIndex, meta)
	book.Chapters = make([]models.ChapterContent, len(contents))
	copy(book.Chapters, contents)
	return book, nil
}

// Header returns the book model for a volume without any chapters. Its
// fields depend only on meta, so output names can be worked out before
// anything is fetched.
func Header(volumeIndex int, meta Meta) *models.BookModel {
	lang := meta.Language
	if lang == "" {
		lang = "ja"
	}
	modified := meta.Modified
	if modified.IsZero() {
		modified = time.Now()
	}

	label := ""
	if meta.VolumeCount > 1 {
		label = strings.TrimSpace(meta.VolumeLabel)
	}

	return &models.BookModel{
		Identifier:  Identifier(meta.SourceURL, volumeIndex, meta.Range),
		Title:       strings.TrimSpace(meta.Title),
		Subtitle:    Subtitle(label, meta.Range),
		Author:      strings.TrimSpace(meta.Author),
		Language:    lang,
		SourceURL:   meta.SourceURL,
		VolumeIndex: volumeIndex,
		VolumeCount: meta.VolumeCount,
		VolumeLabel: label,
		Range:       meta.Range,
		Vertical:    meta.Vertical,
		Modified:    modified.UTC().Truncate(time.Second),
	}
}

// Subtitle joins the volume label and the requested chapter range, for
// example "第一章　（5～10話）".
func Subtitle(label string, r *models.ChapterRange) string {
	sub := label
	if r == nil {
		return sub
	}
	if sub != "" {
		sub += "　"
	}
	return sub + fmt.Sprintf("（%d～%d話）", r.Low, r.High)
}

// Identifier derives a stable urn:uuid from the source and selection, so
// rebuilding the same volume yields the same package identifier.
func Identifier(sourceURL string, volume int, r *models.ChapterRange) string {
	name := fmt.Sprintf("%s#volume=%d", sourceURL, volume)
	if r != nil {
		name += fmt.Sprintf("&chapters=%d-%d", r.Low, r.High)
	}
	return "urn:uuid:" + uuid.NewSHA1(uuid.NameSpaceURL, []byte(name)).String()
}

// FileStem names the output file without extension: title, zero-padded
// volume number whenever the book has more than one volume, subtitle, and
// a furigana marker. The result is at most MaxStemBytes long; the title and
// subtitle are shortened, the volume number never is.
func FileStem(book *models.BookModel, furigana bool) string {
	clean := func(s string) string {
		return strings.TrimSpace(strings.NewReplacer("/", "", "\\", "", "\x00", "").Replace(s))
	}

	number := ""
	if book.VolumeCount > 1 {
		number = fmt.Sprintf(" - %02d", book.VolumeIndex)
	}
	sub := ""
	if s := clean(book.Subtitle); s != "" {
		sub = " - " + strings.TrimSpace(truncateBytes(s, maxSubtitleBytes))
	}
	suffix := ""
	if furigana {
		suffix = "_furigana"
	}

	title := clean(book.Title)
	if title == "" {
		title = fmt.Sprintf("volume_%02d", book.VolumeIndex)
		number = ""
	}
	title = strings.TrimSpace(truncateBytes(title, MaxStemBytes-len(number)-len(sub)-len(suffix)))
	return title + number + sub + suffix
}

// truncateBytes cuts s to at most n bytes without splitting a rune.
func truncateBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
