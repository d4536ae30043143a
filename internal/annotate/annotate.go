// Package annotate adds furigana to extracted chapters through pluggable
// line transforms.
package annotate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/kanbun-tools/syosetu2ebook/internal/models"
)

// ErrLineCount means a transform did not return one line per input line.
var ErrLineCount = errors.New("transform returned a different number of lines")

// ErrAltered means a transform changed the text it was asked to annotate.
var ErrAltered = errors.New("transform altered the text")

// Annotator is a pure, fallible transform over one chapter.
type Annotator interface {
	Annotate(ctx context.Context, c models.ChapterContent) (models.ChapterContent, error)
}

// Transformer maps HTML-escaped text lines to lines that may carry
// <ruby>base<rt>reading</rt></ruby> markup. It must return exactly one
// output line per input line and keep escaped characters escaped.
type Transformer interface {
	TransformLines(ctx context.Context, lines []string) ([]string, error)
}

// Lines annotates a chapter's title and plain text runs. Existing ruby and
// emphasis runs are passed through untouched.
type Lines struct {
	Transformer Transformer
	Logger      *slog.Logger
}

// New wraps t as an Annotator.
func New(t Transformer) *Lines {
	return &Lines{Transformer: t}
}

func (a *Lines) logger() *slog.Logger {
	if a.Logger != nil {
		return a.Logger
	}
	return slog.Default()
}

// slot points at the source of one line: the title when block is -1.
type slot struct {
	block, inline int
}

// Annotate returns an annotated copy of c. c itself is never modified.
func (a *Lines) Annotate(ctx context.Context, c models.ChapterContent) (models.ChapterContent, error) {
	var lines []string
	var slots []slot

	if strings.TrimSpace(c.Title) != "" && len(c.TitleInlines) == 0 {
		lines = append(lines, oneLine(c.Title))
		slots = append(slots, slot{block: -1})
	}
	for bi, b := range c.Blocks {
		for ii, in := range b.Inlines {
			if in.Kind != models.Text || strings.TrimSpace(in.Text) == "" {
				continue
			}
			lines = append(lines, oneLine(in.Text))
			slots = append(slots, slot{block: bi, inline: ii})
		}
	}
	if len(lines) == 0 {
		return c, nil
	}

	sent := make([]string, len(lines))
	for i, l := range lines {
		sent[i] = html.EscapeString(l)
	}
	out, err := a.Transformer.TransformLines(ctx, sent)
	if err != nil {
		return c, fmt.Errorf("chapter %d: %w", c.Ref.Index, err)
	}
	if len(out) != len(lines) {
		return c, fmt.Errorf("chapter %d: %w (sent %d, got %d)", c.Ref.Index, ErrLineCount, len(lines), len(out))
	}

	replaced := make(map[slot][]models.Inline, len(slots))
	for i, s := range slots {
		inlines, err := ParseLine(lines[i], out[i])
		if err != nil {
			return c, fmt.Errorf("chapter %d line %d: %w", c.Ref.Index, i+1, err)
		}
		replaced[s] = inlines
	}

	result := c
	if inl, ok := replaced[slot{block: -1}]; ok && hasRuby(inl) {
		result.TitleInlines = inl
	}
	result.Blocks = make([]models.Block, len(c.Blocks))
	for bi, b := range c.Blocks {
		nb := models.Block{Kind: b.Kind}
		for ii, in := range b.Inlines {
			if inl, ok := replaced[slot{block: bi, inline: ii}]; ok {
				nb.Inlines = append(nb.Inlines, inl...)
				continue
			}
			nb.Inlines = append(nb.Inlines, in)
		}
		result.Blocks[bi] = nb
	}

	a.logger().Debug("Annotated chapter", "chapter", c.Ref.Index, "lines", len(lines))
	return result, nil
}

func oneLine(s string) string {
	return strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ").Replace(s)
}

func hasRuby(in []models.Inline) bool {
	for _, i := range in {
		if i.Kind == models.Ruby {
			return true
		}
	}
	return false
}

// ParseLine turns an annotated line back into inlines and checks that the
// annotation kept the original text. original is the raw text; annotated
// is markup, so literal '<' and '&' must arrive escaped. Surrounding
// whitespace lost by the transform is restored from original.
func ParseLine(original, annotated string) ([]models.Inline, error) {
	inlines := parseRuby(annotated)

	var plain strings.Builder
	for _, in := range inlines {
		plain.WriteString(in.Text)
	}
	if plain.String() == original {
		return inlines, nil
	}

	trimmed := strings.TrimSpace(original)
	if strings.TrimSpace(plain.String()) != trimmed {
		return nil, fmt.Errorf("%w: %q became %q", ErrAltered, original, plain.String())
	}

	lead := original[:strings.Index(original, trimmed)]
	trail := original[len(lead)+len(trimmed):]
	inlines = trimInlineSpace(inlines)
	if lead != "" {
		inlines = append([]models.Inline{{Kind: models.Text, Text: lead}}, inlines...)
	}
	if trail != "" {
		inlines = append(inlines, models.Inline{Kind: models.Text, Text: trail})
	}
	return mergeText(inlines), nil
}

// parseRuby tokenizes markup, keeping text and ruby and ignoring any other
// tags. Each <rt> closes one base/reading pair, so multi-pair ruby
// elements yield several Ruby inlines.
func parseRuby(markup string) []models.Inline {
	var out []models.Inline
	var text, base, reading strings.Builder
	inRuby, inRt, inRp := false, false, false

	flushText := func() {
		if text.Len() > 0 {
			out = append(out, models.Inline{Kind: models.Text, Text: text.String()})
			text.Reset()
		}
	}

	z := html.NewTokenizer(strings.NewReader(markup))
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			break
		}
		tok := z.Token()
		switch tt {
		case html.TextToken:
			switch {
			case inRp:
			case inRt:
				reading.WriteString(tok.Data)
			case inRuby:
				base.WriteString(tok.Data)
			default:
				text.WriteString(tok.Data)
			}
		case html.StartTagToken:
			switch tok.DataAtom {
			case atom.Ruby:
				flushText()
				inRuby = true
			case atom.Rt:
				inRt = true
			case atom.Rp:
				inRp = true
			}
		case html.EndTagToken:
			switch tok.DataAtom {
			case atom.Rt:
				inRt = false
				if base.Len() > 0 {
					out = append(out, models.Inline{Kind: models.Ruby, Text: base.String(), Annotation: strings.TrimSpace(reading.String())})
				}
				base.Reset()
				reading.Reset()
			case atom.Rp:
				inRp = false
			case atom.Ruby:
				inRuby, inRt, inRp = false, false, false
				if base.Len() > 0 {
					out = append(out, models.Inline{Kind: models.Text, Text: base.String()})
				}
				base.Reset()
				reading.Reset()
			}
		}
	}
	text.WriteString(base.String())
	flushText()

	for i := range out {
		if out[i].Kind == models.Ruby && out[i].Annotation == "" {
			out[i].Kind = models.Text
		}
	}
	return mergeText(out)
}

func mergeText(in []models.Inline) []models.Inline {
	var out []models.Inline
	for _, i := range in {
		if n := len(out); n > 0 && i.Kind == models.Text && out[n-1].Kind == models.Text {
			out[n-1].Text += i.Text
			continue
		}
		out = append(out, i)
	}
	return out
}

func trimInlineSpace(in []models.Inline) []models.Inline {
	out := append([]models.Inline(nil), in...)
	if len(out) > 0 && out[0].Kind == models.Text {
		out[0].Text = strings.TrimLeftFunc(out[0].Text, unicode.IsSpace)
		if out[0].Text == "" {
			out = out[1:]
		}
	}
	if n := len(out); n > 0 && out[n-1].Kind == models.Text {
		out[n-1].Text = strings.TrimRightFunc(out[n-1].Text, unicode.IsSpace)
		if out[n-1].Text == "" {
			out = out[:n-1]
		}
	}
	return out
}
