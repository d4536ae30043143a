// Package extract turns a chapter page into normalized content blocks.
package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/kanbun-tools/syosetu2ebook/internal/fetch"
	"github.com/kanbun-tools/syosetu2ebook/internal/models"
	"github.com/kanbun-tools/syosetu2ebook/internal/site"
)

// Error is a per-chapter extraction failure. The pipeline records it and
// carries on with the remaining chapters.
type Error struct {
	Ref    models.ChapterRef
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("chapter %d (%s): %s: %v", e.Ref.Index, e.Ref.URL, e.Reason, e.Err)
	}
	return fmt.Sprintf("chapter %d (%s): %s", e.Ref.Index, e.Ref.URL, e.Reason)
}

func (e *Error) Unwrap() error { return e.Err }

// IsError reports whether err is an *Error.
func IsError(err error) bool {
	var ee *Error
	return errors.As(err, &ee)
}

// Extractor fetches chapter pages and converts their body region.
type Extractor struct {
	Getter  fetch.Getter
	Profile site.Profile
	Logger  *slog.Logger
}

// NewExtractor creates an extractor for the given site profile.
func NewExtractor(g fetch.Getter, p site.Profile) *Extractor {
	return &Extractor{Getter: g, Profile: p}
}

func (e *Extractor) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

// Extract downloads ref and parses it.
func (e *Extractor) Extract(ctx context.Context, ref models.ChapterRef) (models.ChapterContent, error) {
	e.logger().Debug("Downloading chapter", "volume", ref.Volume, "chapter", ref.Index, "url", ref.URL)

	markup, err := e.Getter.Fetch(ctx, ref.URL)
	if err != nil {
		return models.ChapterContent{}, &Error{Ref: ref, Reason: "fetch failed", Err: err}
	}
	return e.Parse(ref, markup)
}

// Parse converts already-fetched chapter markup. It does no I/O.
func (e *Extractor) Parse(ref models.ChapterRef, markup string) (models.ChapterContent, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return models.ChapterContent{}, &Error{Ref: ref, Reason: "unparseable page", Err: err}
	}

	for _, sel := range e.Profile.Strip {
		doc.Find(sel).Remove()
	}

	region := doc.Find(e.Profile.ChapterBody)
	if region.Length() == 0 {
		return models.ChapterContent{}, &Error{Ref: ref, Reason: "content region not found"}
	}

	c := &converter{normalize: e.Profile.NormalizeText}
	for _, n := range region.Nodes {
		c.container(n)
		c.flush()
	}

	content := models.ChapterContent{
		Ref:    ref,
		Title:  e.title(doc, ref),
		Blocks: trimBlankEdges(c.blocks),
	}
	if len(content.Blocks) == 0 {
		e.logger().Warn("Chapter body is empty", "chapter", ref.Index, "url", ref.URL)
	}
	return content, nil
}

func (e *Extractor) title(doc *goquery.Document, ref models.ChapterRef) string {
	if e.Profile.ChapterTitle != "" {
		if t := strings.Join(strings.Fields(doc.Find(e.Profile.ChapterTitle).First().Text()), " "); t != "" {
			return e.Profile.NormalizeText(t)
		}
	}
	return ref.Title
}

// converter accumulates blocks for one chapter body.
type converter struct {
	normalize func(string) string
	blocks    []models.Block

	// bare collects text and inline markup sitting directly in a container.
	bare []models.Inline
}

func isBlockElement(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	switch n.DataAtom {
	case atom.P, atom.Div, atom.Section, atom.Article, atom.Blockquote,
		atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6, atom.Li:
		return true
	}
	return false
}

func hasBlockChild(n *html.Node) bool {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if isBlockElement(c) {
			return true
		}
	}
	return false
}

// container walks the children of a region or nested wrapper.
func (c *converter) container(n *html.Node) {
	for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
		switch {
		case isBlockElement(ch) && hasBlockChild(ch):
			c.flush()
			c.container(ch)
			c.flush()
		case isBlockElement(ch):
			c.flush()
			c.paragraph(c.inlines(ch, false))
		case ch.Type == html.ElementNode && ch.DataAtom == atom.Br:
			if hasContent(c.bare) {
				c.flush()
			} else {
				c.bare = nil
				c.blocks = append(c.blocks, models.Block{Kind: models.LineBreak})
			}
		case ch.Type == html.TextNode:
			if strings.TrimSpace(ch.Data) == "" && len(c.bare) == 0 {
				continue
			}
			c.bare = appendInline(c.bare, models.Inline{Kind: models.Text, Text: c.normalize(ch.Data)})
		case ch.Type == html.ElementNode:
			c.bare = append(c.bare, c.inline(ch, false)...)
		}
	}
}

func (c *converter) flush() {
	if len(c.bare) == 0 {
		return
	}
	c.paragraph(c.bare)
	c.bare = nil
}

// paragraph appends a block for inlines: a LineBreak when it holds
// nothing but breaks, nothing when it is empty.
func (c *converter) paragraph(inlines []models.Inline) {
	inlines = trimEdges(inlines)
	if !hasContent(inlines) {
		for _, in := range inlines {
			if in.Kind == models.Break {
				c.blocks = append(c.blocks, models.Block{Kind: models.LineBreak})
				return
			}
		}
		return
	}
	c.blocks = append(c.blocks, models.Block{Kind: models.Paragraph, Inlines: inlines})
}

func (c *converter) inlines(n *html.Node, emphasis bool) []models.Inline {
	var out []models.Inline
	for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
		out = append(out, c.inline(ch, emphasis)...)
	}
	return out
}

func (c *converter) inline(n *html.Node, emphasis bool) []models.Inline {
	switch n.Type {
	case html.TextNode:
		kind := models.Text
		if emphasis {
			kind = models.Emphasis
		}
		return []models.Inline{{Kind: kind, Text: c.normalize(n.Data)}}
	case html.ElementNode:
	default:
		return nil
	}

	switch n.DataAtom {
	case atom.Br:
		return []models.Inline{{Kind: models.Break}}
	case atom.Ruby:
		return c.ruby(n)
	case atom.Rt, atom.Rp, atom.Script, atom.Style, atom.Img:
		return nil
	case atom.Em, atom.Strong, atom.B, atom.I:
		return mergeRuns(c.inlines(n, true))
	case atom.Span:
		if hasClass(n, "emphasis") || hasClass(n, "sesame") {
			return mergeRuns(c.inlines(n, true))
		}
	}
	return mergeRuns(c.inlines(n, emphasis))
}

// ruby collects the base text (bare text and <rb>) and the reading (<rt>).
func (c *converter) ruby(n *html.Node) []models.Inline {
	var base, reading strings.Builder
	for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
		switch {
		case ch.Type == html.TextNode:
			base.WriteString(ch.Data)
		case ch.DataAtom == atom.Rb:
			base.WriteString(textOf(ch))
		case ch.DataAtom == atom.Rt:
			reading.WriteString(textOf(ch))
		}
	}
	b := strings.TrimSpace(base.String())
	r := strings.TrimSpace(reading.String())
	if b == "" {
		return nil
	}
	if r == "" {
		return []models.Inline{{Kind: models.Text, Text: c.normalize(b)}}
	}
	return []models.Inline{{Kind: models.Ruby, Text: c.normalize(b), Annotation: r}}
}

func textOf(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}

func hasClass(n *html.Node, class string) bool {
	for _, a := range n.Attr {
		if a.Key == "class" {
			for _, f := range strings.Fields(a.Val) {
				if f == class {
					return true
				}
			}
		}
	}
	return false
}

// appendInline adds in, merging it into a preceding run of the same kind.
func appendInline(out []models.Inline, in models.Inline) []models.Inline {
	if n := len(out); n > 0 && in.Kind != models.Ruby && in.Kind != models.Break && out[n-1].Kind == in.Kind {
		out[n-1].Text += in.Text
		return out
	}
	return append(out, in)
}

func mergeRuns(in []models.Inline) []models.Inline {
	var out []models.Inline
	for _, i := range in {
		out = appendInline(out, i)
	}
	return out
}

// asciiSpace excludes U+3000, which opens Japanese paragraphs.
const asciiSpace = " \t\r\n\f"

// trimEdges strips markup whitespace at the paragraph edges only.
func trimEdges(in []models.Inline) []models.Inline {
	in = mergeRuns(in)
	for len(in) > 0 && in[0].Kind != models.Ruby && in[0].Kind != models.Break {
		in[0].Text = strings.TrimLeft(in[0].Text, asciiSpace)
		if in[0].Text != "" {
			break
		}
		in = in[1:]
	}
	for len(in) > 0 {
		last := &in[len(in)-1]
		if last.Kind == models.Ruby {
			break
		}
		if last.Kind == models.Break {
			if hasContent(in) {
				in = in[:len(in)-1]
				continue
			}
			break
		}
		last.Text = strings.TrimRight(last.Text, asciiSpace)
		if last.Text != "" {
			break
		}
		in = in[:len(in)-1]
	}
	return in
}

func hasContent(in []models.Inline) bool {
	for _, i := range in {
		switch i.Kind {
		case models.Ruby:
			return true
		case models.Text, models.Emphasis:
			if strings.Trim(i.Text, asciiSpace) != "" {
				return true
			}
		}
	}
	return false
}

// trimBlankEdges drops blank lines before the first and after the last
// paragraph.
func trimBlankEdges(blocks []models.Block) []models.Block {
	for len(blocks) > 0 && blocks[0].Kind == models.LineBreak {
		blocks = blocks[1:]
	}
	for len(blocks) > 0 && blocks[len(blocks)-1].Kind == models.LineBreak {
		blocks = blocks[:len(blocks)-1]
	}
	return blocks
}
