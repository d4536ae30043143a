package models

import (
	"strings"
	"time"
)

// ChapterRef identifies one chapter discovered on a book's listing pages.
// Volume and Index are both 1-based.
type ChapterRef struct {
	Volume int    `json:"volume" yaml:"volume"`
	Index  int    `json:"index" yaml:"index"`
	Title  string `json:"title" yaml:"title"`
	URL    string `json:"url" yaml:"url"`
}

// Volume groups chapters under a listing heading. Label is empty for the
// implicit default volume that holds chapters listed before any heading.
type Volume struct {
	Index    int          `json:"index" yaml:"index"`
	Label    string       `json:"label,omitempty" yaml:"label,omitempty"`
	Chapters []ChapterRef `json:"chapters" yaml:"chapters"`
}

// Catalog is the discovered structure of a book before any chapter is fetched.
type Catalog struct {
	SourceURL string   `json:"source_url" yaml:"source_url"`
	Title     string   `json:"title" yaml:"title"`
	Author    string   `json:"author,omitempty" yaml:"author,omitempty"`
	Volumes   []Volume `json:"volumes" yaml:"volumes"`
}

// ChapterCount returns the number of chapters across all volumes.
func (c *Catalog) ChapterCount() int {
	n := 0
	for _, v := range c.Volumes {
		n += len(v.Chapters)
	}
	return n
}

// Volume returns the volume with the given 1-based index.
func (c *Catalog) Volume(index int) (Volume, bool) {
	for _, v := range c.Volumes {
		if v.Index == index {
			return v, true
		}
	}
	return Volume{}, false
}

// InlineKind classifies a run of text inside a paragraph.
type InlineKind int

const (
	Text InlineKind = iota
	Emphasis
	Ruby
	Break
)

func (k InlineKind) String() string {
	switch k {
	case Text:
		return "text"
	case Emphasis:
		return "emphasis"
	case Ruby:
		return "ruby"
	case Break:
		return "break"
	default:
		return "unknown"
	}
}

// Inline is a run inside a paragraph. For Ruby runs, Text is the base and
// Annotation the reading.
type Inline struct {
	Kind       InlineKind `json:"kind" yaml:"kind"`
	Text       string     `json:"text,omitempty" yaml:"text,omitempty"`
	Annotation string     `json:"annotation,omitempty" yaml:"annotation,omitempty"`
}

// BlockKind classifies a block of chapter content.
type BlockKind int

const (
	Paragraph BlockKind = iota
	LineBreak
)

func (k BlockKind) String() string {
	switch k {
	case Paragraph:
		return "paragraph"
	case LineBreak:
		return "line-break"
	default:
		return "unknown"
	}
}

// Block is one paragraph or one standalone blank line.
type Block struct {
	Kind    BlockKind `json:"kind" yaml:"kind"`
	Inlines []Inline  `json:"inlines,omitempty" yaml:"inlines,omitempty"`
}

// PlainText returns the block's text with ruby readings dropped.
func (b Block) PlainText() string {
	var sb strings.Builder
	for _, in := range b.Inlines {
		if in.Kind == Break {
			sb.WriteByte('\n')
			continue
		}
		sb.WriteString(in.Text)
	}
	return sb.String()
}

// ChapterContent is the normalized body of a single fetched chapter.
// TitleInlines, when set, is an annotated rendering of Title.
type ChapterContent struct {
	Ref          ChapterRef `json:"ref" yaml:"ref"`
	Title        string     `json:"title" yaml:"title"`
	TitleInlines []Inline   `json:"title_inlines,omitempty" yaml:"title_inlines,omitempty"`
	Blocks       []Block    `json:"blocks" yaml:"blocks"`
}

// ChapterRange records the chapter range requested for a volume.
type ChapterRange struct {
	Low  int `json:"low" yaml:"low"`
	High int `json:"high" yaml:"high"`
}

// BookModel is everything the archive writer needs for one volume.
type BookModel struct {
	Identifier  string
	Title       string
	Subtitle    string
	Author      string
	Language    string
	SourceURL   string
	VolumeIndex int
	VolumeCount int
	VolumeLabel string
	Range       *ChapterRange
	Vertical    bool
	Modified    time.Time
	Chapters    []ChapterContent
}

// FullTitle joins title and subtitle the way it is shown in reading systems.
func (b *BookModel) FullTitle() string {
	if b.Subtitle == "" {
		return b.Title
	}
	return b.Title + " ： " + b.Subtitle
}
