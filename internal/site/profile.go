// Package site describes where a novel site keeps the pieces the scanner
// and extractor need.
package site

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultMaxPages bounds listing pagination.
const DefaultMaxPages = 200

// Profile is a set of CSS selectors plus text options for one site.
// Selectors may be comma-separated groups to cover markup revisions.
type Profile struct {
	Name string `yaml:"name"`

	// Listing page.
	Title         string `yaml:"title"`
	Author        string `yaml:"author"`
	AuthorPrefix  string `yaml:"author_prefix"`
	VolumeHeading string `yaml:"volume_heading"`
	ChapterLink   string `yaml:"chapter_link"`
	NextPage      string `yaml:"next_page"`
	MaxPages      int    `yaml:"max_pages"`

	// Chapter page.
	ChapterTitle string   `yaml:"chapter_title"`
	ChapterBody  string   `yaml:"chapter_body"`
	Strip        []string `yaml:"strip"`

	// Output.
	Language        string `yaml:"language"`
	FullwidthDigits bool   `yaml:"fullwidth_digits"`
	Vertical        bool   `yaml:"vertical"`
}

// Syosetu returns the built-in profile for syosetu.com. It matches both the
// legacy markup (novel_honbun et al.) and the current p-novel/p-eplist markup.
func Syosetu() Profile {
	return Profile{
		Name:          "syosetu",
		Title:         "p.novel_title, h1.p-novel__title",
		Author:        "div.novel_writername, div.p-novel__author",
		AuthorPrefix:  "作者：",
		VolumeHeading: "div.chapter_title, div.p-eplist__chapter-title",
		ChapterLink:   "dd.subtitle a, a.p-eplist__subtitle",
		NextPage:      "a.novelview_pager-next, a.c-pager__item--next",
		MaxPages:      DefaultMaxPages,
		ChapterTitle:  "p.novel_subtitle, h1.p-novel__title",
		ChapterBody:   "#novel_honbun, div.p-novel__body > div.p-novel__text:not(.p-novel__text--preface):not(.p-novel__text--afterword)",
		Strip: []string{
			"script", "style", "noscript", "iframe", "ins",
			".koukoku", ".novelview_pager", ".c-pager", ".c-announce",
		},
		Language:        "ja",
		FullwidthDigits: true,
		Vertical:        true,
	}
}

// Load reads a YAML profile from path. Fields missing from the file keep
// the built-in syosetu values.
func Load(path string) (Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, fmt.Errorf("failed to read profile: %w", err)
	}

	p := Syosetu()
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Profile{}, fmt.Errorf("failed to parse profile %s: %w", path, err)
	}
	if err := p.Validate(); err != nil {
		return Profile{}, fmt.Errorf("invalid profile %s: %w", path, err)
	}
	return p, nil
}

// Validate checks that every selector the pipeline relies on is present.
func (p Profile) Validate() error {
	var missing []string
	if strings.TrimSpace(p.ChapterLink) == "" {
		missing = append(missing, "chapter_link")
	}
	if strings.TrimSpace(p.ChapterBody) == "" {
		missing = append(missing, "chapter_body")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required selectors: %s", strings.Join(missing, ", "))
	}
	if p.MaxPages < 1 {
		return fmt.Errorf("max_pages must be at least 1, got %d", p.MaxPages)
	}
	return nil
}
