package epub

import (
	"archive/zip"
	"fmt"
	"path"
	"strings"

	"github.com/kanbun-tools/syosetu2ebook/internal/models"
)

// ManifestItem is one file listed in the package document. Href is
// relative to the package document.
type ManifestItem struct {
	ID         string `yaml:"id"`
	Href       string `yaml:"href"`
	MediaType  string `yaml:"media_type"`
	Properties string `yaml:"properties,omitempty"`
}

// InvariantError lists every structural inconsistency found in an archive
// plan or a written archive.
type InvariantError struct {
	Problems []string
}

func (e *InvariantError) Error() string {
	return "inconsistent archive structure: " + strings.Join(e.Problems, "; ")
}

// entry is one file in the ZIP stream.
type entry struct {
	Name   string
	Body   []byte
	Method uint16
}

// structure is the cross-referenced view shared by the writer's pre-write
// check and Verify's read-back check.
type structure struct {
	// Root is the package document's directory with a trailing slash.
	Root        string
	PackagePath string

	Entries    []string
	Manifest   []ManifestItem
	Spine      []string
	NavTargets []string
	NCXTargets []string
}

// problems checks the invariants that make an archive openable: mimetype
// first, unique manifest IDs and hrefs, spine and navigation targets in
// the manifest, and a one-to-one match between manifest items and entries.
func (s structure) problems() []string {
	var out []string
	add := func(format string, args ...any) { out = append(out, fmt.Sprintf(format, args...)) }

	if len(s.Entries) == 0 || s.Entries[0] != "mimetype" {
		add("mimetype is not the first entry")
	}

	ids := make(map[string]ManifestItem, len(s.Manifest))
	hrefs := make(map[string]bool, len(s.Manifest))
	for _, m := range s.Manifest {
		if m.ID == "" || m.Href == "" || m.MediaType == "" {
			add("manifest item %q is incomplete", m.ID)
		}
		if _, dup := ids[m.ID]; dup {
			add("duplicate manifest id %q", m.ID)
		}
		if hrefs[m.Href] {
			add("duplicate manifest href %q", m.Href)
		}
		ids[m.ID] = m
		hrefs[m.Href] = true
	}

	if len(s.Spine) == 0 {
		add("spine is empty")
	}
	for _, id := range s.Spine {
		if _, ok := ids[id]; !ok {
			add("spine references unknown id %q", id)
		}
	}
	for _, href := range s.NavTargets {
		if !hrefs[stripFragment(href)] {
			add("navigation targets unknown href %q", href)
		}
	}
	for _, href := range s.NCXTargets {
		if !hrefs[stripFragment(href)] {
			add("ncx targets unknown href %q", href)
		}
	}

	written := make(map[string]int, len(s.Entries))
	for _, name := range s.Entries {
		written[name]++
	}
	for name, n := range written {
		if n > 1 {
			add("entry %q written %d times", name, n)
		}
	}
	for _, m := range s.Manifest {
		if name := s.Root + m.Href; written[name] == 0 {
			add("manifest item %q has no entry %q", m.ID, name)
		}
	}
	for _, name := range s.Entries {
		if name == "mimetype" || name == containerPath || name == s.PackagePath || strings.HasSuffix(name, "/") {
			continue
		}
		if !strings.HasPrefix(name, s.Root) || !hrefs[strings.TrimPrefix(name, s.Root)] {
			add("entry %q is not in the manifest", name)
		}
	}
	return out
}

func stripFragment(href string) string {
	if i := strings.IndexByte(href, '#'); i >= 0 {
		return href[:i]
	}
	return href
}

// plan is everything needed to write one archive, decided up front.
type plan struct {
	structure
	entries    []entry
	chapterIDs []string
}

func chapterID(ref models.ChapterRef) string {
	return fmt.Sprintf("chapter_%04d", ref.Index)
}

func buildPlan(book *models.BookModel) (*plan, error) {
	css, err := stylesheet(book.Vertical)
	if err != nil {
		return nil, fmt.Errorf("failed to load stylesheet: %w", err)
	}

	p := &plan{structure: structure{Root: contentDir, PackagePath: packagePath}}
	add := func(item ManifestItem, body []byte) {
		p.Manifest = append(p.Manifest, item)
		p.entries = append(p.entries, entry{Name: path.Join(contentDir, item.Href), Body: body, Method: zip.Deflate})
	}

	var points []navPoint
	type doc struct {
		item ManifestItem
		body []byte
	}
	chapters := make([]doc, 0, len(book.Chapters))
	for _, c := range book.Chapters {
		id := chapterID(c.Ref)
		item := ManifestItem{ID: id, Href: "text/" + id + ".xhtml", MediaType: xhtmlType}
		chapters = append(chapters, doc{item: item, body: renderChapter(c, id, book.Language)})
		points = append(points, navPoint{Title: c.Title, Href: item.Href})
		p.chapterIDs = append(p.chapterIDs, id)
	}

	ncx, err := renderNCX(book, points)
	if err != nil {
		return nil, fmt.Errorf("failed to render ncx: %w", err)
	}

	titleItem := ManifestItem{ID: "titlepage", Href: "title.xhtml", MediaType: xhtmlType}
	add(ManifestItem{ID: "nav", Href: "nav.xhtml", MediaType: xhtmlType, Properties: "nav"}, renderNav(book, points, titleItem.Href))
	add(ManifestItem{ID: "ncx", Href: "toc.ncx", MediaType: ncxType}, ncx)
	add(ManifestItem{ID: "css", Href: "stylesheet.css", MediaType: cssType}, css)
	add(titleItem, renderTitlePage(book))
	for _, c := range chapters {
		add(c.item, c.body)
	}

	p.Spine = append([]string{titleItem.ID}, p.chapterIDs...)
	for _, pt := range points {
		p.NavTargets = append(p.NavTargets, pt.Href)
	}
	p.NCXTargets = p.NavTargets

	opf, err := renderPackage(book, p.Manifest, p.Spine, "ncx")
	if err != nil {
		return nil, fmt.Errorf("failed to render package document: %w", err)
	}

	head := []entry{
		{Name: "mimetype", Body: []byte(mimetype), Method: zip.Store},
		{Name: containerPath, Body: []byte(containerXML), Method: zip.Deflate},
		{Name: packagePath, Body: opf, Method: zip.Deflate},
	}
	p.entries = append(head, p.entries...)
	for _, e := range p.entries {
		p.Entries = append(p.Entries, e.Name)
	}
	return p, nil
}

// validate runs the structural checks plus the one that needs the book:
// the spine's chapters must follow the book's chapter order exactly.
func (p *plan) validate(book *models.BookModel) error {
	problems := p.problems()

	if len(book.Chapters) == 0 {
		problems = append(problems, "book has no chapters")
	}

	isChapter := make(map[string]bool, len(p.chapterIDs))
	for _, id := range p.chapterIDs {
		isChapter[id] = true
	}
	var spineChapters []string
	for _, id := range p.Spine {
		if isChapter[id] {
			spineChapters = append(spineChapters, id)
		}
	}
	if len(spineChapters) != len(book.Chapters) {
		problems = append(problems, fmt.Sprintf("spine lists %d chapters, book has %d", len(spineChapters), len(book.Chapters)))
	} else {
		for i, c := range book.Chapters {
			if spineChapters[i] != chapterID(c.Ref) {
				problems = append(problems, fmt.Sprintf("spine position %d is %q, want %q", i, spineChapters[i], chapterID(c.Ref)))
			}
		}
	}

	if len(problems) > 0 {
		return &InvariantError{Problems: problems}
	}
	return nil
}
