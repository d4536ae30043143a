package epub

import (
	"embed"
	"encoding/xml"
	"fmt"
	"html"
	"strings"

	"golang.org/x/text/width"

	"github.com/kanbun-tools/syosetu2ebook/internal/models"
)

//go:embed style/*.css
var styles embed.FS

const (
	mimetype      = "application/epub+zip"
	containerPath = "META-INF/container.xml"
	contentDir    = "OEBPS/"
	packagePath   = contentDir + "content.opf"

	xhtmlType = "application/xhtml+xml"
	ncxType   = "application/x-dtbncx+xml"
	cssType   = "text/css"
)

const containerXML = `<?xml version="1.0" encoding="UTF-8"?>
<container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <rootfiles>
    <rootfile full-path="` + packagePath + `" media-type="application/oebps-package+xml"/>
  </rootfiles>
</container>
`

func stylesheet(vertical bool) ([]byte, error) {
	mode := "style/horizontal.css"
	if vertical {
		mode = "style/vertical.css"
	}
	head, err := styles.ReadFile(mode)
	if err != nil {
		return nil, err
	}
	common, err := styles.ReadFile("style/common.css")
	if err != nil {
		return nil, err
	}
	return append(head, common...), nil
}

func xhtmlHead(sb *strings.Builder, lang, title, cssHref string) {
	sb.WriteString(`<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE html>
<html xmlns="http://www.w3.org/1999/xhtml" xmlns:epub="http://www.idpf.org/2007/ops"`)
	fmt.Fprintf(sb, ` lang="%s" xml:lang="%s">
<head>
<meta charset="utf-8"/>
<title>%s</title>
<link rel="stylesheet" type="text/css" href="%s"/>
</head>
`, html.EscapeString(lang), html.EscapeString(lang), html.EscapeString(title), cssHref)
}

// renderChapter produces the content document for one chapter. The output
// depends only on the chapter and language.
func renderChapter(c models.ChapterContent, id, lang string) []byte {
	var sb strings.Builder
	xhtmlHead(&sb, lang, c.Title, "../stylesheet.css")
	fmt.Fprintf(&sb, "<body epub:type=\"bodymatter\">\n<section id=\"%s\">\n<h1>", id)
	if len(c.TitleInlines) > 0 {
		writeInlines(&sb, c.TitleInlines)
	} else {
		sb.WriteString(html.EscapeString(c.Title))
	}
	sb.WriteString("</h1>\n")
	for _, b := range c.Blocks {
		switch b.Kind {
		case models.LineBreak:
			sb.WriteString("<p class=\"blank\"></p>\n")
		default:
			sb.WriteString("<p>")
			writeInlines(&sb, b.Inlines)
			sb.WriteString("</p>\n")
		}
	}
	sb.WriteString("</section>\n</body>\n</html>\n")
	return []byte(sb.String())
}

func writeInlines(sb *strings.Builder, inlines []models.Inline) {
	for _, in := range inlines {
		switch in.Kind {
		case models.Text:
			sb.WriteString(html.EscapeString(in.Text))
		case models.Emphasis:
			sb.WriteString("<em>")
			sb.WriteString(html.EscapeString(in.Text))
			sb.WriteString("</em>")
		case models.Ruby:
			fmt.Fprintf(sb, "<ruby>%s<rp>（</rp><rt>%s</rt><rp>）</rp></ruby>",
				html.EscapeString(in.Text), html.EscapeString(in.Annotation))
		case models.Break:
			sb.WriteString("<br/>")
		}
	}
}

func renderTitlePage(book *models.BookModel) []byte {
	wide := func(s string) string {
		if book.Vertical {
			return width.Widen.String(s)
		}
		return s
	}

	var sb strings.Builder
	xhtmlHead(&sb, book.Language, book.FullTitle(), "stylesheet.css")
	sb.WriteString("<body epub:type=\"frontmatter\">\n<section epub:type=\"titlepage\" class=\"titlepage\">\n")
	fmt.Fprintf(&sb, "<h1>%s</h1>\n", html.EscapeString(wide(book.Title)))
	if book.Subtitle != "" {
		fmt.Fprintf(&sb, "<h2>%s</h2>\n", html.EscapeString(wide(book.Subtitle)))
	}
	if book.Author != "" {
		fmt.Fprintf(&sb, "<p class=\"author\">%s</p>\n", html.EscapeString(wide(book.Author)))
	}
	sb.WriteString("</section>\n</body>\n</html>\n")
	return []byte(sb.String())
}

type navPoint struct {
	Title string
	Href  string
}

func renderNav(book *models.BookModel, points []navPoint, titleHref string) []byte {
	var sb strings.Builder
	xhtmlHead(&sb, book.Language, book.FullTitle(), "stylesheet.css")
	sb.WriteString("<body>\n<nav epub:type=\"toc\" id=\"toc\">\n<h1>目次</h1>\n<ol>\n")
	for _, p := range points {
		fmt.Fprintf(&sb, "<li><a href=\"%s\">%s</a></li>\n", html.EscapeString(p.Href), html.EscapeString(p.Title))
	}
	sb.WriteString("</ol>\n</nav>\n")
	sb.WriteString("<nav epub:type=\"landmarks\" id=\"landmarks\" hidden=\"hidden\">\n<ol>\n")
	fmt.Fprintf(&sb, "<li><a epub:type=\"titlepage\" href=\"%s\">%s</a></li>\n", titleHref, html.EscapeString(book.Title))
	if len(points) > 0 {
		fmt.Fprintf(&sb, "<li><a epub:type=\"bodymatter\" href=\"%s\">本文</a></li>\n", html.EscapeString(points[0].Href))
	}
	sb.WriteString("</ol>\n</nav>\n</body>\n</html>\n")
	return []byte(sb.String())
}

type ncxDoc struct {
	XMLName xml.Name   `xml:"ncx"`
	Xmlns   string     `xml:"xmlns,attr"`
	Version string     `xml:"version,attr"`
	Meta    []ncxMeta  `xml:"head>meta"`
	Title   string     `xml:"docTitle>text"`
	Points  []ncxPoint `xml:"navMap>navPoint"`
}

type ncxMeta struct {
	Name    string `xml:"name,attr"`
	Content string `xml:"content,attr"`
}

type ncxPoint struct {
	ID        string `xml:"id,attr"`
	PlayOrder int    `xml:"playOrder,attr"`
	Label     string `xml:"navLabel>text"`
	Src       struct {
		Href string `xml:"src,attr"`
	} `xml:"content"`
}

func renderNCX(book *models.BookModel, points []navPoint) ([]byte, error) {
	doc := ncxDoc{
		Xmlns:   "http://www.daisy.org/z3986/2005/ncx/",
		Version: "2005-1",
		Meta: []ncxMeta{
			{Name: "dtb:uid", Content: book.Identifier},
			{Name: "dtb:depth", Content: "1"},
		},
		Title: book.FullTitle(),
	}
	for i, p := range points {
		np := ncxPoint{ID: fmt.Sprintf("navpoint_%d", i+1), PlayOrder: i + 1, Label: p.Title}
		np.Src.Href = p.Href
		doc.Points = append(doc.Points, np)
	}
	return marshalXML(doc)
}

type opfPackage struct {
	XMLName  xml.Name    `xml:"package"`
	Xmlns    string      `xml:"xmlns,attr"`
	Version  string      `xml:"version,attr"`
	UniqueID string      `xml:"unique-identifier,attr"`
	Metadata opfMetadata `xml:"metadata"`
	Manifest []opfItem   `xml:"manifest>item"`
	Spine    opfSpine    `xml:"spine"`
}

type opfMetadata struct {
	XmlnsDC    string        `xml:"xmlns:dc,attr"`
	Identifier opfIdentifier `xml:"dc:identifier"`
	Title      string        `xml:"dc:title"`
	Creator    string        `xml:"dc:creator,omitempty"`
	Language   string        `xml:"dc:language"`
	Source     string        `xml:"dc:source,omitempty"`
	Meta       []opfMeta     `xml:"meta"`
}

type opfIdentifier struct {
	ID    string `xml:"id,attr"`
	Value string `xml:",chardata"`
}

type opfMeta struct {
	Property string `xml:"property,attr,omitempty"`
	Name     string `xml:"name,attr,omitempty"`
	Content  string `xml:"content,attr,omitempty"`
	Value    string `xml:",chardata"`
}

type opfItem struct {
	ID         string `xml:"id,attr"`
	Href       string `xml:"href,attr"`
	MediaType  string `xml:"media-type,attr"`
	Properties string `xml:"properties,attr,omitempty"`
}

type opfSpine struct {
	Toc       string       `xml:"toc,attr,omitempty"`
	Direction string       `xml:"page-progression-direction,attr,omitempty"`
	Items     []opfItemRef `xml:"itemref"`
}

type opfItemRef struct {
	IDRef string `xml:"idref,attr"`
}

func renderPackage(book *models.BookModel, manifest []ManifestItem, spine []string, ncxID string) ([]byte, error) {
	pkg := opfPackage{
		Xmlns:    "http://www.idpf.org/2007/opf",
		Version:  "3.0",
		UniqueID: "bookid",
		Metadata: opfMetadata{
			XmlnsDC:    "http://purl.org/dc/elements/1.1/",
			Identifier: opfIdentifier{ID: "bookid", Value: book.Identifier},
			Title:      book.FullTitle(),
			Creator:    book.Author,
			Language:   book.Language,
			Source:     book.SourceURL,
			Meta: []opfMeta{
				{Property: "dcterms:modified", Value: book.Modified.UTC().Format("2006-01-02T15:04:05Z")},
			},
		},
		Spine: opfSpine{Toc: ncxID},
	}
	if book.Vertical {
		pkg.Spine.Direction = "rtl"
		pkg.Metadata.Meta = append(pkg.Metadata.Meta, opfMeta{Name: "primary-writing-mode", Content: "vertical-rl"})
	}
	for _, m := range manifest {
		pkg.Manifest = append(pkg.Manifest, opfItem(m))
	}
	for _, id := range spine {
		pkg.Spine.Items = append(pkg.Spine.Items, opfItemRef{IDRef: id})
	}
	return marshalXML(pkg)
}

func marshalXML(v any) ([]byte, error) {
	out, err := xml.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), append(out, '\n')...), nil
}
