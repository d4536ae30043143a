package toc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/kanbun-tools/syosetu2ebook/internal/fetch"
	"github.com/kanbun-tools/syosetu2ebook/internal/models"
	"github.com/kanbun-tools/syosetu2ebook/internal/site"
)

// StructureError means the listing could not be turned into a usable
// catalog. It is fatal and never retried.
type StructureError struct {
	URL    string
	Reason string
	Err    error
}

func (e *StructureError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("table of contents %s: %s: %v", e.URL, e.Reason, e.Err)
	}
	return fmt.Sprintf("table of contents %s: %s", e.URL, e.Reason)
}

func (e *StructureError) Unwrap() error { return e.Err }

// Scanner walks a book's listing pages and builds its catalog.
type Scanner struct {
	Getter  fetch.Getter
	Profile site.Profile
	Logger  *slog.Logger
}

// NewScanner creates a scanner for the given site profile.
func NewScanner(g fetch.Getter, p site.Profile) *Scanner {
	return &Scanner{Getter: g, Profile: p}
}

func (s *Scanner) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// Scan follows next-page links from rootURL, at most Profile.MaxPages pages,
// and returns the ordered, deduplicated catalog.
func (s *Scanner) Scan(ctx context.Context, rootURL string) (*models.Catalog, error) {
	rootURL = strings.TrimSpace(rootURL)
	maxPages := s.Profile.MaxPages
	if maxPages < 1 {
		maxPages = site.DefaultMaxPages
	}

	acc := newAccumulator()
	catalog := &models.Catalog{SourceURL: rootURL}
	visited := make(map[string]bool)

	pageURL := rootURL
	for page := 1; page <= maxPages; page++ {
		visited[canonicalURL(pageURL)] = true
		s.logger().Info("Downloading table of contents", "page", page, "url", pageURL)

		markup, err := s.Getter.Fetch(ctx, pageURL)
		if err != nil {
			if page == 1 {
				return nil, fmt.Errorf("failed to fetch table of contents: %w", err)
			}
			return nil, &StructureError{URL: pageURL, Reason: fmt.Sprintf("listing page %d unavailable", page), Err: err}
		}

		doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
		if err != nil {
			return nil, &StructureError{URL: pageURL, Reason: "unparseable listing", Err: err}
		}
		base, err := url.Parse(pageURL)
		if err != nil {
			return nil, &StructureError{URL: pageURL, Reason: "invalid page url", Err: err}
		}

		if page == 1 {
			catalog.Title = s.parseTitle(doc)
			catalog.Author = s.parseAuthor(doc)
		}

		s.scanPage(doc, base, acc)

		next := s.nextPage(doc, base)
		if next == "" {
			break
		}
		if visited[canonicalURL(next)] {
			s.logger().Warn("Listing pagination loops back, stopping", "page", page, "next", next)
			break
		}
		if page == maxPages {
			s.logger().Warn("Listing page limit reached, catalog may be incomplete", "max_pages", maxPages, "next", next)
			break
		}
		pageURL = next
	}

	catalog.Volumes = acc.finish()
	if dropped := acc.duplicates; dropped > 0 {
		s.logger().Info("Dropped duplicate chapter listings", "count", dropped)
	}

	if catalog.ChapterCount() == 0 {
		return nil, &StructureError{URL: rootURL, Reason: "no chapters found (empty book or unrecognized listing format)"}
	}
	return catalog, nil
}

func (s *Scanner) parseTitle(doc *goquery.Document) string {
	if s.Profile.Title == "" {
		return ""
	}
	title := strings.TrimSpace(doc.Find(s.Profile.Title).First().Text())
	return s.Profile.NormalizeText(title)
}

func (s *Scanner) parseAuthor(doc *goquery.Document) string {
	if s.Profile.Author == "" {
		return ""
	}
	author := strings.TrimSpace(doc.Find(s.Profile.Author).First().Text())
	if s.Profile.AuthorPrefix != "" {
		if i := strings.Index(author, s.Profile.AuthorPrefix); i >= 0 {
			author = author[i+len(s.Profile.AuthorPrefix):]
		}
	}
	return s.Profile.NormalizeText(strings.TrimSpace(author))
}

// scanPage feeds headings and chapter links to acc in document order.
func (s *Scanner) scanPage(doc *goquery.Document, base *url.URL, acc *accumulator) {
	headings := make(map[*html.Node]bool)
	if s.Profile.VolumeHeading != "" {
		for _, n := range doc.Find(s.Profile.VolumeHeading).Nodes {
			headings[n] = true
		}
	}
	links := make(map[*html.Node]bool)
	for _, n := range doc.Find(s.Profile.ChapterLink).Nodes {
		links[n] = true
	}

	acc.startPage()

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch {
		case headings[n]:
			acc.heading(collapseSpace(nodeText(n)))
			return
		case links[n]:
			href := attr(n, "href")
			if href == "" {
				s.logger().Debug("Skipping chapter link without href", "title", nodeText(n))
				return
			}
			ref, err := base.Parse(href)
			if err != nil {
				s.logger().Warn("Skipping unparseable chapter link", "href", href, "err", err)
				return
			}
			ref.Fragment = ""
			title := s.Profile.NormalizeText(collapseSpace(nodeText(n)))
			acc.chapter(title, ref.String())
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range doc.Nodes {
		walk(n)
	}
}

func (s *Scanner) nextPage(doc *goquery.Document, base *url.URL) string {
	if s.Profile.NextPage == "" {
		return ""
	}
	href, ok := doc.Find(s.Profile.NextPage).First().Attr("href")
	if !ok || strings.TrimSpace(href) == "" {
		return ""
	}
	next, err := base.Parse(strings.TrimSpace(href))
	if err != nil {
		return ""
	}
	next.Fragment = ""
	return next.String()
}

func canonicalURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.Fragment = ""
	return strings.TrimSuffix(u.String(), "/")
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return strings.TrimSpace(a.Val)
		}
	}
	return ""
}

func nodeText(n *html.Node) string {
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

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// IsStructureError reports whether err is a *StructureError.
func IsStructureError(err error) bool {
	var se *StructureError
	return errors.As(err, &se)
}
