package toc

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kanbun-tools/syosetu2ebook/internal/fetch"
	"github.com/kanbun-tools/syosetu2ebook/internal/models"
	"github.com/kanbun-tools/syosetu2ebook/internal/site"
)

// mapGetter serves canned pages keyed by URL.
type mapGetter struct {
	pages map[string]string
	calls []string
}

func (g *mapGetter) Fetch(_ context.Context, u string) (string, error) {
	g.calls = append(g.calls, u)
	body, ok := g.pages[u]
	if !ok {
		return "", &fetch.PermanentError{URL: u, StatusCode: http.StatusNotFound}
	}
	return body, nil
}

func listing(inner string) string {
	return `<html><body>
<p class="novel_title">テスト小説 2</p>
<div class="novel_writername">作者：<a href="/user/1">山田太郎</a></div>
<div class="index_box">` + inner + `</div></body></html>`
}

func chapterLinks(from, to int) string {
	var sb strings.Builder
	for i := from; i <= to; i++ {
		fmt.Fprintf(&sb, `<dl><dd class="subtitle"><a href="/n1234ab/%d/">第%d話</a></dd></dl>`, i, i)
	}
	return sb.String()
}

func volumeSummary(vols []models.Volume) string {
	var parts []string
	for _, v := range vols {
		parts = append(parts, fmt.Sprintf("%d:%s:%d", v.Index, v.Label, len(v.Chapters)))
	}
	return strings.Join(parts, " ")
}

func TestScanSinglePageNoHeadings(t *testing.T) {
	g := &mapGetter{pages: map[string]string{
		"https://ncode.example/n1234ab/": listing(chapterLinks(1, 3)),
	}}

	cat, err := NewScanner(g, site.Syosetu()).Scan(context.Background(), "https://ncode.example/n1234ab/")
	if err != nil {
		t.Fatalf("Scan() failed: %v", err)
	}

	if cat.Title != "テスト小説 ２" {
		t.Errorf("Title = %q", cat.Title)
	}
	if cat.Author != "山田太郎" {
		t.Errorf("Author = %q", cat.Author)
	}
	if got := volumeSummary(cat.Volumes); got != "1::3" {
		t.Fatalf("volumes = %s", got)
	}
	ch := cat.Volumes[0].Chapters[1]
	if ch.Volume != 1 || ch.Index != 2 || ch.URL != "https://ncode.example/n1234ab/2/" || ch.Title != "第２話" {
		t.Errorf("chapter 2 = %+v", ch)
	}
}

func TestScanVolumesAndDefaultVolume(t *testing.T) {
	inner := chapterLinks(1, 1) +
		`<div class="chapter_title">第一章</div>` + chapterLinks(2, 3) +
		`<div class="chapter_title">第二章</div>` + chapterLinks(4, 6)
	g := &mapGetter{pages: map[string]string{"https://ncode.example/n1/": listing(inner)}}

	cat, err := NewScanner(g, site.Syosetu()).Scan(context.Background(), "https://ncode.example/n1/")
	if err != nil {
		t.Fatalf("Scan() failed: %v", err)
	}
	if got := volumeSummary(cat.Volumes); got != "1::1 2:第一章:2 3:第二章:3" {
		t.Errorf("volumes = %s", got)
	}
	for _, v := range cat.Volumes {
		for i, ch := range v.Chapters {
			if ch.Index != i+1 || ch.Volume != v.Index {
				t.Errorf("volume %d chapter %d has ref %+v", v.Index, i, ch)
			}
		}
	}
}

func TestScanFollowsPaginationAndDedups(t *testing.T) {
	page1 := listing(`<div class="chapter_title">第一章</div>` + chapterLinks(1, 3) +
		`<a href="/n1/?p=2" class="novelview_pager-next">次へ</a>`)
	// Page two repeats the heading and the last chapter of page one.
	page2 := listing(`<div class="chapter_title">第一章</div>` + chapterLinks(3, 5) +
		`<div class="chapter_title">第二章</div>` + chapterLinks(6, 7) +
		`<a href="/n1/?p=3" class="novelview_pager-next">次へ</a>`)
	page3 := listing(chapterLinks(8, 9))

	g := &mapGetter{pages: map[string]string{
		"https://ncode.example/n1/":     page1,
		"https://ncode.example/n1/?p=2": page2,
		"https://ncode.example/n1/?p=3": page3,
	}}

	cat, err := NewScanner(g, site.Syosetu()).Scan(context.Background(), "https://ncode.example/n1/")
	if err != nil {
		t.Fatalf("Scan() failed: %v", err)
	}
	if got := volumeSummary(cat.Volumes); got != "1:第一章:5 2:第二章:4" {
		t.Errorf("volumes = %s", got)
	}
	if len(g.calls) != 3 {
		t.Errorf("fetched %d pages, want 3", len(g.calls))
	}

	urls := make(map[string]bool)
	for _, v := range cat.Volumes {
		for _, ch := range v.Chapters {
			if urls[ch.URL] {
				t.Errorf("duplicate url %s", ch.URL)
			}
			urls[ch.URL] = true
		}
	}
}

func TestScanStopsAtMaxPages(t *testing.T) {
	pages := make(map[string]string)
	for i := 1; i <= 10; i++ {
		u := fmt.Sprintf("https://ncode.example/n1/?p=%d", i)
		pages[u] = listing(chapterLinks(i, i) + fmt.Sprintf(`<a class="novelview_pager-next" href="/n1/?p=%d">次へ</a>`, i+1))
	}
	g := &mapGetter{pages: pages}

	p := site.Syosetu()
	p.MaxPages = 3
	cat, err := NewScanner(g, p).Scan(context.Background(), "https://ncode.example/n1/?p=1")
	if err != nil {
		t.Fatalf("Scan() failed: %v", err)
	}
	if len(g.calls) != 3 {
		t.Errorf("fetched %d pages, want 3", len(g.calls))
	}
	if cat.ChapterCount() != 3 {
		t.Errorf("chapters = %d, want 3", cat.ChapterCount())
	}
}

func TestScanDetectsPaginationLoop(t *testing.T) {
	g := &mapGetter{pages: map[string]string{
		"https://ncode.example/n1/":     listing(chapterLinks(1, 1) + `<a class="novelview_pager-next" href="/n1/?p=2">次へ</a>`),
		"https://ncode.example/n1/?p=2": listing(chapterLinks(2, 2) + `<a class="novelview_pager-next" href="/n1/">次へ</a>`),
	}}

	cat, err := NewScanner(g, site.Syosetu()).Scan(context.Background(), "https://ncode.example/n1/")
	if err != nil {
		t.Fatalf("Scan() failed: %v", err)
	}
	if len(g.calls) != 2 || cat.ChapterCount() != 2 {
		t.Errorf("calls=%d chapters=%d", len(g.calls), cat.ChapterCount())
	}
}

func TestScanEmptyListingIsStructureError(t *testing.T) {
	g := &mapGetter{pages: map[string]string{
		"https://ncode.example/n1/": listing(`<p>nothing here</p>`),
	}}

	_, err := NewScanner(g, site.Syosetu()).Scan(context.Background(), "https://ncode.example/n1/")
	var se *StructureError
	if !errors.As(err, &se) {
		t.Fatalf("expected StructureError, got %v", err)
	}
	if !IsStructureError(err) {
		t.Error("IsStructureError() = false")
	}
}

func TestScanFirstPageFetchFailure(t *testing.T) {
	g := &mapGetter{pages: map[string]string{}}

	_, err := NewScanner(g, site.Syosetu()).Scan(context.Background(), "https://ncode.example/missing/")
	if !fetch.IsPermanent(err) {
		t.Fatalf("expected permanent fetch error, got %v", err)
	}
}

func TestScanLaterPageFailureIsStructureError(t *testing.T) {
	g := &mapGetter{pages: map[string]string{
		"https://ncode.example/n1/": listing(chapterLinks(1, 2) + `<a class="novelview_pager-next" href="/n1/?p=2">次へ</a>`),
	}}

	_, err := NewScanner(g, site.Syosetu()).Scan(context.Background(), "https://ncode.example/n1/")
	if !IsStructureError(err) {
		t.Fatalf("expected StructureError, got %v", err)
	}
	if !fetch.IsPermanent(err) {
		t.Error("cause should stay reachable through errors.As")
	}
}

func TestScanCurrentSyosetuMarkup(t *testing.T) {
	page := `<html><body>
<h1 class="p-novel__title">新しい小説</h1>
<div class="p-novel__author">作者：<a href="/u/2">佐藤</a></div>
<div class="p-eplist">
  <div class="p-eplist__chapter-title">プロローグ</div>
  <div class="p-eplist__sublist"><a href="/n9/1/" class="p-eplist__subtitle">始まり</a></div>
  <div class="p-eplist__sublist"><a href="/n9/2/" class="p-eplist__subtitle">出会い</a></div>
</div></body></html>`

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(page))
	}))
	defer srv.Close()

	f := fetch.NewFetcher(fetch.Config{MaxAttempts: 1})
	cat, err := NewScanner(f, site.Syosetu()).Scan(context.Background(), srv.URL+"/n9/")
	if err != nil {
		t.Fatalf("Scan() failed: %v", err)
	}
	if cat.Title != "新しい小説" || cat.Author != "佐藤" {
		t.Errorf("title=%q author=%q", cat.Title, cat.Author)
	}
	if got := volumeSummary(cat.Volumes); got != "1:プロローグ:2" {
		t.Errorf("volumes = %s", got)
	}
	if want := srv.URL + "/n9/2/"; cat.Volumes[0].Chapters[1].URL != want {
		t.Errorf("url = %s, want %s", cat.Volumes[0].Chapters[1].URL, want)
	}
}
