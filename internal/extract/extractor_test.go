package extract

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kanbun-tools/syosetu2ebook/internal/fetch"
	"github.com/kanbun-tools/syosetu2ebook/internal/models"
	"github.com/kanbun-tools/syosetu2ebook/internal/site"
)

var testRef = models.ChapterRef{Volume: 1, Index: 3, Title: "第３話", URL: "https://ncode.example/n1/3/"}

func legacyPage(body string) string {
	return `<html><head><script>var x = 1;</script></head><body>
<div class="novelview_pager">前へ 次へ</div>
<p class="novel_subtitle">再会の日 2</p>
<div id="novel_honbun" class="novel_view">` + body + `</div>
<div class="koukoku">広告</div>
</body></html>`
}

func parse(t *testing.T, markup string) models.ChapterContent {
	t.Helper()
	e := NewExtractor(nil, site.Syosetu())
	content, err := e.Parse(testRef, markup)
	require.NoError(t, err)
	return content
}

func TestParseParagraphsAndBlankLines(t *testing.T) {
	content := parse(t, legacyPage(`
<p id="L1">　朝が来た。</p>
<p id="L2"><br /></p>
<p id="L3">　彼は3歩進んだ。</p>`))

	assert.Equal(t, "再会の日 ２", content.Title)
	assert.Equal(t, testRef, content.Ref)
	require.Len(t, content.Blocks, 3)

	assert.Equal(t, models.Paragraph, content.Blocks[0].Kind)
	assert.Equal(t, "　朝が来た。", content.Blocks[0].PlainText(), "ideographic indent is kept")
	assert.Equal(t, models.LineBreak, content.Blocks[1].Kind)
	assert.Equal(t, "　彼は３歩進んだ。", content.Blocks[2].PlainText())
}

func TestParseInlineMarkup(t *testing.T) {
	content := parse(t, legacyPage(`<p id="L1">彼は<ruby><rb>魔法</rb><rp>(</rp><rt>まほう</rt><rp>)</rp></ruby>を<em>本当に</em>使った。<br>次の行</p>`))

	require.Len(t, content.Blocks, 1)
	want := []models.Inline{
		{Kind: models.Text, Text: "彼は"},
		{Kind: models.Ruby, Text: "魔法", Annotation: "まほう"},
		{Kind: models.Text, Text: "を"},
		{Kind: models.Emphasis, Text: "本当に"},
		{Kind: models.Text, Text: "使った。"},
		{Kind: models.Break},
		{Kind: models.Text, Text: "次の行"},
	}
	assert.Equal(t, want, content.Blocks[0].Inlines)
}

func TestParseRubyWithoutRb(t *testing.T) {
	content := parse(t, legacyPage(`<p>　<ruby>漢字<rt>かんじ</rt></ruby></p>`))
	require.Len(t, content.Blocks, 1)
	assert.Equal(t, []models.Inline{
		{Kind: models.Text, Text: "　"},
		{Kind: models.Ruby, Text: "漢字", Annotation: "かんじ"},
	}, content.Blocks[0].Inlines)
}

func TestParseBareTextWithBreaks(t *testing.T) {
	content := parse(t, legacyPage("一行目<br>\n二行目<br>\n<br>\n三行目"))

	var kinds []models.BlockKind
	var texts []string
	for _, b := range content.Blocks {
		kinds = append(kinds, b.Kind)
		texts = append(texts, b.PlainText())
	}
	assert.Equal(t, []models.BlockKind{models.Paragraph, models.Paragraph, models.LineBreak, models.Paragraph}, kinds)
	assert.Equal(t, []string{"一行目", "二行目", "", "三行目"}, texts)
}

func TestParseStripsFurniture(t *testing.T) {
	content := parse(t, legacyPage(`<p>本文</p><script>alert(1)</script><div class="koukoku">広告</div><p>続き</p>`))
	require.Len(t, content.Blocks, 2)
	assert.Equal(t, "本文", content.Blocks[0].PlainText())
	assert.Equal(t, "続き", content.Blocks[1].PlainText())
}

func TestParseCurrentMarkupSkipsPrefaceAndAfterword(t *testing.T) {
	markup := `<html><body>
<h1 class="p-novel__title">新章</h1>
<div class="p-novel__body">
  <div class="js-novel-text p-novel__text p-novel__text--preface"><p>前書き</p></div>
  <div class="js-novel-text p-novel__text"><p>　本文一</p><p><br></p><p>　本文二</p></div>
  <div class="js-novel-text p-novel__text p-novel__text--afterword"><p>後書き</p></div>
</div></body></html>`

	content := parse(t, markup)
	assert.Equal(t, "新章", content.Title)
	require.Len(t, content.Blocks, 3)
	assert.Equal(t, "　本文一", content.Blocks[0].PlainText())
	assert.Equal(t, models.LineBreak, content.Blocks[1].Kind)
	assert.Equal(t, "　本文二", content.Blocks[2].PlainText())
}

func TestParseTitleFallsBackToCatalog(t *testing.T) {
	content := parse(t, `<html><body><div id="novel_honbun"><p>x</p></div></body></html>`)
	assert.Equal(t, testRef.Title, content.Title)
}

func TestParseMissingRegion(t *testing.T) {
	e := NewExtractor(nil, site.Syosetu())
	_, err := e.Parse(testRef, `<html><body><p>maintenance</p></body></html>`)

	var ee *Error
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, "content region not found", ee.Reason)
	assert.Equal(t, 3, ee.Ref.Index)
}

type stubGetter struct {
	body string
	err  error
}

func (g stubGetter) Fetch(context.Context, string) (string, error) { return g.body, g.err }

func TestExtractWrapsFetchError(t *testing.T) {
	e := NewExtractor(stubGetter{err: &fetch.PermanentError{URL: testRef.URL, StatusCode: http.StatusNotFound}}, site.Syosetu())

	_, err := e.Extract(context.Background(), testRef)
	require.Error(t, err)
	assert.True(t, IsError(err))
	assert.True(t, fetch.IsPermanent(err))
}

func TestExtractIsDeterministic(t *testing.T) {
	page := legacyPage(`<p>　一</p><p><br></p><p>　<em>二</em></p>`)
	e := NewExtractor(stubGetter{body: page}, site.Syosetu())

	a, err := e.Extract(context.Background(), testRef)
	require.NoError(t, err)
	b, err := e.Extract(context.Background(), testRef)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}
