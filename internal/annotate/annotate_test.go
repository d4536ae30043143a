package annotate

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kanbun-tools/syosetu2ebook/internal/models"
	"github.com/kanbun-tools/syosetu2ebook/internal/providers"
)

// replacer annotates a fixed dictionary of words.
type replacer map[string]string

func (r replacer) TransformLines(_ context.Context, lines []string) ([]string, error) {
	out := make([]string, len(lines))
	for i, l := range lines {
		for word, reading := range r {
			l = strings.ReplaceAll(l, word, "<ruby>"+word+"<rt>"+reading+"</rt></ruby>")
		}
		out[i] = l
	}
	return out, nil
}

type transformFunc func(ctx context.Context, lines []string) ([]string, error)

func (f transformFunc) TransformLines(ctx context.Context, lines []string) ([]string, error) {
	return f(ctx, lines)
}

func chapter() models.ChapterContent {
	return models.ChapterContent{
		Ref:   models.ChapterRef{Volume: 1, Index: 4},
		Title: "魔法の日",
		Blocks: []models.Block{
			{Kind: models.Paragraph, Inlines: []models.Inline{
				{Kind: models.Text, Text: "　彼は魔法を"},
				{Kind: models.Ruby, Text: "魔法", Annotation: "マジック"},
				{Kind: models.Emphasis, Text: "魔法"},
			}},
			{Kind: models.LineBreak},
			{Kind: models.Paragraph, Inlines: []models.Inline{{Kind: models.Text, Text: "ひらがな"}}},
		},
	}
}

func TestAnnotateKeepsExistingRuby(t *testing.T) {
	in := chapter()
	out, err := New(replacer{"魔法": "まほう"}).Annotate(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, []models.Inline{
		{Kind: models.Ruby, Text: "魔法", Annotation: "まほう"},
		{Kind: models.Text, Text: "の日"},
	}, out.TitleInlines)
	assert.Equal(t, []models.Inline{
		{Kind: models.Text, Text: "　彼は"},
		{Kind: models.Ruby, Text: "魔法", Annotation: "まほう"},
		{Kind: models.Text, Text: "を"},
		{Kind: models.Ruby, Text: "魔法", Annotation: "マジック"},
		{Kind: models.Emphasis, Text: "魔法"},
	}, out.Blocks[0].Inlines)
	assert.Equal(t, models.LineBreak, out.Blocks[1].Kind)
	assert.Equal(t, "ひらがな", out.Blocks[2].PlainText())

	// The input is left alone.
	assert.Equal(t, chapter(), in)
}

func TestAnnotateLineCountMismatch(t *testing.T) {
	short := transformFunc(func(_ context.Context, lines []string) ([]string, error) {
		return lines[:len(lines)-1], nil
	})
	in := chapter()
	out, err := New(short).Annotate(context.Background(), in)
	require.ErrorIs(t, err, ErrLineCount)
	assert.Equal(t, in, out, "failed annotation returns the chapter unchanged")
}

func TestAnnotateRejectsAlteredText(t *testing.T) {
	rewrite := transformFunc(func(_ context.Context, lines []string) ([]string, error) {
		out := make([]string, len(lines))
		for i := range lines {
			out[i] = "別の文"
		}
		return out, nil
	})
	_, err := New(rewrite).Annotate(context.Background(), chapter())
	require.ErrorIs(t, err, ErrAltered)
}

func TestAnnotateEscapesMarkupLikeText(t *testing.T) {
	var got []string
	identity := transformFunc(func(_ context.Context, lines []string) ([]string, error) {
		got = append(got, lines...)
		return lines, nil
	})
	in := models.ChapterContent{
		Ref:   models.ChapterRef{Volume: 1, Index: 2},
		Title: "<HP>回復",
		Blocks: []models.Block{
			{Kind: models.Paragraph, Inlines: []models.Inline{{Kind: models.Text, Text: "スキル<Lv5>を得た &amp; 喜んだ"}}},
		},
	}

	out, err := New(identity).Annotate(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, []string{"&lt;HP&gt;回復", "スキル&lt;Lv5&gt;を得た &amp;amp; 喜んだ"}, got)
	assert.Equal(t, "スキル<Lv5>を得た &amp; 喜んだ", out.Blocks[0].PlainText())
	assert.Empty(t, out.TitleInlines)
}

func TestParseLine(t *testing.T) {
	tests := []struct {
		name      string
		original  string
		annotated string
		want      []models.Inline
		wantErr   bool
	}{
		{
			name:      "rp and rb are tolerated",
			original:  "漢字です",
			annotated: "<ruby><rb>漢字</rb><rp>(</rp><rt>かんじ</rt><rp>)</rp></ruby>です",
			want: []models.Inline{
				{Kind: models.Ruby, Text: "漢字", Annotation: "かんじ"},
				{Kind: models.Text, Text: "です"},
			},
		},
		{
			name:      "multiple pairs in one ruby",
			original:  "漢字",
			annotated: "<ruby>漢<rt>かん</rt>字<rt>じ</rt></ruby>",
			want: []models.Inline{
				{Kind: models.Ruby, Text: "漢", Annotation: "かん"},
				{Kind: models.Ruby, Text: "字", Annotation: "じ"},
			},
		},
		{
			name:      "lost indentation is restored",
			original:  "　朝",
			annotated: "<ruby>朝<rt>あさ</rt></ruby>",
			want: []models.Inline{
				{Kind: models.Text, Text: "　"},
				{Kind: models.Ruby, Text: "朝", Annotation: "あさ"},
			},
		},
		{
			name:      "empty reading becomes text",
			original:  "朝だ",
			annotated: "<ruby>朝<rt></rt></ruby>だ",
			want:      []models.Inline{{Kind: models.Text, Text: "朝だ"}},
		},
		{
			name:      "unrelated tags are dropped",
			original:  "朝",
			annotated: "<span>朝</span>",
			want:      []models.Inline{{Kind: models.Text, Text: "朝"}},
		},
		{
			name:      "escaped tag-like text",
			original:  "スキル<Lv5>を得た&",
			annotated: "スキル&lt;Lv5&gt;を<ruby>得<rt>え</rt></ruby>た&amp;",
			want: []models.Inline{
				{Kind: models.Text, Text: "スキル<Lv5>を"},
				{Kind: models.Ruby, Text: "得", Annotation: "え"},
				{Kind: models.Text, Text: "た&"},
			},
		},
		{
			name:      "changed text",
			original:  "朝",
			annotated: "夜",
			wantErr:   true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseLine(tt.original, tt.annotated)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrAltered)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCommandTransform(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	cmd := &Command{Path: "sh", Args: []string{"-c", `sed 's/朝/<ruby>朝<rt>あさ<\/rt><\/ruby>/g'`}}

	out, err := cmd.TransformLines(context.Background(), []string{"朝だ", "夜だ"})
	require.NoError(t, err)
	assert.Equal(t, []string{"<ruby>朝<rt>あさ</rt></ruby>だ", "夜だ"}, out)
}

func TestCommandFailureIncludesStderr(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	cmd := &Command{Path: "sh", Args: []string{"-c", "echo dictionary missing >&2; exit 3"}}

	_, err := cmd.TransformLines(context.Background(), []string{"朝"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dictionary missing")
}

func TestNewCommand(t *testing.T) {
	c, err := NewCommand("furigana-gen --html  --skip-ruby")
	require.NoError(t, err)
	assert.Equal(t, "furigana-gen", c.Path)
	assert.Equal(t, []string{"--html", "--skip-ruby"}, c.Args)

	_, err = NewCommand("   ")
	assert.Error(t, err)
}

type fakeProvider struct {
	calls   []providers.Request
	respond func(prompt string) string
	err     error
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Complete(_ context.Context, req providers.Request) (string, error) {
	f.calls = append(f.calls, req)
	if f.err != nil {
		return "", f.err
	}
	return f.respond(req.Prompt), nil
}

func TestLLMBatchesAndStripsFences(t *testing.T) {
	p := &fakeProvider{respond: func(prompt string) string {
		return "```html\n" + strings.ReplaceAll(prompt, "朝", "<ruby>朝<rt>あさ</rt></ruby>") + "\n```\n"
	}}
	llm := &LLM{Provider: p, Model: "m", BatchSize: 2}

	out, err := llm.TransformLines(context.Background(), []string{"朝1", "朝2", "朝3"})
	require.NoError(t, err)
	assert.Len(t, p.calls, 2)
	assert.Equal(t, "m", p.calls[0].Model)
	assert.Zero(t, p.calls[0].Temperature)
	assert.NotEmpty(t, p.calls[0].System)
	assert.Equal(t, []string{
		"<ruby>朝<rt>あさ</rt></ruby>1",
		"<ruby>朝<rt>あさ</rt></ruby>2",
		"<ruby>朝<rt>あさ</rt></ruby>3",
	}, out)
}

func TestLLMLineCountMismatch(t *testing.T) {
	p := &fakeProvider{respond: func(string) string { return "only one line" }}
	_, err := (&LLM{Provider: p}).TransformLines(context.Background(), []string{"a", "b"})
	require.ErrorIs(t, err, ErrLineCount)
}

func TestLLMProviderError(t *testing.T) {
	p := &fakeProvider{err: providers.ErrMissingKey}
	_, err := (&LLM{Provider: p}).TransformLines(context.Background(), []string{"a"})
	require.True(t, errors.Is(err, providers.ErrMissingKey))
}

func TestNewProvider(t *testing.T) {
	for _, name := range []string{"gemini", "ollama", "OpenAI"} {
		p, err := NewProvider(name)
		require.NoError(t, err)
		assert.Equal(t, strings.ToLower(name), p.Name())
	}
	_, err := NewProvider("mecab")
	assert.Error(t, err)
}
