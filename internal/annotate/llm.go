package annotate

import (
	"context"
	"fmt"
	"strings"

	"github.com/kanbun-tools/syosetu2ebook/internal/gemini"
	"github.com/kanbun-tools/syosetu2ebook/internal/ollama"
	"github.com/kanbun-tools/syosetu2ebook/internal/openai"
	"github.com/kanbun-tools/syosetu2ebook/internal/providers"
)

const furiganaPrompt = `You add furigana to Japanese text.
For every word containing kanji, wrap it as <ruby>word<rt>reading</rt></ruby> with the reading in hiragana.
Each input line is one segment. Return exactly the same number of lines in the same order.
Do not change, translate, join or split any text, and do not add commentary or code fences.
Lines without kanji are returned unchanged.
The input is HTML-escaped: keep entities such as &lt; &gt; &amp; exactly as they are.`

// DefaultBatchSize bounds the number of lines per request.
const DefaultBatchSize = 40

// LLM asks a language model provider for ruby markup.
type LLM struct {
	Provider  providers.Provider
	Model     string
	BatchSize int
}

// TransformLines sends lines in batches and checks each batch's line count.
func (l *LLM) TransformLines(ctx context.Context, lines []string) ([]string, error) {
	size := l.BatchSize
	if size <= 0 {
		size = DefaultBatchSize
	}

	out := make([]string, 0, len(lines))
	for start := 0; start < len(lines); start += size {
		end := min(start+size, len(lines))
		batch := lines[start:end]

		resp, err := l.Provider.Complete(ctx, providers.Request{
			Model:       l.Model,
			Temperature: 0,
			System:      furiganaPrompt,
			Prompt:      strings.Join(batch, "\n"),
		})
		if err != nil {
			return nil, fmt.Errorf("%s: %w", l.Provider.Name(), err)
		}

		got := splitLines(stripFences(resp))
		if len(got) != len(batch) {
			return nil, fmt.Errorf("%s: %w (sent %d, got %d)", l.Provider.Name(), ErrLineCount, len(batch), len(got))
		}
		out = append(out, got...)
	}
	return out, nil
}

// stripFences removes a surrounding Markdown code fence, which models add
// despite being told not to.
func stripFences(s string) string {
	t := strings.TrimSpace(s)
	if !strings.HasPrefix(t, "```") {
		return strings.TrimRight(s, "\n")
	}
	t = strings.TrimPrefix(t, "```")
	if i := strings.IndexByte(t, '\n'); i >= 0 {
		t = t[i+1:]
	}
	t = strings.TrimSuffix(strings.TrimRight(t, "\n"), "```")
	return strings.TrimRight(t, "\n")
}

// NewProvider returns the named provider configured from the environment.
func NewProvider(name string) (providers.Provider, error) {
	switch strings.ToLower(name) {
	case "gemini":
		return gemini.New(), nil
	case "ollama":
		return ollama.New(), nil
	case "openai":
		return openai.New(), nil
	default:
		return nil, fmt.Errorf("unknown furigana provider %q", name)
	}
}
