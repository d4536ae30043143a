package site

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSyosetuIsValid(t *testing.T) {
	if err := Syosetu().Validate(); err != nil {
		t.Fatalf("built-in profile invalid: %v", err)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kakuyomu.yaml")
	content := `name: example
chapter_link: "a.widget-toc-episode-episodeTitle"
chapter_body: "div.widget-episodeBody"
vertical: false
max_pages: 5
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write profile: %v", err)
	}

	p, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if p.Name != "example" {
		t.Errorf("Name = %q", p.Name)
	}
	if p.ChapterLink != "a.widget-toc-episode-episodeTitle" {
		t.Errorf("ChapterLink = %q", p.ChapterLink)
	}
	if p.Vertical {
		t.Error("Vertical should be overridden to false")
	}
	if p.MaxPages != 5 {
		t.Errorf("MaxPages = %d, want 5", p.MaxPages)
	}
	// Untouched fields keep the syosetu defaults.
	if p.AuthorPrefix != "作者：" {
		t.Errorf("AuthorPrefix = %q", p.AuthorPrefix)
	}
	if p.Language != "ja" {
		t.Errorf("Language = %q", p.Language)
	}
}

func TestLoadRejectsInvalidProfiles(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"empty body selector", `chapter_body: ""`, "chapter_body"},
		{"zero pages", `max_pages: 0`, "max_pages"},
		{"bad yaml", `chapter_link: [unclosed`, "failed to parse"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "p.yaml")
			if err := os.WriteFile(path, []byte(tt.content), 0644); err != nil {
				t.Fatal(err)
			}
			_, err := Load(path)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Load() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}
