package toc

import "github.com/kanbun-tools/syosetu2ebook/internal/models"

// accumulator collects listing entries across pages for a single scan. It
// is owned by that scan and handed back only as the finished volume list.
type accumulator struct {
	volumes []models.Volume
	seen    map[string]bool

	// pageFresh is true until the current page produced its first entry;
	// a heading repeated at the top of a new page continues the volume.
	pageFresh  bool
	duplicates int
}

func newAccumulator() *accumulator {
	return &accumulator{seen: make(map[string]bool)}
}

func (a *accumulator) startPage() {
	a.pageFresh = true
}

func (a *accumulator) current() *models.Volume {
	if len(a.volumes) == 0 {
		return nil
	}
	return &a.volumes[len(a.volumes)-1]
}

func (a *accumulator) heading(label string) {
	fresh := a.pageFresh
	a.pageFresh = false
	if cur := a.current(); cur != nil && fresh && cur.Label == label && label != "" {
		return
	}
	a.volumes = append(a.volumes, models.Volume{Label: label})
}

func (a *accumulator) chapter(title, url string) {
	a.pageFresh = false
	if a.seen[url] {
		a.duplicates++
		return
	}
	a.seen[url] = true

	if a.current() == nil {
		// Chapters listed before any heading form the default volume.
		a.volumes = append(a.volumes, models.Volume{})
	}
	cur := a.current()
	cur.Chapters = append(cur.Chapters, models.ChapterRef{Title: title, URL: url})
}

// finish drops empty volumes and assigns gap-free 1-based indices.
func (a *accumulator) finish() []models.Volume {
	out := make([]models.Volume, 0, len(a.volumes))
	for _, v := range a.volumes {
		if len(v.Chapters) == 0 {
			continue
		}
		v.Index = len(out) + 1
		chapters := make([]models.ChapterRef, len(v.Chapters))
		for i, ch := range v.Chapters {
			ch.Volume = v.Index
			ch.Index = i + 1
			chapters[i] = ch
		}
		v.Chapters = chapters
		out = append(out, v)
	}
	return out
}
