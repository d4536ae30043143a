// Package selection narrows a catalog to the volumes and chapters a user
// asked for.
package selection

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/kanbun-tools/syosetu2ebook/internal/models"
)

// Error reports a filter that matches nothing or cannot be parsed. It is
// fatal for the run.
type Error struct {
	Msg string
}

func (e *Error) Error() string { return "selection: " + e.Msg }

func errorf(format string, args ...any) error {
	return &Error{Msg: fmt.Sprintf(format, args...)}
}

// IsError reports whether err is an *Error.
func IsError(err error) bool {
	var se *Error
	return errors.As(err, &se)
}

// Range is an inclusive chapter index range. An open side extends to the
// first or last chapter of the volume.
type Range struct {
	Low      int
	High     int
	OpenLow  bool
	OpenHigh bool
}

func (r Range) String() string {
	var lo, hi string
	if !r.OpenLow {
		lo = strconv.Itoa(r.Low)
	}
	if !r.OpenHigh {
		hi = strconv.Itoa(r.High)
	}
	if !r.OpenLow && !r.OpenHigh && r.Low == r.High {
		return lo
	}
	return lo + "-" + hi
}

// ParseRange parses "5-10", "5-", "-10" or "7".
func ParseRange(s string) (*Range, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, errorf("empty chapter range")
	}

	lo, hi, found := strings.Cut(s, "-")
	if !found {
		n, err := parseBound(s)
		if err != nil {
			return nil, err
		}
		return &Range{Low: n, High: n}, nil
	}

	r := &Range{}
	lo, hi = strings.TrimSpace(lo), strings.TrimSpace(hi)
	if lo == "" && hi == "" {
		return nil, errorf("chapter range %q has no bounds", s)
	}
	if lo == "" {
		r.OpenLow = true
	} else {
		n, err := parseBound(lo)
		if err != nil {
			return nil, err
		}
		r.Low = n
	}
	if hi == "" {
		r.OpenHigh = true
	} else {
		n, err := parseBound(hi)
		if err != nil {
			return nil, err
		}
		r.High = n
	}
	if !r.OpenLow && !r.OpenHigh && r.Low > r.High {
		return nil, errorf("chapter range %q is reversed", s)
	}
	return r, nil
}

func parseBound(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, errorf("invalid chapter number %q", s)
	}
	if n < 1 {
		return 0, errorf("chapter numbers start at 1, got %d", n)
	}
	return n, nil
}

// Group is the chapters chosen from one volume. Range is the resolved,
// closed range when a chapter filter was given.
type Group struct {
	Volume   models.Volume
	Chapters []models.ChapterRef
	Range    *models.ChapterRange
}

// Select returns one group per selected volume in catalog order. volume 0
// selects every volume; chapters nil selects every chapter.
func Select(catalog *models.Catalog, volume int, chapters *Range) ([]Group, error) {
	if catalog == nil || len(catalog.Volumes) == 0 {
		return nil, errorf("catalog has no volumes")
	}

	var volumes []models.Volume
	switch {
	case volume < 0:
		return nil, errorf("invalid volume %d", volume)
	case volume == 0:
		volumes = catalog.Volumes
	default:
		v, ok := catalog.Volume(volume)
		if !ok {
			return nil, errorf("volume %d not found (book has %d)", volume, len(catalog.Volumes))
		}
		volumes = []models.Volume{v}
	}

	groups := make([]Group, 0, len(volumes))
	for _, v := range volumes {
		g, err := selectChapters(v, chapters)
		if err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, nil
}

func selectChapters(v models.Volume, r *Range) (Group, error) {
	if len(v.Chapters) == 0 {
		return Group{}, errorf("volume %d has no chapters", v.Index)
	}
	if r == nil {
		return Group{Volume: v, Chapters: v.Chapters}, nil
	}

	first := v.Chapters[0].Index
	last := v.Chapters[len(v.Chapters)-1].Index

	lo, hi := r.Low, r.High
	if r.OpenLow {
		lo = first
	}
	if r.OpenHigh {
		hi = last
	}
	if !r.OpenLow && (lo < first || lo > last) {
		return Group{}, errorf("chapter %d is outside volume %d (chapters %d-%d)", lo, v.Index, first, last)
	}
	if !r.OpenHigh && (hi < first || hi > last) {
		return Group{}, errorf("chapter %d is outside volume %d (chapters %d-%d)", hi, v.Index, first, last)
	}
	if lo > hi {
		return Group{}, errorf("chapter range %s matches nothing in volume %d (chapters %d-%d)", r, v.Index, first, last)
	}

	var chosen []models.ChapterRef
	for _, ch := range v.Chapters {
		if ch.Index >= lo && ch.Index <= hi {
			chosen = append(chosen, ch)
		}
	}
	if len(chosen) == 0 {
		return Group{}, errorf("chapter range %s matches nothing in volume %d", r, v.Index)
	}
	return Group{
		Volume:   v,
		Chapters: chosen,
		Range:    &models.ChapterRange{Low: chosen[0].Index, High: chosen[len(chosen)-1].Index},
	}, nil
}
