package pipeline

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ChapterFailure records a chapter that was left out of its volume.
type ChapterFailure struct {
	Volume int    `yaml:"volume"`
	Index  int    `yaml:"index"`
	Title  string `yaml:"title"`
	URL    string `yaml:"url"`
	Reason string `yaml:"reason"`
}

// VolumeResult is the outcome of building one volume.
type VolumeResult struct {
	Index          int              `yaml:"index"`
	Label          string           `yaml:"label,omitempty"`
	Requested      int              `yaml:"requested"`
	Written        int              `yaml:"written"`
	Path           string           `yaml:"path,omitempty"`
	RepackagedPath string           `yaml:"repackaged_path,omitempty"`
	Failed         []ChapterFailure `yaml:"failed,omitempty"`
	Warnings       []string         `yaml:"warnings,omitempty"`
	Error          string           `yaml:"error,omitempty"`

	err error
}

func (r VolumeResult) fail(err error) VolumeResult {
	r.err = err
	r.Error = err.Error()
	r.Path = ""
	r.Written = 0
	return r
}

// Err is non-nil when the volume produced no archive.
func (r VolumeResult) Err() error {
	return r.err
}

// Summary describes a whole run.
type Summary struct {
	Title     string         `yaml:"title"`
	SourceURL string         `yaml:"source_url"`
	Started   time.Time      `yaml:"started"`
	Finished  time.Time      `yaml:"finished"`
	Volumes   []VolumeResult `yaml:"volumes"`
}

// Err joins the errors of every failed volume. Skipped chapters alone do
// not make a run fail.
func (s *Summary) Err() error {
	var errs []error
	for _, v := range s.Volumes {
		if v.err != nil {
			errs = append(errs, fmt.Errorf("volume %d: %w", v.Index, v.err))
		}
	}
	return errors.Join(errs...)
}

// Failed lists every skipped chapter in volume order.
func (s *Summary) Failed() []ChapterFailure {
	var out []ChapterFailure
	for _, v := range s.Volumes {
		out = append(out, v.Failed...)
	}
	return out
}

// Print writes a human readable report.
func (s *Summary) Print(w io.Writer) {
	fmt.Fprintf(w, "%s\n", s.Title)
	for _, v := range s.Volumes {
		name := fmt.Sprintf("volume %d", v.Index)
		if v.Label != "" {
			name += " (" + v.Label + ")"
		}
		if v.err != nil {
			fmt.Fprintf(w, "  %s: FAILED: %v\n", name, v.err)
		} else {
			fmt.Fprintf(w, "  %s: %d/%d chapters -> %s\n", name, v.Written, v.Requested, v.Path)
		}
		if v.RepackagedPath != "" {
			fmt.Fprintf(w, "    kobo: %s\n", v.RepackagedPath)
		}
		for _, f := range v.Failed {
			fmt.Fprintf(w, "    skipped chapter %d %s: %s\n", f.Index, f.Title, f.Reason)
		}
		for _, warn := range v.Warnings {
			fmt.Fprintf(w, "    warning: %s\n", warn)
		}
	}
	if !s.Finished.IsZero() {
		fmt.Fprintf(w, "done in %s\n", s.Finished.Sub(s.Started).Round(time.Millisecond))
	}
}

// WriteReport saves the summary as YAML.
func (s *Summary) WriteReport(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating report: %w", err)
	}
	enc := yaml.NewEncoder(f)
	enc.SetIndent(2)
	if err := enc.Encode(s); err != nil {
		f.Close()
		return fmt.Errorf("writing report: %w", err)
	}
	if err := enc.Close(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
