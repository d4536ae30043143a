// Package export writes a scanned catalog for inspection before a build.
package export

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/mattn/go-runewidth"
	"github.com/parquet-go/parquet-go"
	"gopkg.in/yaml.v3"

	"github.com/kanbun-tools/syosetu2ebook/internal/models"
)

// ChapterRow is one catalog chapter, flattened for columnar output.
type ChapterRow struct {
	BookTitle   string `parquet:"book_title"`
	Author      string `parquet:"author"`
	SourceURL   string `parquet:"source_url"`
	Volume      int64  `parquet:"volume"`
	VolumeLabel string `parquet:"volume_label"`
	Chapter     int64  `parquet:"chapter"`
	Title       string `parquet:"title"`
	URL         string `parquet:"url"`
}

// Rows flattens catalog in catalog order.
func Rows(catalog *models.Catalog) []ChapterRow {
	rows := make([]ChapterRow, 0, catalog.ChapterCount())
	for _, v := range catalog.Volumes {
		for _, ch := range v.Chapters {
			rows = append(rows, ChapterRow{
				BookTitle:   catalog.Title,
				Author:      catalog.Author,
				SourceURL:   catalog.SourceURL,
				Volume:      int64(v.Index),
				VolumeLabel: v.Label,
				Chapter:     int64(ch.Index),
				Title:       ch.Title,
				URL:         ch.URL,
			})
		}
	}
	return rows
}

// WriteYAML writes the catalog as a YAML document.
func WriteYAML(w io.Writer, catalog *models.Catalog) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(catalog); err != nil {
		return fmt.Errorf("failed to encode catalog: %w", err)
	}
	return enc.Close()
}

// WriteParquet writes one row per chapter to path.
func WriteParquet(path string, catalog *models.Catalog) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create parquet file: %w", err)
	}

	rows := Rows(catalog)
	w := parquet.NewGenericWriter[ChapterRow](f)
	if _, err := w.Write(rows); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write rows: %w", err)
	}
	if err := w.Close(); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to finish parquet file: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}

	slog.Debug("Wrote parquet catalog", "path", path, "rows", len(rows))
	return nil
}

// ReadParquet reads rows written by WriteParquet.
func ReadParquet(path string) ([]ChapterRow, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open parquet file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}
	pf, err := parquet.OpenFile(file, info.Size())
	if err != nil {
		return nil, fmt.Errorf("failed to open parquet: %w", err)
	}

	reader := parquet.NewGenericReader[ChapterRow](pf)
	defer reader.Close()

	var out []ChapterRow
	batch := make([]ChapterRow, 128)
	for {
		n, err := reader.Read(batch)
		out = append(out, batch[:n]...)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read rows: %w", err)
		}
	}
	return out, nil
}

// WriteText prints a human-readable listing with the numbers accepted by
// the build command's --volume and --chapters flags. Columns are padded by
// display width, so fullwidth titles line up.
func WriteText(w io.Writer, catalog *models.Catalog) error {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s\n", catalog.Title)
	if catalog.Author != "" {
		fmt.Fprintf(&sb, "作者: %s\n", catalog.Author)
	}
	fmt.Fprintf(&sb, "%d volume(s), %d chapter(s)\n", len(catalog.Volumes), catalog.ChapterCount())

	for _, v := range catalog.Volumes {
		label := v.Label
		if label == "" {
			label = "(untitled)"
		}
		fmt.Fprintf(&sb, "\nVolume %d  %s  %d chapters\n", v.Index, label, len(v.Chapters))

		numWidth, titleWidth := 0, 0
		for _, ch := range v.Chapters {
			numWidth = max(numWidth, runewidth.StringWidth(strconv.Itoa(ch.Index)))
			titleWidth = max(titleWidth, runewidth.StringWidth(ch.Title))
		}
		for _, ch := range v.Chapters {
			fmt.Fprintf(&sb, "  %s  %s  %s\n",
				runewidth.FillLeft(strconv.Itoa(ch.Index), numWidth),
				runewidth.FillRight(ch.Title, titleWidth),
				ch.URL)
		}
	}

	_, err := io.WriteString(w, sb.String())
	return err
}
