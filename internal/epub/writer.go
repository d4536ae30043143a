// Package epub writes book models as EPUB 3 archives and verifies them.
package epub

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/kanbun-tools/syosetu2ebook/internal/models"
)

// WriteError is fatal for one volume's archive only.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("failed to write %s: %v", e.Path, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// Writer serializes book models.
type Writer struct {
	Logger *slog.Logger
}

// NewWriter returns a writer that logs to the default logger.
func NewWriter() *Writer {
	return &Writer{}
}

func (w *Writer) logger() *slog.Logger {
	if w.Logger != nil {
		return w.Logger
	}
	return slog.Default()
}

// Write renders book to dest. The archive structure is checked before any
// byte is written; output goes to a temporary file in dest's directory and
// is renamed into place only on success, so dest never holds a partial
// archive. The finished temporary file is read back with Verify before
// the rename.
func (w *Writer) Write(ctx context.Context, book *models.BookModel, dest string) error {
	if book == nil {
		return &WriteError{Path: dest, Err: errors.New("nil book")}
	}

	p, err := buildPlan(book)
	if err != nil {
		return &WriteError{Path: dest, Err: err}
	}
	if err := p.validate(book); err != nil {
		return &WriteError{Path: dest, Err: err}
	}

	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &WriteError{Path: dest, Err: err}
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(dest)+".*.tmp")
	if err != nil {
		return &WriteError{Path: dest, Err: err}
	}
	tmpName := tmp.Name()

	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if err := w.writeEntries(ctx, tmp, p, book); err != nil {
		return &WriteError{Path: dest, Err: err}
	}
	if err := tmp.Sync(); err != nil {
		return &WriteError{Path: dest, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &WriteError{Path: dest, Err: err}
	}
	if err := ctx.Err(); err != nil {
		return &WriteError{Path: dest, Err: err}
	}
	if _, err := Verify(tmpName); err != nil {
		return &WriteError{Path: dest, Err: fmt.Errorf("read-back check: %w", err)}
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return &WriteError{Path: dest, Err: err}
	}
	if err := os.Rename(tmpName, dest); err != nil {
		return &WriteError{Path: dest, Err: err}
	}
	committed = true

	w.logger().Info("Wrote EPUB", "path", dest, "chapters", len(book.Chapters), "entries", len(p.entries))
	return nil
}

func (w *Writer) writeEntries(ctx context.Context, f *os.File, p *plan, book *models.BookModel) error {
	zw := zip.NewWriter(f)
	for _, e := range p.entries {
		if err := ctx.Err(); err != nil {
			_ = zw.Close()
			return err
		}
		fw, err := createEntry(zw, e, book.Modified)
		if err != nil {
			_ = zw.Close()
			return fmt.Errorf("failed to add %s: %w", e.Name, err)
		}
		if _, err := fw.Write(e.Body); err != nil {
			_ = zw.Close()
			return fmt.Errorf("failed to write %s: %w", e.Name, err)
		}
		w.logger().Debug("Added archive entry", "name", e.Name, "bytes", len(e.Body))
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to finish archive: %w", err)
	}
	return nil
}

// createEntry adds a header for e. Stored entries are written raw with
// sizes and checksum up front: readers expect mimetype at a fixed offset
// with no extra field and no data descriptor.
func createEntry(zw *zip.Writer, e entry, modified time.Time) (io.Writer, error) {
	if e.Method != zip.Store {
		return zw.CreateHeader(&zip.FileHeader{Name: e.Name, Method: e.Method, Modified: modified})
	}
	return zw.CreateRaw(&zip.FileHeader{
		Name:               e.Name,
		Method:             zip.Store,
		CRC32:              crc32.ChecksumIEEE(e.Body),
		CompressedSize64:   uint64(len(e.Body)),
		UncompressedSize64: uint64(len(e.Body)),
	})
}
