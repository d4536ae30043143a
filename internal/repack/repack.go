// Package repack turns finished EPUBs into device-specific archives.
package repack

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Repackager converts a valid archive into another format and returns the
// new file's path.
type Repackager interface {
	Repackage(ctx context.Context, epubPath string) (string, error)
}

// Kepubify converts EPUBs into Kobo kepub files with the kepubify tool.
type Kepubify struct {
	// Path is the kepubify binary; empty means "kepubify" on PATH.
	Path string
}

// OutputPath returns where the kepub for epubPath is written.
func OutputPath(epubPath string) string {
	return strings.TrimSuffix(epubPath, filepath.Ext(epubPath)) + ".kepub.epub"
}

// Repackage runs kepubify and checks that it produced the output file.
func (k *Kepubify) Repackage(ctx context.Context, epubPath string) (string, error) {
	bin := k.Path
	if bin == "" {
		bin = "kepubify"
	}
	if _, err := exec.LookPath(bin); err != nil {
		return "", fmt.Errorf("kepubify not available: %w", err)
	}

	out := OutputPath(epubPath)
	cmd := exec.CommandContext(ctx, bin, epubPath, "-o", out)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return "", fmt.Errorf("kepubify failed: %w: %s", err, msg)
		}
		return "", fmt.Errorf("kepubify failed: %w", err)
	}

	if _, err := os.Stat(out); err != nil {
		return "", fmt.Errorf("kepubify produced no output: %w", err)
	}
	return out, nil
}
