package repack

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// fakeKepubify writes a script that copies its input to the -o path.
func fakeKepubify(t *testing.T, body string) string {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	path := filepath.Join(t.TempDir(), "kepubify")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestOutputPath(t *testing.T) {
	tests := map[string]string{
		"/out/本 - 01.epub": "/out/本 - 01.kepub.epub",
		"book":             "book.kepub.epub",
	}
	for in, want := range tests {
		if got := OutputPath(in); got != want {
			t.Errorf("OutputPath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRepackage(t *testing.T) {
	bin := fakeKepubify(t, `cp "$1" "$3"`+"\n")
	src := filepath.Join(t.TempDir(), "book.epub")
	if err := os.WriteFile(src, []byte("epub"), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := (&Kepubify{Path: bin}).Repackage(context.Background(), src)
	if err != nil {
		t.Fatalf("Repackage() failed: %v", err)
	}
	if out != OutputPath(src) {
		t.Errorf("output = %s", out)
	}
	if b, err := os.ReadFile(out); err != nil || string(b) != "epub" {
		t.Errorf("output content = %q, %v", b, err)
	}
}

func TestRepackageFailure(t *testing.T) {
	bin := fakeKepubify(t, "echo 'invalid epub' >&2\nexit 1\n")

	_, err := (&Kepubify{Path: bin}).Repackage(context.Background(), filepath.Join(t.TempDir(), "x.epub"))
	if err == nil || !strings.Contains(err.Error(), "invalid epub") {
		t.Fatalf("error = %v", err)
	}
}

func TestRepackageNoOutput(t *testing.T) {
	bin := fakeKepubify(t, "exit 0\n")

	_, err := (&Kepubify{Path: bin}).Repackage(context.Background(), filepath.Join(t.TempDir(), "x.epub"))
	if err == nil || !strings.Contains(err.Error(), "no output") {
		t.Fatalf("error = %v", err)
	}
}

func TestRepackageMissingBinary(t *testing.T) {
	_, err := (&Kepubify{Path: filepath.Join(t.TempDir(), "nope")}).Repackage(context.Background(), "x.epub")
	if err == nil {
		t.Fatal("expected error for missing binary")
	}
}
