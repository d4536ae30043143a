package annotate

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Command pipes lines through an external program, one line in and one
// line out per text segment.
type Command struct {
	Path string
	Args []string
}

// NewCommand parses a command line such as "furigana-gen --html".
func NewCommand(cmdline string) (*Command, error) {
	fields := strings.Fields(cmdline)
	if len(fields) == 0 {
		return nil, fmt.Errorf("empty furigana command")
	}
	return &Command{Path: fields[0], Args: fields[1:]}, nil
}

// TransformLines runs the program once for all lines.
func (c *Command) TransformLines(ctx context.Context, lines []string) ([]string, error) {
	cmd := exec.CommandContext(ctx, c.Path, c.Args...)
	cmd.Stdin = strings.NewReader(strings.Join(lines, "\n") + "\n")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%s failed: %w: %s", c.Path, err, msg)
		}
		return nil, fmt.Errorf("%s failed: %w", c.Path, err)
	}
	return splitLines(stdout.String()), nil
}

// splitLines splits output on newlines, dropping one trailing newline.
func splitLines(s string) []string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.TrimSuffix(s, "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}
