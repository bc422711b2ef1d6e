// Package transform adapts validated skill content through an external tool.
package transform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"path"
	"strings"
	"time"
)

// Input is what the transform tool receives on stdin.
type Input struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Content     string `json:"content"`
}

// SubFile is an extra file the tool split out of the main content. Filename
// is relative to the skill directory.
type SubFile struct {
	Filename string `json:"filename"`
	Content  string `json:"content"`
}

// Output is the tool's reply. Transformed=false means "keep the original";
// the other fields are then ignored.
type Output struct {
	Transformed      bool      `json:"transformed"`
	MainContent      string    `json:"mainContent"`
	SubFiles         []SubFile `json:"subFiles,omitempty"`
	CompanionContent string    `json:"companionContent,omitempty"`
	ClaudeMdSnippet  string    `json:"claudeMdSnippet,omitempty"`
}

// Validate checks a transformed reply: the main content must be non-empty and
// every sub-file name must be a distinct relative path that stays inside the
// skill directory and does not replace reserved.
func (o Output) Validate(reserved ...string) error {
	if !o.Transformed {
		return nil
	}
	if strings.TrimSpace(o.MainContent) == "" {
		return errors.New("TRANSFORM_OUTPUT: empty mainContent")
	}
	seen := map[string]struct{}{}
	for _, r := range reserved {
		seen[strings.ToLower(r)] = struct{}{}
	}
	for _, f := range o.SubFiles {
		clean := path.Clean(strings.ReplaceAll(f.Filename, "\\", "/"))
		if f.Filename == "" || clean == "." || clean == ".." || strings.HasPrefix(clean, "../") || path.IsAbs(clean) || clean != f.Filename {
			return fmt.Errorf("TRANSFORM_OUTPUT: invalid sub-file name %q", f.Filename)
		}
		key := strings.ToLower(clean)
		if _, dup := seen[key]; dup {
			return fmt.Errorf("TRANSFORM_OUTPUT: duplicate or reserved sub-file %q", f.Filename)
		}
		seen[key] = struct{}{}
	}
	for a := range seen {
		for b := range seen {
			if strings.HasPrefix(b, a+"/") {
				return fmt.Errorf("TRANSFORM_OUTPUT: sub-file %q is also a directory", a)
			}
		}
	}
	return nil
}

// Transformer rewrites skill content. Callers must treat any error as
// Transformed=false.
type Transformer interface {
	Transform(ctx context.Context, in Input) (Output, error)
}

// Func adapts a function to Transformer.
type Func func(ctx context.Context, in Input) (Output, error)

func (f Func) Transform(ctx context.Context, in Input) (Output, error) { return f(ctx, in) }

type execFunc func(ctx context.Context, stdin []byte, name string, args ...string) ([]byte, error)

func defaultExec(ctx context.Context, stdin []byte, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = bytes.NewReader(stdin)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w\n%s", name, strings.Join(args, " "), err, stderr.String())
	}
	return out, nil
}

// Command runs an external program that reads an Input as JSON on stdin and
// writes an Output as JSON on stdout.
type Command struct {
	Path    string
	Args    []string
	Timeout time.Duration
	exec    execFunc
}

func NewCommand(path string, args []string, timeout time.Duration) *Command {
	return &Command{Path: path, Args: args, Timeout: timeout, exec: defaultExec}
}

func (c *Command) Transform(ctx context.Context, in Input) (Output, error) {
	if c.Path == "" {
		return Output{}, errors.New("TRANSFORM_CONFIG: no command configured")
	}
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}
	payload, err := json.Marshal(in)
	if err != nil {
		return Output{}, fmt.Errorf("TRANSFORM_ENCODE: %w", err)
	}
	run := c.exec
	if run == nil {
		run = defaultExec
	}
	raw, err := run(ctx, payload, c.Path, c.Args...)
	if err != nil {
		return Output{}, fmt.Errorf("TRANSFORM_EXEC: %w", err)
	}
	var out Output
	if err := json.Unmarshal(raw, &out); err != nil {
		return Output{}, fmt.Errorf("TRANSFORM_DECODE: %w", err)
	}
	if err := out.Validate(); err != nil {
		return Output{}, err
	}
	return out, nil
}
