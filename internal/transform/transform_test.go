package transform

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"testing"
	"time"
)

func TestCommandTransformDecodesOutput(t *testing.T) {
	c := NewCommand("fake", []string{"--mode", "x"}, time.Second)
	var gotArgs []string
	var gotStdin string
	c.exec = func(_ context.Context, stdin []byte, name string, args ...string) ([]byte, error) {
		gotStdin = string(stdin)
		gotArgs = append([]string{name}, args...)
		return []byte(`{"transformed":true,"mainContent":"rewritten","subFiles":[{"filename":"refs/api.md","content":"api"}],"companionContent":"readme","claudeMdSnippet":"use demo"}`), nil
	}
	out, err := c.Transform(context.Background(), Input{ID: "acme/demo", Name: "demo", Description: "does things", Content: "original"})
	if err != nil {
		t.Fatalf("transform: %v", err)
	}
	if !out.Transformed || out.MainContent != "rewritten" || out.CompanionContent != "readme" || out.ClaudeMdSnippet != "use demo" {
		t.Fatalf("unexpected output %+v", out)
	}
	if len(out.SubFiles) != 1 || out.SubFiles[0].Filename != "refs/api.md" || out.SubFiles[0].Content != "api" {
		t.Fatalf("unexpected sub-files %+v", out.SubFiles)
	}
	if strings.Join(gotArgs, " ") != "fake --mode x" {
		t.Fatalf("unexpected invocation %v", gotArgs)
	}
	for _, want := range []string{`"id":"acme/demo"`, `"name":"demo"`, `"description":"does things"`, `"content":"original"`} {
		if !strings.Contains(gotStdin, want) {
			t.Fatalf("stdin %s missing %s", gotStdin, want)
		}
	}
}

func TestCommandTransformDeclined(t *testing.T) {
	c := NewCommand("fake", nil, time.Second)
	c.exec = func(context.Context, []byte, string, ...string) ([]byte, error) {
		return []byte(`{"transformed":false}`), nil
	}
	out, err := c.Transform(context.Background(), Input{Content: "x"})
	if err != nil {
		t.Fatalf("a declined transform is not an error: %v", err)
	}
	if out.Transformed {
		t.Fatalf("expected transformed=false, got %+v", out)
	}
}

func TestCommandTransformErrors(t *testing.T) {
	reply := func(body string) execFunc {
		return func(context.Context, []byte, string, ...string) ([]byte, error) { return []byte(body), nil }
	}
	cases := map[string]execFunc{
		"exec failure": func(context.Context, []byte, string, ...string) ([]byte, error) {
			return nil, errors.New("exit status 1")
		},
		"bad json":           reply("not json"),
		"empty content":      reply(`{"transformed":true,"mainContent":"  "}`),
		"escaping sub-file":  reply(`{"transformed":true,"mainContent":"m","subFiles":[{"filename":"../x.md","content":"x"}]}`),
		"absolute sub-file":  reply(`{"transformed":true,"mainContent":"m","subFiles":[{"filename":"/etc/x","content":"x"}]}`),
		"duplicate sub-file": reply(`{"transformed":true,"mainContent":"m","subFiles":[{"filename":"a.md","content":"x"},{"filename":"A.md","content":"y"}]}`),
		"nested sub-file":    reply(`{"transformed":true,"mainContent":"m","subFiles":[{"filename":"a","content":"x"},{"filename":"a/b.md","content":"y"}]}`),
	}
	for name, fn := range cases {
		c := NewCommand("fake", nil, time.Second)
		c.exec = fn
		if _, err := c.Transform(context.Background(), Input{Content: "x"}); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
	if _, err := (&Command{}).Transform(context.Background(), Input{}); err == nil {
		t.Fatalf("expected missing command error")
	}
}

func TestOutputValidateReserved(t *testing.T) {
	out := Output{Transformed: true, MainContent: "m", SubFiles: []SubFile{{Filename: "README.md", Content: "r"}}}
	if err := out.Validate(); err != nil {
		t.Fatalf("README.md is free when nothing reserves it: %v", err)
	}
	if err := out.Validate("SKILL.md", "README.md"); err == nil {
		t.Fatalf("expected reserved README.md to be rejected")
	}
	if err := (Output{Transformed: true, MainContent: "m", SubFiles: []SubFile{{Filename: "SKILL.md/x", Content: "r"}}}).Validate("SKILL.md"); err == nil {
		t.Fatalf("expected a sub-file under SKILL.md to be rejected")
	}
}

func TestCommandTransformRealProcess(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	script := `cat >/dev/null; printf '{"transformed":true,"mainContent":"echoed"}'`
	c := NewCommand("sh", []string{"-c", script}, 5*time.Second)
	out, err := c.Transform(context.Background(), Input{Name: "demo", Content: "original"})
	if err != nil {
		t.Fatalf("transform: %v", err)
	}
	if !out.Transformed || out.MainContent != "echoed" {
		t.Fatalf("unexpected output %+v", out)
	}
}

func TestCommandTransformTimeout(t *testing.T) {
	if _, err := exec.LookPath("sleep"); err != nil {
		t.Skip("sleep not available")
	}
	c := NewCommand("sleep", []string{"5"}, 50*time.Millisecond)
	start := time.Now()
	if _, err := c.Transform(context.Background(), Input{Content: "x"}); err == nil {
		t.Fatalf("expected timeout error")
	}
	if time.Since(start) > 3*time.Second {
		t.Fatalf("timeout not enforced")
	}
}

func TestFuncAdapter(t *testing.T) {
	var tr Transformer = Func(func(_ context.Context, in Input) (Output, error) {
		return Output{Transformed: true, MainContent: strings.ToUpper(in.Content)}, nil
	})
	out, err := tr.Transform(context.Background(), Input{Content: "abc"})
	if err != nil || out.MainContent != "ABC" {
		t.Fatalf("unexpected %+v %v", out, err)
	}
}
