package persona

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writePrompt(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestLoadCombinesGenericAndCharacter(t *testing.T) {
	prompts := t.TempDir()
	characters := t.TempDir()
	writePrompt(t, prompts, "generic_prompt.md", "Shared rules.")
	writePrompt(t, characters, "mara.md", "You are Mara.")

	l := NewLoader(t.TempDir(), prompts, characters)
	got, err := l.Load("mara")
	if err != nil {
		t.Fatalf("Load error = %v", err)
	}
	if got != "Shared rules.\n\nYou are Mara." {
		t.Fatalf("Load = %q", got)
	}
}

func TestLoadFallsBackToBaseDir(t *testing.T) {
	base := t.TempDir()
	writePrompt(t, base, "generic_prompt.md", "Shared rules.")
	writePrompt(t, base, "elio.md", "You are Elio.")

	l := NewLoader(base, filepath.Join(base, "missing-prompts"), filepath.Join(base, "missing-characters"))
	got, err := l.Load("elio")
	if err != nil {
		t.Fatalf("Load error = %v", err)
	}
	if got != "Shared rules.\n\nYou are Elio." {
		t.Fatalf("Load = %q", got)
	}
}

func TestLoadUnknownCharacter(t *testing.T) {
	prompts := t.TempDir()
	writePrompt(t, prompts, "generic_prompt.md", "Shared rules.")

	l := NewLoader(t.TempDir(), prompts, t.TempDir())
	if _, err := l.Load("nobody"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Load error = %v, want ErrNotFound", err)
	}
}

func TestLoadRejectsPathTricks(t *testing.T) {
	l := NewLoader(t.TempDir(), t.TempDir(), t.TempDir())
	for _, name := range []string{"", "  ", "../mara", "a/b", `a\b`, "mara.md"} {
		if _, err := l.Load(name); !errors.Is(err, ErrNotFound) {
			t.Fatalf("Load(%q) error = %v, want ErrNotFound", name, err)
		}
	}
}
