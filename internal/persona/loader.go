// Package persona loads the system prompts that give each character its
// identity. A character prompt is the generic prompt followed by the
// character-specific one; both must exist.
package persona

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var ErrNotFound = errors.New("character not found")

// Loader reads prompt files from disk on every call so prompt edits take
// effect without a restart.
type Loader struct {
	promptsDir    string
	charactersDir string
	baseDir       string
}

func NewLoader(baseDir, promptsDir, charactersDir string) *Loader {
	return &Loader{
		baseDir:       baseDir,
		promptsDir:    promptsDir,
		charactersDir: charactersDir,
	}
}

// Load returns the combined system prompt for a character, or ErrNotFound
// when either the generic or the character file is missing.
func (l *Loader) Load(character string) (string, error) {
	character = strings.TrimSpace(character)
	if character == "" || strings.ContainsAny(character, `/\.`) {
		return "", ErrNotFound
	}

	general := readFirst(
		filepath.Join(l.promptsDir, "generic_prompt.md"),
		filepath.Join(l.baseDir, "generic_prompt.md"),
	)
	specific := readFirst(
		filepath.Join(l.charactersDir, character+".md"),
		filepath.Join(l.baseDir, character+".md"),
	)
	if general == "" || specific == "" {
		return "", fmt.Errorf("%w: %s", ErrNotFound, character)
	}
	return general + "\n\n" + specific, nil
}

func readFirst(paths ...string) string {
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err == nil {
			return string(data)
		}
	}
	return ""
}
