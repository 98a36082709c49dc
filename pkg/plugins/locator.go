package plugins

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// Candidate is a plugin source file found by the Locator
type Candidate struct {
	// Path is the file's location on disk.
	Path string
	// Rel is the slash separated path relative to the source root.
	Rel string
}

// Identity returns the module identity of the candidate
func (c Candidate) Identity() string {
	return IdentityFor(c.Rel)
}

// Locator enumerates plugin source files below a source root following the
// plugins/<category>/<plugin>/code/*.go layout.
type Locator struct {
	Root string
	FS   fs.FS
}

// NewLocator creates a locator for the source tree at root
func NewLocator(root string) *Locator {
	abs, err := filepath.Abs(root)
	if err != nil {
		abs = root
	}
	return &Locator{Root: abs, FS: os.DirFS(abs)}
}

// Pattern returns the glob matched for category
func Pattern(category Category) string {
	return path.Join("plugins", string(category), "*", "code", "*.go")
}

// Locate returns the candidate files of category. Package documentation
// files (doc.go), tests and directories are skipped. Callers must not rely
// on the order of the result.
func (l *Locator) Locate(category Category) ([]Candidate, error) {
	if _, err := ParseCategory(string(category)); err != nil {
		return nil, err
	}

	matches, err := fs.Glob(l.FS, Pattern(category))
	if err != nil {
		return nil, fmt.Errorf("failed to glob %s plugins: %w", category, err)
	}

	candidates := make([]Candidate, 0, len(matches))
	for _, rel := range matches {
		if skipSource(path.Base(rel)) {
			continue
		}
		info, err := fs.Stat(l.FS, rel)
		if err != nil || info.IsDir() {
			continue
		}
		candidates = append(candidates, Candidate{
			Path: filepath.Join(l.Root, filepath.FromSlash(rel)),
			Rel:  rel,
		})
	}
	return candidates, nil
}

// Source returns the file on disk that declares the module identity, if the
// source tree holds one.
func (l *Locator) Source(identity string) (string, bool) {
	rel := strings.ReplaceAll(identity, ".", "/") + ".go"
	info, err := fs.Stat(l.FS, rel)
	if err != nil || info.IsDir() {
		return "", false
	}
	return filepath.Join(l.Root, filepath.FromSlash(rel)), true
}

func skipSource(name string) bool {
	return name == "doc.go" || strings.HasSuffix(name, "_test.go")
}
