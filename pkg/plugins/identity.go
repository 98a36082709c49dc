package plugins

import (
	"fmt"
	"path"
	"path/filepath"
	"regexp"
	"strings"
)

var identityPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*$`)

// IdentityFor derives the module identity of a source file from its path
// relative to the source root: separators become dots and the extension is
// dropped, so plugins/analysis/x/code/x.go is plugins.analysis.x.code.x.
func IdentityFor(rel string) string {
	rel = filepath.ToSlash(rel)
	rel = strings.TrimPrefix(rel, "./")
	rel = strings.TrimSuffix(rel, path.Ext(rel))
	return strings.ReplaceAll(rel, "/", ".")
}

// ValidIdentity reports whether id is a well formed dotted identity
func ValidIdentity(id string) bool {
	return identityPattern.MatchString(id)
}

// PackageOf returns the identity of the package containing module id
func PackageOf(id string) string {
	if i := strings.LastIndex(id, "."); i >= 0 {
		return id[:i]
	}
	return ""
}

// Resolve turns name, as imported from module from, into an absolute
// identity. Names starting with dots are relative: one dot is the importing
// module's package, each further dot goes up one level.
func Resolve(from, name string) (string, error) {
	if !strings.HasPrefix(name, ".") {
		if !ValidIdentity(name) {
			return "", fmt.Errorf("%w: invalid module name %q", ErrModuleNotFound, name)
		}
		return name, nil
	}

	rest := strings.TrimLeft(name, ".")
	dots := len(name) - len(rest)

	base := PackageOf(from)
	for i := 1; i < dots; i++ {
		if base == "" {
			return "", fmt.Errorf("%w: relative import %q beyond top-level package of %s", ErrModuleNotFound, name, from)
		}
		base = PackageOf(base)
	}
	if base == "" {
		return "", fmt.Errorf("%w: relative import %q beyond top-level package of %s", ErrModuleNotFound, name, from)
	}

	if rest == "" {
		return base, nil
	}
	if !ValidIdentity(rest) {
		return "", fmt.Errorf("%w: invalid module name %q", ErrModuleNotFound, name)
	}
	return base + "." + rest, nil
}
