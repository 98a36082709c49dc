package objects

import (
	"sort"
	"strings"
)

// VirtualFilePath locates a file inside a firmware image. Extraction levels
// are separated by '|', e.g. "fw_uid|fs_uid|/etc/hosts".
type VirtualFilePath string

// VfpSeparator separates the extraction levels of a virtual file path
const VfpSeparator = "|"

// VfpDict maps root object UIDs to the virtual file paths of a file inside
// that root.
type VfpDict map[string][]VirtualFilePath

// Base returns everything before the last extraction level
func (v VirtualFilePath) Base() string {
	s := string(v)
	if i := strings.LastIndex(s, VfpSeparator); i >= 0 {
		return s[:i]
	}
	return ""
}

// Top returns the last extraction level, usually the path inside the
// innermost container.
func (v VirtualFilePath) Top() string {
	s := string(v)
	if i := strings.LastIndex(s, VfpSeparator); i >= 0 {
		return s[i+1:]
	}
	return s
}

// Levels splits the path into its extraction levels
func (v VirtualFilePath) Levels() []string {
	if v == "" {
		return nil
	}
	return strings.Split(string(v), VfpSeparator)
}

// PathsForAllParents returns the paths of every root without duplicates, sorted.
func PathsForAllParents(d VfpDict) []VirtualFilePath {
	if len(d) == 0 {
		return []VirtualFilePath{}
	}
	seen := make(map[VirtualFilePath]struct{})
	out := []VirtualFilePath{}
	for _, paths := range d {
		for _, p := range paths {
			if _, ok := seen[p]; ok {
				continue
			}
			seen[p] = struct{}{}
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// SomeVFP returns any one path of d. Roots are visited in UID order so the
// result is stable. ok is false when no root has a path.
func SomeVFP(d VfpDict) (VirtualFilePath, bool) {
	for _, root := range sortedKeys(d) {
		if paths := d[root]; len(paths) > 0 {
			return paths[0], true
		}
	}
	return "", false
}

func sortedKeys(d VfpDict) []string {
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
