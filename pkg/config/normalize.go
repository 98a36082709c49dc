package config

import (
	"fmt"
	"strings"
)

// NormalizeKeys rewrites every hyphenated map key into its underscore form at
// all depths, including maps nested inside lists. Values are copied; the
// input is left unchanged. Two keys that collide after rewriting are an error.
func NormalizeKeys(v any) (any, error) {
	return normalize("", v)
}

func normalize(path string, v any) (any, error) {
	switch tv := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(tv))
		origin := make(map[string]string, len(tv))
		for key, value := range tv {
			norm := strings.ReplaceAll(key, "-", "_")
			if prev, dup := origin[norm]; dup {
				return nil, fmt.Errorf("keys %q and %q collide as %q", prefixed(path, prev), prefixed(path, key), prefixed(path, norm))
			}
			origin[norm] = key

			nv, err := normalize(prefixed(path, norm), value)
			if err != nil {
				return nil, err
			}
			out[norm] = nv
		}
		return out, nil
	case map[any]any:
		m := make(map[string]any, len(tv))
		for key, value := range tv {
			m[fmt.Sprint(key)] = value
		}
		return normalize(path, m)
	case []any:
		out := make([]any, len(tv))
		for i, item := range tv {
			nv, err := normalize(fmt.Sprintf("%s[%d]", path, i), item)
			if err != nil {
				return nil, err
			}
			out[i] = nv
		}
		return out, nil
	case []map[string]any:
		out := make([]any, len(tv))
		for i, item := range tv {
			nv, err := normalize(fmt.Sprintf("%s[%d]", path, i), item)
			if err != nil {
				return nil, err
			}
			out[i] = nv
		}
		return out, nil
	default:
		return v, nil
	}
}

func prefixed(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}
