package config

import (
	"sort"
	"strings"
)

// secretSuffixes mark the last key segments whose values are credentials.
var secretSuffixes = []string{"token", "api_key", "password", "secret"}

// IsSecretKey reports whether the dot-separated key holds a credential,
// e.g. telegram.token or transcription.api_key.
func IsSecretKey(key string) bool {
	last := key[strings.LastIndex(key, ".")+1:]
	for _, s := range secretSuffixes {
		if last == s {
			return true
		}
	}
	return false
}

// Flatten converts a nested map into dot-separated keys:
// {"http": {"listen": ":8080"}} becomes {"http.listen": ":8080"}.
func Flatten(m map[string]any) map[string]any {
	out := make(map[string]any)
	var walk func(prefix string, m map[string]any)
	walk = func(prefix string, m map[string]any) {
		for k, v := range m {
			if prefix != "" {
				k = prefix + "." + k
			}
			if child, ok := v.(map[string]any); ok {
				walk(k, child)
				continue
			}
			out[k] = v
		}
	}
	walk("", m)
	return out
}

// Unflatten is the inverse of Flatten. A key that collides with a scalar on
// the way down replaces it with a nested map.
func Unflatten(flat map[string]any) map[string]any {
	out := make(map[string]any)
	for _, k := range SortedKeys(flat) {
		parts := strings.Split(k, ".")
		node := out
		for _, part := range parts[:len(parts)-1] {
			child, ok := node[part].(map[string]any)
			if !ok {
				child = make(map[string]any)
				node[part] = child
			}
			node = child
		}
		node[parts[len(parts)-1]] = flat[k]
	}
	return out
}

// SortedKeys returns the keys of flat in lexical order.
func SortedKeys(flat map[string]any) []string {
	keys := make([]string, 0, len(flat))
	for k := range flat {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// MaskSecrets returns a copy of flat with non-empty secret strings shown as
// "***" plus their last four characters.
func MaskSecrets(flat map[string]any) map[string]any {
	out := make(map[string]any, len(flat))
	for k, v := range flat {
		out[k] = v
		s, ok := v.(string)
		if !ok || s == "" || !IsSecretKey(k) {
			continue
		}
		out[k] = "***" + s[max(0, len(s)-4):]
	}
	return out
}
