package catalog

import (
	"path"
	"strings"
)

// GlobFilter keeps tables whose "namespace.table" name matches at least one
// include pattern (all tables when include is empty) and no exclude pattern.
// Patterns use path.Match syntax and compare case-insensitively.
func GlobFilter(include, exclude []string) Filter {
	if len(include) == 0 && len(exclude) == 0 {
		return nil
	}
	return func(namespace, table string) bool {
		full := strings.ToLower(namespace + "." + table)
		if len(include) > 0 && !matchAny(include, full) {
			return false
		}
		return !matchAny(exclude, full)
	}
}

func matchAny(patterns []string, name string) bool {
	for _, p := range patterns {
		if ok, err := path.Match(strings.ToLower(p), name); err == nil && ok {
			return true
		}
	}
	return false
}
