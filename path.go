package gitkv

import "strings"

// cleanPath strips a leading slash and drops "." and ".." components,
// returning "" for any of the root spellings ("", "/", ".").
//
// It does not attempt to resolve the result against a filesystem; it
// only prevents a path string from being interpreted as directory
// traversal by the package's tree-walking code.
func cleanPath(p string) string {
	p = strings.TrimPrefix(p, "/")
	if p == "" || p == "." {
		return ""
	}
	parts := strings.Split(p, "/")
	kept := make([]string, 0, len(parts))
	for _, part := range parts {
		if part == "" || part == "." || part == ".." {
			continue
		}
		kept = append(kept, part)
	}
	return strings.Join(kept, "/")
}

// isRootPath reports whether p refers to the root tree once cleaned.
func isRootPath(p string) bool {
	return cleanPath(p) == ""
}
