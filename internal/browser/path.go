package browser

import (
	"path"
	"strings"
)

// Normalize returns p as an absolute, slash-separated path without a
// trailing slash (except for the root) and with . and .. resolved.
func Normalize(p string) string {
	p = strings.ReplaceAll(strings.TrimSpace(p), `\`, "/")
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}

// Up returns the parent directory. The parent of the root is the root.
func Up(p string) string {
	return path.Dir(Normalize(p))
}

// Join appends name to base and normalizes the result.
func Join(base, name string) string {
	return Normalize(Normalize(base) + "/" + name)
}

// Base returns the last element of p, "/" for the root.
func Base(p string) string {
	return path.Base(Normalize(p))
}
