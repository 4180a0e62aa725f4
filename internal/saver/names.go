package saver

import "strings"

var (
	nameReplacer = strings.NewReplacer(
		"<", "‹",
		">", "›",
		":", "∶",
		`"`, "″",
		"/", "∕",
		`\`, "∖",
		"|", "¦",
		"?", "¿",
		"*", "",
	)
	pathReplacer = strings.NewReplacer(
		"<", "‹",
		">", "›",
		":", "∶",
		`"`, "″",
		`\`, "∖",
		"|", "¦",
		"?", "¿",
		"*", "",
	)
)

// Sanitize replaces characters that are unsafe in file names with look-alike
// characters. With allowSlash the "/" separator is kept so nested paths
// survive.
func Sanitize(name string, allowSlash bool) string {
	if allowSlash {
		return pathReplacer.Replace(name)
	}
	return nameReplacer.Replace(name)
}

// ChangeExtension replaces the extension of the last path segment with ext.
// An empty ext returns p unchanged; a name without extension gets ext
// appended.
func ChangeExtension(p, ext string) string {
	if ext == "" {
		return p
	}
	base := strings.LastIndex(p, "/") + 1
	dot := strings.LastIndex(p[base:], ".")
	if dot < 0 {
		return p + "." + ext
	}
	return p[:base+dot] + "." + ext
}
