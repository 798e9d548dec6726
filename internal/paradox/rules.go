package paradox

import (
	"path"
	"strings"
)

// DefaultProtected are the entries that may never be deleted or renamed away,
// whatever the current structure says.
var DefaultProtected = []string{
	"README.md",
	".gitignore",
	".gitattributes",
	".github",
	".git",
}

// placeholderName marks a directory placeholder file
const placeholderName = ".gitkeep"

// Rules configures the validator. The zero value protects nothing beyond
// placeholders and repository internals, and lets edits through without an
// existence check.
type Rules struct {
	// Protected lists paths (or leading path segments) that are inadmissible
	// as the source of a delete or rename.
	Protected []string
	// EditRequiresExistence makes edit behave like delete: the path must exist.
	// When false, edits are admitted on any non-internal path and never change
	// membership.
	EditRequiresExistence bool
}

// DefaultRules returns the strictest rule set.
func DefaultRules() Rules {
	return Rules{
		Protected:             append([]string(nil), DefaultProtected...),
		EditRequiresExistence: true,
	}
}

// IsProtected reports whether p is an entry marker, lives under a protected
// top-level entry, or denotes a directory placeholder.
func (r Rules) IsProtected(p string) bool {
	if IsPlaceholder(p) || IsInternal(p) {
		return true
	}
	clean := Normalize(p)
	first, _, _ := strings.Cut(clean, "/")
	for _, prot := range r.Protected {
		prot = strings.TrimSuffix(Normalize(prot), "/")
		if prot == "" {
			continue
		}
		if clean == prot || first == prot {
			return true
		}
	}
	return false
}

// IsPlaceholder reports whether p names a directory rather than a file:
// either it ends with a slash or it is a .gitkeep marker.
func IsPlaceholder(p string) bool {
	if strings.HasSuffix(p, "/") {
		return true
	}
	return path.Base(Normalize(p)) == placeholderName
}

// IsInternal reports whether p points inside the repository metadata directory.
func IsInternal(p string) bool {
	first, _, _ := strings.Cut(Normalize(p), "/")
	return first == ".git"
}

// Normalize converts p to a clean slash-separated relative form.
func Normalize(p string) string {
	p = strings.ReplaceAll(strings.TrimSpace(p), "\\", "/")
	if p == "" {
		return ""
	}
	return strings.TrimPrefix(path.Clean(p), "./")
}
