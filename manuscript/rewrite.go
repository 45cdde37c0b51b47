package manuscript

import (
	"html"
	"net/url"
	"path"
	"regexp"
	"strings"
)

// Rewriter substitutes relocated URLs for image references in markup.
// It is safe for concurrent use.
type Rewriter struct {
	ref *regexp.Regexp
}

// NewRewriter compiles the reference pattern once.
func NewRewriter() *Rewriter {
	return &Rewriter{
		// src="…", src='…', xlink:href="…", xlink:href='…' in any document type.
		ref: regexp.MustCompile(`(src|xlink:href)=["']([^"']+)["']`),
	}
}

// Rewrite replaces every reference found in m with its relocated URL.
// References that cannot be resolved are left untouched.
func (rw *Rewriter) Rewrite(markup string, m PathURLMap) string {
	return rw.RewriteDocument("", markup, m)
}

// RewriteDocument is Rewrite for markup stored at docPath inside the archive,
// which lets relative references resolve to their exact archive path before
// falling back to a basename match.
func (rw *Rewriter) RewriteDocument(docPath, markup string, m PathURLMap) string {
	if len(m) == 0 {
		return markup
	}
	return rw.ref.ReplaceAllStringFunc(markup, func(attr string) string {
		sub := rw.ref.FindStringSubmatch(attr)
		target, ok := resolveReference(docPath, sub[2], m)
		if !ok {
			return attr
		}
		return sub[1] + `="` + html.EscapeString(target) + `"`
	})
}

// resolveReference tries the reference verbatim, then relative to the
// referring document, then by basename.
func resolveReference(docPath, ref string, m PathURLMap) (string, bool) {
	if u, ok := m[ref]; ok {
		return u, true
	}
	if docPath != "" {
		if p := resolveRelativePath(docPath, ref); p != "" {
			if u, ok := m[p]; ok {
				return u, true
			}
		}
	}
	u, ok := m[baseName(ref)]
	return u, ok
}

// resolveRelativePath resolves href against the directory of basePath.
// It returns "" when the result would leave the archive root.
func resolveRelativePath(basePath, href string) string {
	href = strings.TrimSpace(href)
	if strings.HasPrefix(href, "/") {
		return ""
	}
	if decoded, err := url.PathUnescape(href); err == nil {
		href = decoded
	}
	cleaned := path.Clean(path.Join(path.Dir(basePath), href))
	if !isSafePath(cleaned) {
		return ""
	}
	return cleaned
}
