package manuscript

import (
	"bytes"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Sanitizer reduces a document to the inner HTML of its <body> and strips
// anything a chapter reader must not render (scripts, handlers, styles).
// It is safe for concurrent use.
type Sanitizer struct {
	policy *bluemonday.Policy
}

// NewSanitizer builds a sanitizer on the user-generated-content policy.
func NewSanitizer() *Sanitizer {
	p := bluemonday.UGCPolicy()
	p.AllowAttrs("class").Globally()
	return &Sanitizer{policy: p}
}

// Sanitize returns the safe body content of markup.
func (s *Sanitizer) Sanitize(markup string) string {
	return strings.TrimSpace(s.policy.Sanitize(bodyHTML(markup)))
}

// bodyHTML renders the children of <body>. XHTML prologs, <head> and
// <title> are dropped. Input the parser rejects is returned unchanged.
func bodyHTML(markup string) string {
	doc, err := html.Parse(strings.NewReader(markup))
	if err != nil {
		return markup
	}
	body := findElement(doc, atom.Body)
	if body == nil {
		return markup
	}
	flattenSVGImages(body)
	var buf bytes.Buffer
	for c := body.FirstChild; c != nil; c = c.NextSibling {
		if err := html.Render(&buf, c); err != nil {
			return markup
		}
	}
	return buf.String()
}

// flattenSVGImages replaces every <svg> that wraps an <image> with an
// <img> on the same resource. The policy drops SVG, and EPUB cover pages
// commonly reference their image that way.
func flattenSVGImages(body *html.Node) {
	var svgs []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Namespace == "svg" && n.Data == "svg" {
			svgs = append(svgs, n)
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(body)

	for _, svg := range svgs {
		image := findSVGImage(svg)
		if image == nil {
			continue
		}
		img := &html.Node{Type: html.ElementNode, Data: "img", DataAtom: atom.Img}
		for _, a := range image.Attr {
			switch {
			case a.Key == "href" && (a.Namespace == "xlink" || a.Namespace == ""):
				img.Attr = append(img.Attr, html.Attribute{Key: "src", Val: a.Val})
			case a.Namespace == "" && (a.Key == "width" || a.Key == "height"):
				img.Attr = append(img.Attr, html.Attribute{Key: a.Key, Val: a.Val})
			}
		}
		if attr(img, "src") == "" {
			continue
		}
		svg.Parent.InsertBefore(img, svg)
		svg.Parent.RemoveChild(svg)
	}
}

func findSVGImage(n *html.Node) *html.Node {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.Namespace == "svg" && c.Data == "image" {
			return c
		}
		if found := findSVGImage(c); found != nil {
			return found
		}
	}
	return nil
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func findElement(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, a); found != nil {
			return found
		}
	}
	return nil
}
