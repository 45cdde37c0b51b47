package manuscript

import (
	"encoding/xml"
	"fmt"
	"html"
	"path"
	"regexp"
	"strings"
)

// Well-known parts of a WordprocessingML package.
const (
	docxDocumentPath = "word/document.xml"
	docxRelsPath     = "word/_rels/document.xml.rels"
)

// ImageIndex resolves the relationship ids used by <a:blip r:embed="…"/> to
// relocated URLs.
type ImageIndex struct {
	Rels  map[string]string // relationship id → archive path
	Paths []string          // relocated archive paths, archive order
	URLs  PathURLMap
}

// NewImageIndex builds an index over relocated images. rels may be nil when
// the package has no relationship part.
func NewImageIndex(images []ExtractedImage, urls PathURLMap, rels map[string]string) ImageIndex {
	paths := make([]string, len(images))
	for i, img := range images {
		paths[i] = img.OriginalPath
	}
	return ImageIndex{Rels: rels, Paths: paths, URLs: urls}
}

// resolve looks the id up in the relationship table first. Without a hit it
// falls back to substring containment between the id and each image path,
// which is approximate: the first image in archive order that matches wins.
func (ix ImageIndex) resolve(relID string) (string, bool) {
	if target, ok := ix.Rels[relID]; ok {
		if u, ok := ix.URLs[target]; ok {
			return u, true
		}
	}
	for _, p := range ix.Paths {
		if strings.Contains(p, relID) || strings.Contains(relID, baseName(p)) {
			u, ok := ix.URLs[p]
			return u, ok
		}
	}
	return "", false
}

// Converter renders WordprocessingML paragraphs as minimal HTML. Bold and
// italic are detected per paragraph, not per run. It is safe for concurrent
// use.
type Converter struct {
	paragraph *regexp.Regexp
	text      *regexp.Regexp
	bold      *regexp.Regexp
	italic    *regexp.Regexp
	blip      *regexp.Regexp
	tag       *regexp.Regexp
}

// NewConverter compiles the OOXML patterns once.
func NewConverter() *Converter {
	return &Converter{
		paragraph: regexp.MustCompile(`(?s)<w:p(?:\s[^>]*?)?(?:/>|>(.*?)</w:p>)`),
		text:      regexp.MustCompile(`<w:t(?:\s[^>]*)?>([^<]*)</w:t>`),
		bold:      regexp.MustCompile(`<w:b(?:\s+w:val="(?:true|1|on)")?\s*/>`),
		italic:    regexp.MustCompile(`<w:i(?:\s+w:val="(?:true|1|on)")?\s*/>`),
		blip:      regexp.MustCompile(`<a:blip[^>]*r:embed="([^"]+)"[^>]*/?>`),
		tag:       regexp.MustCompile(`<[^>]+>`),
	}
}

// Convert turns the text of word/document.xml into HTML, one <p> per
// paragraph. Empty paragraphs are kept as <p></p> for spacing. A document
// without any paragraph element degrades to its text with all tags removed.
func (c *Converter) Convert(documentXML string, images ImageIndex) string {
	paragraphs := c.paragraph.FindAllStringSubmatch(documentXML, -1)
	if len(paragraphs) == 0 {
		return c.tag.ReplaceAllString(documentXML, "")
	}

	var sb strings.Builder
	for _, pm := range paragraphs {
		body := pm[1]

		var content strings.Builder
		for _, tm := range c.text.FindAllStringSubmatch(body, -1) {
			// Already XML-escaped, which is valid HTML text as is.
			content.WriteString(tm[1])
		}
		for _, bm := range c.blip.FindAllStringSubmatch(body, -1) {
			if u, ok := images.resolve(bm[1]); ok {
				fmt.Fprintf(&content, `<img src="%s" alt="image" />`, html.EscapeString(u))
			}
		}

		if content.Len() == 0 {
			sb.WriteString("<p></p>\n")
			continue
		}

		bold, italic := c.bold.MatchString(body), c.italic.MatchString(body)
		sb.WriteString("<p>")
		switch {
		case bold && italic:
			sb.WriteString("<strong><em>" + content.String() + "</em></strong>")
		case bold:
			sb.WriteString("<strong>" + content.String() + "</strong>")
		case italic:
			sb.WriteString("<em>" + content.String() + "</em>")
		default:
			sb.WriteString(content.String())
		}
		sb.WriteString("</p>\n")
	}
	return sb.String()
}

// documentRels models word/_rels/document.xml.rels.
type documentRels struct {
	Relationships []struct {
		ID         string `xml:"Id,attr"`
		Target     string `xml:"Target,attr"`
		TargetMode string `xml:"TargetMode,attr"`
	} `xml:"Relationship"`
}

// parseRelationships maps internal relationship ids to archive paths.
// Targets are relative to word/ unless they start with a slash.
func parseRelationships(data []byte) (map[string]string, error) {
	var rels documentRels
	if err := xml.Unmarshal(data, &rels); err != nil {
		return nil, fmt.Errorf("parse relationships: %w", err)
	}
	out := make(map[string]string, len(rels.Relationships))
	for _, r := range rels.Relationships {
		if r.ID == "" || r.Target == "" || strings.EqualFold(r.TargetMode, "External") {
			continue
		}
		var target string
		if strings.HasPrefix(r.Target, "/") {
			target = strings.TrimPrefix(path.Clean(r.Target), "/")
		} else {
			target = path.Join(path.Dir(docxDocumentPath), r.Target)
		}
		out[r.ID] = target
	}
	return out, nil
}
