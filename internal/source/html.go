// Package source turns draft sources (product URLs, pasted text, uploaded
// files) into readable content for extraction.
package source

import (
	"io"
	"net/url"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const maxImages = 8

// Page is the readable part of an HTML document.
type Page struct {
	Title  string
	Text   string
	Images []string
}

var skipped = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Svg:      true,
	atom.Template: true,
	atom.Iframe:   true,
	atom.Nav:      true,
	atom.Footer:   true,
}

var blocks = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Br: true, atom.Li: true, atom.Tr: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Section: true, atom.Article: true, atom.Table: true, atom.Dt: true, atom.Dd: true,
}

// ParseHTML extracts title, visible text and image URLs. Relative image
// references are resolved against base when it is set.
func ParseHTML(r io.Reader, base *url.URL) (Page, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return Page{}, err
	}

	var (
		p        Page
		b        strings.Builder
		ogTitle  string
		ogImages []string
		imgs     []string
	)

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Title:
				if p.Title == "" && n.FirstChild != nil {
					p.Title = collapse(n.FirstChild.Data)
				}
				return
			case atom.Meta:
				prop := attr(n, "property")
				if prop == "" {
					prop = attr(n, "name")
				}
				switch prop {
				case "og:title":
					ogTitle = collapse(attr(n, "content"))
				case "og:image", "og:image:url", "twitter:image":
					ogImages = append(ogImages, attr(n, "content"))
				}
				return
			case atom.Img:
				src := attr(n, "src")
				if src == "" {
					src = attr(n, "data-src")
				}
				imgs = append(imgs, src)
				return
			}
			if skipped[n.DataAtom] {
				return
			}
			if blocks[n.DataAtom] {
				b.WriteByte('\n')
			}
		}
		if n.Type == html.TextNode {
			if t := collapse(n.Data); t != "" {
				b.WriteString(t)
				b.WriteByte(' ')
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode && blocks[n.DataAtom] {
			b.WriteByte('\n')
		}
	}
	walk(doc)

	if ogTitle != "" {
		p.Title = ogTitle
	}
	p.Text = tidyLines(b.String())
	p.Images = resolveImages(base, append(ogImages, imgs...))
	return p, nil
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return strings.TrimSpace(a.Val)
		}
	}
	return ""
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func tidyLines(s string) string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if l := strings.TrimSpace(line); l != "" {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n")
}

func resolveImages(base *url.URL, refs []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, ref := range refs {
		if ref == "" || strings.HasPrefix(ref, "data:") {
			continue
		}
		u, err := url.Parse(ref)
		if err != nil {
			continue
		}
		if base != nil {
			u = base.ResolveReference(u)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			continue
		}
		s := u.String()
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
		if len(out) == maxImages {
			break
		}
	}
	return out
}
