// internal/browser/session/text.go
package session

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// skippedText holds elements whose contents are never readable page text.
var skippedText = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Template: true,
	atom.Svg:      true,
	atom.Head:     true,
	atom.Iframe:   true,
}

// blockElements start a new line in the extracted text.
var blockElements = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Section: true, atom.Article: true, atom.Header: true,
	atom.Footer: true, atom.Nav: true, atom.Main: true, atom.Aside: true, atom.Br: true,
	atom.Li: true, atom.Tr: true, atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true,
	atom.H5: true, atom.H6: true, atom.Table: true, atom.Ul: true, atom.Ol: true, atom.Form: true,
	atom.Blockquote: true, atom.Pre: true, atom.Dt: true, atom.Dd: true,
}

// ReadableText converts an HTML document into plain text: one line per block,
// whitespace collapsed, link targets appended in parentheses. The result is cut at
// maxRunes when maxRunes is positive.
func ReadableText(doc string, maxRunes int) (string, error) {
	root, err := html.Parse(strings.NewReader(doc))
	if err != nil {
		return "", fmt.Errorf("failed to parse html: %w", err)
	}

	var lines []string
	var current strings.Builder
	flush := func() {
		line := strings.Join(strings.Fields(current.String()), " ")
		if line != "" {
			lines = append(lines, line)
		}
		current.Reset()
	}

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			current.WriteString(n.Data)
			current.WriteByte(' ')
			return
		case html.ElementNode:
			if skippedText[n.DataAtom] {
				return
			}
			if blockElements[n.DataAtom] {
				flush()
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode {
			if n.DataAtom == atom.A {
				if href := attr(n, "href"); href != "" && !strings.HasPrefix(href, "javascript:") {
					current.WriteString("(" + href + ") ")
				}
			}
			if blockElements[n.DataAtom] {
				flush()
			}
		}
	}
	walk(root)
	flush()

	text := strings.Join(lines, "\n")
	if maxRunes > 0 {
		text = truncateRunes(text, maxRunes)
	}
	return text, nil
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}
