// File: internal/locator/label.go
package locator

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

// SelectorForLabel parses a document snapshot and derives a CSS selector
// for the form control associated with the given visible label text. It
// understands both `label[for]` references and controls nested inside the
// label element. Matching is case-insensitive on trimmed text.
func SelectorForLabel(doc, labelText string) (string, bool) {
	root, err := html.Parse(strings.NewReader(doc))
	if err != nil {
		return "", false
	}

	want := strings.ToLower(strings.TrimSpace(labelText))
	if want == "" {
		return "", false
	}

	var selector string
	var walk func(*html.Node) bool
	walk = func(n *html.Node) bool {
		if n.Type == html.ElementNode && n.Data == "label" {
			text := strings.ToLower(strings.TrimSpace(nodeText(n)))
			if strings.Contains(text, want) {
				if sel, ok := selectorFromLabel(n); ok {
					selector = sel
					return true
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if walk(c) {
				return true
			}
		}
		return false
	}
	walk(root)

	return selector, selector != ""
}

// selectorFromLabel derives the control selector for a matched label
// node: the `for` reference wins, otherwise the first form control nested
// inside the label.
func selectorFromLabel(label *html.Node) (string, bool) {
	if id := attr(label, "for"); id != "" {
		return fmt.Sprintf("[id=%q]", id), true
	}

	var control *html.Node
	var find func(*html.Node)
	find = func(n *html.Node) {
		if control != nil {
			return
		}
		if n.Type == html.ElementNode && isFormControl(n.Data) {
			control = n
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			find(c)
		}
	}
	find(label)
	if control == nil {
		return "", false
	}

	if id := attr(control, "id"); id != "" {
		return fmt.Sprintf("[id=%q]", id), true
	}
	if name := attr(control, "name"); name != "" {
		return fmt.Sprintf("%s[name=%q]", control.Data, name), true
	}
	return "", false
}

func isFormControl(tag string) bool {
	switch tag {
	case "input", "textarea", "select":
		return true
	}
	return false
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// nodeText concatenates the text content of a node's subtree.
func nodeText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}
