package fetch

import (
	"strings"

	"golang.org/x/net/html"
)

// Page is a fetched, DOM-parsed page with structural query helpers.
type Page struct {
	URL string
	doc *html.Node
}

// ParsePage parses raw HTML into a Page. Used by tests and by callers
// that obtain HTML outside the Fetcher.
func ParsePage(rawURL, rawHTML string) (*Page, error) {
	doc, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return nil, err
	}
	return &Page{URL: rawURL, doc: doc}, nil
}

// Root returns the document root node.
func (p *Page) Root() *html.Node { return p.doc }

// Title returns the contents of the <title> element, trimmed.
func (p *Page) Title() string {
	n := p.Find(ByTag("title"))
	if n == nil {
		return ""
	}
	return strings.TrimSpace(NodeText(n))
}

// MetaContent returns the content attribute of <meta name=...> or
// <meta property=...>, or "" if absent.
func (p *Page) MetaContent(name string) string {
	n := p.Find(func(n *html.Node) bool {
		if n.Type != html.ElementNode || n.Data != "meta" {
			return false
		}
		return Attr(n, "name") == name || Attr(n, "property") == name
	})
	if n == nil {
		return ""
	}
	return strings.TrimSpace(Attr(n, "content"))
}

// Find returns the first node matching the predicate in document order.
func (p *Page) Find(match func(*html.Node) bool) *html.Node {
	return findNode(p.doc, match)
}

// FindAll returns every node matching the predicate in document order.
func (p *Page) FindAll(match func(*html.Node) bool) []*html.Node {
	var out []*html.Node
	walk(p.doc, func(n *html.Node) {
		if match(n) {
			out = append(out, n)
		}
	})
	return out
}

// ByTag matches element nodes with the given tag name.
func ByTag(tag string) func(*html.Node) bool {
	return func(n *html.Node) bool {
		return n.Type == html.ElementNode && n.Data == tag
	}
}

// ByClass matches element nodes whose class attribute contains the given
// class as a whole word.
func ByClass(class string) func(*html.Node) bool {
	return func(n *html.Node) bool {
		if n.Type != html.ElementNode {
			return false
		}
		for _, c := range strings.Fields(Attr(n, "class")) {
			if c == class {
				return true
			}
		}
		return false
	}
}

// ByClassPrefix matches element nodes with any class starting with the
// given prefix. Source-site component classes carry generated suffixes,
// so prefix matching is more robust than exact class names.
func ByClassPrefix(prefix string) func(*html.Node) bool {
	return func(n *html.Node) bool {
		if n.Type != html.ElementNode {
			return false
		}
		for _, c := range strings.Fields(Attr(n, "class")) {
			if strings.HasPrefix(c, prefix) {
				return true
			}
		}
		return false
	}
}

// ByAttr matches element nodes carrying attribute key with the exact value.
func ByAttr(key, value string) func(*html.Node) bool {
	return func(n *html.Node) bool {
		return n.Type == html.ElementNode && Attr(n, key) == value
	}
}

// AnyOf matches when any of the given predicates match.
func AnyOf(matchers ...func(*html.Node) bool) func(*html.Node) bool {
	return func(n *html.Node) bool {
		for _, m := range matchers {
			if m(n) {
				return true
			}
		}
		return false
	}
}

// Within returns the first node under root (inclusive) matching the predicate.
func Within(root *html.Node, match func(*html.Node) bool) *html.Node {
	return findNode(root, match)
}

// AllWithin returns all nodes under root (inclusive) matching the predicate.
func AllWithin(root *html.Node, match func(*html.Node) bool) []*html.Node {
	var out []*html.Node
	walk(root, func(n *html.Node) {
		if match(n) {
			out = append(out, n)
		}
	})
	return out
}

// Attr returns the value of the named attribute, or "".
func Attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// NodeText returns the concatenated text content of n and its descendants,
// with script and style subtrees skipped and whitespace collapsed per
// text node.
func NodeText(n *html.Node) string {
	var sb strings.Builder
	var visit func(*html.Node)
	visit = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style" || n.Data == "noscript") {
			return
		}
		if n.Type == html.TextNode {
			text := strings.TrimSpace(n.Data)
			if text != "" {
				if sb.Len() > 0 {
					sb.WriteByte(' ')
				}
				sb.WriteString(text)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			visit(c)
		}
	}
	visit(n)
	return sb.String()
}

// HasAncestor reports whether any of n's ancestors (up to maxDepth levels)
// matches the predicate.
func HasAncestor(n *html.Node, maxDepth int, match func(*html.Node) bool) bool {
	p := n.Parent
	for i := 0; i < maxDepth && p != nil; i++ {
		if match(p) {
			return true
		}
		p = p.Parent
	}
	return false
}

func findNode(root *html.Node, match func(*html.Node) bool) *html.Node {
	var found *html.Node
	var visit func(*html.Node) bool
	visit = func(n *html.Node) bool {
		if match(n) {
			found = n
			return true
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if visit(c) {
				return true
			}
		}
		return false
	}
	visit(root)
	return found
}

func walk(root *html.Node, fn func(*html.Node)) {
	fn(root)
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		walk(c, fn)
	}
}
