// Package dom builds HTML element trees and serializes them.
//
// It is a thin layer over golang.org/x/net/html: constructors take any mix of
// strings and nodes, strings become text nodes, and the result is a plain
// *html.Node that the standard renderer understands.
package dom

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Constructor builds an element from its children.
type Constructor func(children ...any) *html.Node

// E returns a constructor for elements of the given tag.
//
// Children may be strings, *html.Node values, slices of nodes, or nil (skipped).
// A node that already has a parent is moved, matching DOM appendChild.
func E(tag string) Constructor {
	return func(children ...any) *html.Node {
		n := &html.Node{
			Type:     html.ElementNode,
			DataAtom: atom.Lookup([]byte(tag)),
			Data:     tag,
		}
		Append(n, children...)
		return n
	}
}

// Common constructors.
var (
	HTML     = E("html")
	Head     = E("head")
	Body     = E("body")
	Script   = E("script")
	Style    = E("style")
	Link     = E("link")
	Meta     = E("meta")
	Title    = E("title")
	Div      = E("div")
	Span     = E("span")
	H1       = E("h1")
	P        = E("p")
	Pre      = E("pre")
	Code     = E("code")
	Figure   = E("figure")
	Button   = E("button")
	IFrame   = E("iframe")
	Textarea = E("textarea")
	Template = E("template")
)

// Text creates a text node.
func Text(s string) *html.Node {
	return &html.Node{Type: html.TextNode, Data: s}
}

// Append adds children to n in order.
func Append(n *html.Node, children ...any) {
	for _, c := range children {
		switch v := c.(type) {
		case nil:
		case string:
			n.AppendChild(Text(v))
		case *html.Node:
			if v == nil {
				continue
			}
			if v.Parent != nil {
				v.Parent.RemoveChild(v)
			}
			n.AppendChild(v)
		case []*html.Node:
			for _, child := range v {
				Append(n, child)
			}
		default:
			panic(fmt.Sprintf("dom: unsupported child type %T", c))
		}
	}
}

// Pop removes the last child of n, if any.
func Pop(n *html.Node) {
	if n.LastChild != nil {
		n.RemoveChild(n.LastChild)
	}
}

// ChildElementCount counts the element children of n.
func ChildElementCount(n *html.Node) int {
	count := 0
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			count++
		}
	}
	return count
}

// Attr returns the value of an attribute and whether it was present.
func Attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

// SetAttr sets or replaces an attribute and returns n for chaining.
func SetAttr(n *html.Node, key, val string) *html.Node {
	for i, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			n.Attr[i].Val = val
			return n
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
	return n
}

// SetStyle sets a single CSS property in the style attribute, keeping the
// order in which properties were first set.
func SetStyle(n *html.Node, property, value string) *html.Node {
	existing, _ := Attr(n, "style")
	decls := parseStyle(existing)

	found := false
	for i := range decls {
		if decls[i][0] == property {
			decls[i][1] = value
			found = true
			break
		}
	}
	if !found {
		decls = append(decls, [2]string{property, value})
	}

	parts := make([]string, 0, len(decls))
	for _, d := range decls {
		parts = append(parts, d[0]+": "+d[1])
	}
	return SetAttr(n, "style", strings.Join(parts, "; ")+";")
}

// Styles applies several properties in the given order. pairs alternates
// property names and values.
func Styles(n *html.Node, pairs ...string) *html.Node {
	if len(pairs)%2 != 0 {
		panic("dom: Styles needs property/value pairs")
	}
	for i := 0; i < len(pairs); i += 2 {
		SetStyle(n, pairs[i], pairs[i+1])
	}
	return n
}

func parseStyle(s string) [][2]string {
	var decls [][2]string
	for _, part := range strings.Split(s, ";") {
		prop, val, ok := strings.Cut(part, ":")
		if !ok {
			continue
		}
		prop = strings.TrimSpace(prop)
		if prop == "" {
			continue
		}
		decls = append(decls, [2]string{prop, strings.TrimSpace(val)})
	}
	return decls
}

// FindByID returns the first element under root with the given id.
func FindByID(root *html.Node, id string) *html.Node {
	var found *html.Node
	Walk(root, func(n *html.Node) bool {
		if n.Type == html.ElementNode {
			if v, ok := Attr(n, "id"); ok && v == id {
				found = n
				return false
			}
		}
		return true
	})
	return found
}

// Walk visits root and its descendants depth-first until fn returns false.
func Walk(root *html.Node, fn func(*html.Node) bool) bool {
	if !fn(root) {
		return false
	}
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		if !Walk(c, fn) {
			return false
		}
	}
	return true
}

// OuterHTML serializes n itself.
func OuterHTML(n *html.Node) (string, error) {
	var buf bytes.Buffer
	if err := html.Render(&buf, n); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// InnerHTML serializes the children of n.
func InnerHTML(n *html.Node) (string, error) {
	var buf bytes.Buffer
	if err := RenderChildren(&buf, n); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// RenderChildren writes each child of n to w.
func RenderChildren(w io.Writer, n *html.Node) error {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if err := html.Render(w, c); err != nil {
			return err
		}
	}
	return nil
}

// Document serializes root as a complete HTML document with a doctype.
func Document(root *html.Node) (string, error) {
	doc := &html.Node{Type: html.DocumentNode}
	doc.AppendChild(&html.Node{Type: html.DoctypeNode, Data: "html"})
	Append(doc, root)
	var buf bytes.Buffer
	if err := html.Render(&buf, doc); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// ParseFragment parses an HTML fragment as if it were the content of a div.
func ParseFragment(r io.Reader) ([]*html.Node, error) {
	context := &html.Node{Type: html.ElementNode, DataAtom: atom.Div, Data: "div"}
	return html.ParseFragment(r, context)
}
