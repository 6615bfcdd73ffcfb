// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package sanitize

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// tagAliases maps incoming element names to their renderer equivalents.
// Elements not in this map are unwrapped (tag removed, content kept).
var tagAliases = map[string]string{
	"a":      "a",
	"b":      "b",
	"strong": "b",
	"i":      "i",
	"em":     "i",
	"u":      "u",
	"ins":    "u",
	"s":      "s",
	"strike": "s",
	"del":    "s",
	"code":   "code",
	"pre":    "pre",
}

// allowedSchemes are the link schemes the renderer accepts. Anything else,
// javascript: included, costs the anchor its href and unwraps it to text.
var allowedSchemes = []string{"http://", "https://", "tg://", "mailto:"}

// enforcementPolicy is a fixed bluemonday policy matching the renderer
// whitelist exactly. It runs after our own tree walk as a second, independent
// enforcement layer; its input should already conform.
var enforcementPolicy = buildPolicy()

func buildPolicy() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowElements("b", "i", "u", "s", "code", "pre")
	p.AllowAttrs("href").OnElements("a")
	p.AllowURLSchemes("http", "https", "tg", "mailto")
	p.RequireParseableURLs(true)
	return p
}

// parseAndFilter parses text as tolerant markup, applies the tag and
// attribute whitelists, and serializes the result. The parser never fails on
// malformed input; unparseable fragments degrade to text nodes.
func parseAndFilter(text string) (string, error) {
	body := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(strings.NewReader(text), body)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.Grow(len(text))
	for _, n := range nodes {
		renderFiltered(&b, n)
	}
	return b.String(), nil
}

// renderFiltered writes node and its children to b, enforcing the whitelists.
// Disallowed elements are unwrapped, never deleted: malformed structure from
// the model must not suppress the user's content.
func renderFiltered(b *strings.Builder, n *html.Node) {
	switch n.Type {
	case html.TextNode:
		b.WriteString(html.EscapeString(n.Data))
		return
	case html.CommentNode, html.DoctypeNode:
		// Structural noise, dropped entirely.
		return
	case html.ElementNode:
		name, allowed := tagAliases[strings.ToLower(n.Data)]
		if allowed && name == "a" {
			href, ok := safeHref(n)
			if !ok {
				// Bad or missing href: keep the text, drop the anchor.
				renderChildren(b, n)
				return
			}
			b.WriteString(`<a href="`)
			b.WriteString(html.EscapeString(href))
			b.WriteString(`">`)
			renderChildren(b, n)
			b.WriteString("</a>")
			return
		}
		if allowed {
			// All attributes stripped from non-anchor elements.
			b.WriteString("<")
			b.WriteString(name)
			b.WriteString(">")
			renderChildren(b, n)
			b.WriteString("</")
			b.WriteString(name)
			b.WriteString(">")
			return
		}
		renderChildren(b, n)
	default:
		renderChildren(b, n)
	}
}

func renderChildren(b *strings.Builder, n *html.Node) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		renderFiltered(b, c)
	}
}

// safeHref extracts the href attribute of an anchor if its scheme is allowed.
func safeHref(n *html.Node) (string, bool) {
	for _, attr := range n.Attr {
		if strings.ToLower(attr.Key) != "href" {
			continue
		}
		val := strings.TrimSpace(attr.Val)
		lower := strings.ToLower(val)
		for _, scheme := range allowedSchemes {
			if strings.HasPrefix(lower, scheme) {
				return val, true
			}
		}
		return "", false
	}
	return "", false
}
