// Package parse contains the markup extractors for the Stud.IP web pages.
// Each extractor is a small state machine driven by the start-tag / end-tag /
// text event stream of one HTML document. State only advances on the specific
// tag/attribute combinations of the target schema, so unrelated markup is
// ignored. Every machine exposes a done flag that stops feeding further input
// once the target data is fully captured; feeding the whole document yields
// the same result.
package parse

import (
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

// Error reports markup that did not match the shape an extractor expects.
// Tag identifies the failing extractor.
type Error struct {
	Tag string
}

func (e *Error) Error() string {
	return fmt.Sprintf("unexpected %s markup", e.Tag)
}

// handler consumes the token event stream of one document.
type handler interface {
	startTag(tag string, attrs map[string]string)
	endTag(tag string)
	text(data string)
	done() bool
}

// feed tokenizes doc and drives h until the document ends or h reports done.
func feed(doc string, h handler) {
	z := html.NewTokenizer(strings.NewReader(doc))
	for !h.done() {
		switch z.Next() {
		case html.ErrorToken:
			// io.EOF or malformed input; either way the stream is over.
			return
		case html.StartTagToken:
			tag, attrs := tagAndAttrs(z)
			h.startTag(tag, attrs)
		case html.SelfClosingTagToken:
			tag, attrs := tagAndAttrs(z)
			h.startTag(tag, attrs)
			if !h.done() {
				h.endTag(tag)
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			h.endTag(string(name))
		case html.TextToken:
			h.text(string(z.Text()))
		}
	}
}

func tagAndAttrs(z *html.Tokenizer) (string, map[string]string) {
	name, hasAttr := z.TagName()
	attrs := map[string]string{}
	for hasAttr {
		var key, val []byte
		key, val, hasAttr = z.TagAttr()
		attrs[string(key)] = string(val)
	}
	return string(name), attrs
}

// urlField extracts a single query parameter from a (possibly relative) URL.
// Returns "" when the URL does not parse or the field is absent.
func urlField(rawURL, field string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Query().Get(field)
}

// compact collapses all interior whitespace runs to single spaces and trims
// the ends.
func compact(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
