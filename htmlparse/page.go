// Package htmlparse holds side-effect-free parsing of marketplace pages:
// schema.org JSON-LD blocks, og/meta tags, text cleanup and block detection.
package htmlparse

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Page is a parsed HTML document with its structured data pre-extracted.
type Page struct {
	doc    *goquery.Document
	JSONLD []map[string]interface{}
	Meta   map[string]string
	Title  string
}

func Parse(html []byte) (*Page, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	p := &Page{
		doc:   doc,
		Meta:  make(map[string]string),
		Title: strings.TrimSpace(doc.Find("title").First().Text()),
	}

	doc.Find(`script[type="application/ld+json"]`).Each(func(i int, s *goquery.Selection) {
		p.JSONLD = append(p.JSONLD, decodeJSONLD(s.Text())...)
	})

	doc.Find("meta").Each(func(i int, s *goquery.Selection) {
		key := firstAttr(s, "property", "name", "itemprop")
		content, ok := s.Attr("content")
		if key == "" || !ok {
			return
		}
		key = strings.ToLower(strings.TrimSpace(key))
		if _, exists := p.Meta[key]; !exists {
			p.Meta[key] = strings.TrimSpace(content)
		}
	})

	return p, nil
}

func (p *Page) Document() *goquery.Document {
	return p.doc
}

// MetaValue returns the first non-empty meta content among keys.
func (p *Page) MetaValue(keys ...string) string {
	for _, k := range keys {
		if v := p.Meta[strings.ToLower(k)]; v != "" {
			return v
		}
	}
	return ""
}

// FindType returns the first JSON-LD object whose @type is one of types.
func (p *Page) FindType(types ...string) map[string]interface{} {
	for _, obj := range p.JSONLD {
		if hasType(obj, types...) {
			return obj
		}
	}
	return nil
}

// Product returns the first schema.org Product block, or nil.
func (p *Page) Product() *ProductData {
	obj := p.FindType("Product", "ProductGroup")
	if obj == nil {
		return nil
	}
	return ProductFromJSONLD(obj)
}

// Text returns the trimmed text of the first element matching selector.
func (p *Page) Text(selector string) string {
	return CollapseSpace(p.doc.Find(selector).First().Text())
}

// Attr returns the attribute of the first element matching selector.
func (p *Page) Attr(selector, attr string) string {
	v, _ := p.doc.Find(selector).First().Attr(attr)
	return strings.TrimSpace(v)
}

// Texts returns the trimmed, non-empty texts of every element matching selector.
func (p *Page) Texts(selector string) []string {
	var out []string
	p.doc.Find(selector).Each(func(i int, s *goquery.Selection) {
		if t := CollapseSpace(s.Text()); t != "" {
			out = append(out, t)
		}
	})
	return out
}

// Script returns the raw body of the first script element matching selector.
func (p *Page) Script(selector string) string {
	return strings.TrimSpace(p.doc.Find(selector).First().Text())
}

func decodeJSONLD(text string) []map[string]interface{} {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	var v interface{}
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return nil
	}
	return flattenJSONLD(v)
}

func flattenJSONLD(v interface{}) []map[string]interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		if graph, ok := t["@graph"]; ok {
			return flattenJSONLD(graph)
		}
		return []map[string]interface{}{t}
	case []interface{}:
		var out []map[string]interface{}
		for _, item := range t {
			out = append(out, flattenJSONLD(item)...)
		}
		return out
	}
	return nil
}

func hasType(obj map[string]interface{}, types ...string) bool {
	var got []string
	switch t := obj["@type"].(type) {
	case string:
		got = []string{t}
	case []interface{}:
		for _, item := range t {
			if s, ok := item.(string); ok {
				got = append(got, s)
			}
		}
	}
	for _, g := range got {
		g = strings.TrimPrefix(g, "http://schema.org/")
		g = strings.TrimPrefix(g, "https://schema.org/")
		for _, want := range types {
			if strings.EqualFold(g, want) {
				return true
			}
		}
	}
	return false
}

func firstAttr(s *goquery.Selection, names ...string) string {
	for _, n := range names {
		if v, ok := s.Attr(n); ok && v != "" {
			return v
		}
	}
	return ""
}

// Breadcrumbs returns item names from the first BreadcrumbList block, in
// position order.
func (p *Page) Breadcrumbs() []string {
	obj := p.FindType("BreadcrumbList")
	if obj == nil {
		return []string{}
	}
	items, _ := obj["itemListElement"].([]interface{})
	var out []string
	for _, item := range items {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		name := str(m["name"])
		if name == "" {
			name = nameOf(m["item"])
		}
		if name = CollapseSpace(name); name != "" {
			out = append(out, name)
		}
	}
	return Dedupe(out)
}
