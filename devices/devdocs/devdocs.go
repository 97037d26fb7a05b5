// Package devdocs embeds the reference page for each built-in device
// class. Pages are markdown with YAML frontmatter (type, display_name and
// the class's default settings); the CLI device listing and the
// registration tests read them through Lookup.
package devdocs

import (
	"bytes"
	"embed"
	"fmt"
	"sort"

	"github.com/yuin/goldmark"
	meta "github.com/yuin/goldmark-meta"
	"github.com/yuin/goldmark/parser"
)

//go:embed *.md
var pages embed.FS

// Doc is one parsed device reference page.
type Doc struct {
	Type        string
	DisplayName string
	Defaults    map[string]any
	HTML        string
}

var md = goldmark.New(goldmark.WithExtensions(meta.Meta))

func parse(name string) (Doc, error) {
	src, err := pages.ReadFile(name)
	if err != nil {
		return Doc{}, err
	}
	var buf bytes.Buffer
	ctx := parser.NewContext()
	if err := md.Convert(src, &buf, parser.WithContext(ctx)); err != nil {
		return Doc{}, fmt.Errorf("failed to render %s: %w", name, err)
	}
	front := meta.Get(ctx)
	doc := Doc{HTML: buf.String(), Defaults: map[string]any{}}
	if v, ok := front["type"].(string); ok {
		doc.Type = v
	}
	if v, ok := front["display_name"].(string); ok {
		doc.DisplayName = v
	}
	if defaults, ok := front["defaults"].(map[any]any); ok {
		for k, v := range defaults {
			if key, ok := k.(string); ok {
				doc.Defaults[key] = v
			}
		}
	}
	if doc.Type == "" {
		return Doc{}, fmt.Errorf("%s has no type in frontmatter", name)
	}
	return doc, nil
}

// All returns every device reference page, sorted by type.
func All() ([]Doc, error) {
	entries, err := pages.ReadDir(".")
	if err != nil {
		return nil, err
	}
	out := make([]Doc, 0, len(entries))
	for _, entry := range entries {
		doc, err := parse(entry.Name())
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out, nil
}

// Lookup returns the reference page of one device class.
func Lookup(deviceType string) (Doc, error) {
	docs, err := All()
	if err != nil {
		return Doc{}, err
	}
	for _, doc := range docs {
		if doc.Type == deviceType {
			return doc, nil
		}
	}
	return Doc{}, fmt.Errorf("no reference page for device type %q", deviceType)
}
