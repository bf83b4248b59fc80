package repository

import (
	"fmt"
	"regexp"
	"strings"

	"annotationstore/internal/annotation/model"
	"annotationstore/internal/annotation/query"
)

// mapping describes how the fields of one index type are stored.
type mapping struct {
	table    string
	arrays   map[string]bool
	scalars  map[string]bool
	dates    map[string]bool
	numbers  map[string]bool
	fullText []string
}

func set(fields ...string) map[string]bool {
	m := make(map[string]bool, len(fields))
	for _, f := range fields {
		m[f] = true
	}
	return m
}

var mappings = map[Type]*mapping{
	TypeAnnotation: {
		table: "annotations",
		arrays: set("tags", "ranges", "permissions.read", "permissions.update",
			"permissions.delete", "permissions.admin", "document.link"),
		scalars: set("id", "annotator_schema_version", "created", "updated", "text",
			"quote", "uri", "user", "consumer", "ranges.start", "ranges.end",
			"ranges.startOffset", "ranges.endOffset", "document.title",
			"document.link.href", "document.link.type"),
		dates:    set("created", "updated"),
		numbers:  set("ranges.startOffset", "ranges.endOffset"),
		fullText: []string{"text", "quote"},
	},
	TypeDocument: {
		table:    "documents",
		arrays:   set("link"),
		scalars:  set("id", "annotator_schema_version", "created", "updated", "title", "link.href", "link.type", "link.rel"),
		dates:    set("created", "updated"),
		numbers:  set(),
		fullText: []string{"title"},
	},
}

func mappingFor(typ Type) (*mapping, error) {
	m, ok := mappings[typ]
	if !ok {
		return nil, &model.IndexError{Status: 400, Err: fmt.Errorf("unknown index type %q", typ)}
	}
	return m, nil
}

var segmentRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_\-]*$`)

// segments splits a dotted field name, rejecting names that are not plain
// identifiers.
func segments(field string) ([]string, error) {
	segs := strings.Split(field, ".")
	for _, s := range segs {
		if !segmentRe.MatchString(s) {
			return nil, fmt.Errorf("%w: invalid field name %q", model.ErrMalformedInput, field)
		}
	}
	return segs, nil
}

// textFields resolves a free-text field name, expanding query.AllFields.
func (m *mapping) textFields(field string) []string {
	if field == "" || field == query.AllFields {
		return m.fullText
	}
	return []string{field}
}

// containment builds the smallest JSON document that a source holding
// value at field contains. Array paths along the way are wrapped so that
// jsonb @> matches any element.
func (m *mapping) containment(segs []string, value any, arrayLeaf bool) any {
	var cur any = value
	if arrayLeaf {
		cur = []any{cur}
	}
	for i := len(segs) - 1; i >= 0; i-- {
		cur = map[string]any{segs[i]: cur}
		if i > 0 && m.arrays[strings.Join(segs[:i], ".")] {
			cur = []any{cur}
		}
	}
	return cur
}
