// Package render presents stored annotations as plain JSON or as JSON-LD
// following the Open Annotation data model.
package render

import (
	"mime"
	"strconv"
	"strings"
	"time"

	"annotationstore/internal/annotation/model"
)

const (
	ContentJSON   = "application/json"
	ContentJSONLD = "application/ld+json"
)

// Offered types in order of preference; ties go to the earlier one.
var offered = []string{ContentJSON, ContentJSONLD}

// Renderer turns annotations into response values for one content type.
type Renderer struct {
	ContentType string
	// BaseURL is the JSON-LD @base, normally the annotation read URL
	// without an id.
	BaseURL string
}

// Negotiate picks the renderer for an Accept header.
func Negotiate(accept, baseURL string) Renderer {
	return Renderer{ContentType: PreferredType(accept), BaseURL: baseURL}
}

func (r Renderer) Render(ann *model.Annotation) any {
	if r.ContentType == ContentJSONLD {
		return JSONLD(ann, r.BaseURL)
	}
	return ann
}

func (r Renderer) RenderAll(anns []*model.Annotation) []any {
	out := make([]any, 0, len(anns))
	for _, a := range anns {
		out = append(out, r.Render(a))
	}
	return out
}

// PreferredType returns the offered type the Accept header ranks highest.
// An empty or unparsable header selects plain JSON.
func PreferredType(accept string) string {
	if strings.TrimSpace(accept) == "" {
		return offered[0]
	}
	best, bestQ := offered[0], 0.0
	for _, typ := range offered {
		if q := quality(accept, typ); q > bestQ {
			best, bestQ = typ, q
		}
	}
	return best
}

// quality is the q value the most specific matching range gives typ.
func quality(accept, typ string) float64 {
	q, specificity := 0.0, -1
	for _, part := range strings.Split(accept, ",") {
		mt, params, err := mime.ParseMediaType(strings.TrimSpace(part))
		if err != nil {
			continue
		}
		s := match(mt, typ)
		if s < 0 || s < specificity {
			continue
		}
		v := 1.0
		if raw, ok := params["q"]; ok {
			if f, err := strconv.ParseFloat(raw, 64); err == nil {
				v = f
			}
		}
		if s > specificity || v > q {
			q, specificity = v, s
		}
	}
	return q
}

// match reports how specifically rng covers typ: 2 exact, 1 subtype
// wildcard, 0 full wildcard, -1 not at all.
func match(rng, typ string) int {
	switch {
	case rng == typ:
		return 2
	case rng == "*/*":
		return 0
	case strings.HasSuffix(rng, "/*") && strings.HasPrefix(typ, strings.TrimSuffix(rng, "*")):
		return 1
	}
	return -1
}

// Document is the JSON-LD form of an annotation. Field order follows the
// recommended layout with @context first.
type Document struct {
	Context      []any      `json:"@context"`
	ID           string     `json:"@id"`
	Type         string     `json:"@type"`
	HasBody      []Body     `json:"hasBody"`
	HasTarget    []any      `json:"hasTarget"`
	AnnotatedBy  any        `json:"annotatedBy"`
	AnnotatedAt  *time.Time `json:"annotatedAt"`
	SerializedBy Agent      `json:"serializedBy"`
	SerializedAt *time.Time `json:"serializedAt"`
	MotivatedBy  []string   `json:"motivatedBy"`
}

type Body struct {
	Type   []string `json:"@type"`
	Format string   `json:"dc:format"`
	Chars  string   `json:"cnt:chars"`
}

type Target struct {
	Type        string   `json:"@type"`
	HasSource   string   `json:"hasSource"`
	HasSelector Selector `json:"hasSelector"`
}

type Selector struct {
	Type           string `json:"@type"`
	StartContainer string `json:"annotator:startContainer"`
	EndContainer   string `json:"annotator:endContainer"`
	StartOffset    int    `json:"annotator:startOffset"`
	EndOffset      int    `json:"annotator:endOffset"`
}

type Person struct {
	Type string `json:"@type"`
	Name string `json:"foaf:name"`
}

type Agent struct {
	ID       string            `json:"@id"`
	Type     string            `json:"@type"`
	Name     string            `json:"foaf:name"`
	Homepage map[string]string `json:"foaf:homepage"`
}

var serializer = Agent{
	ID:       "annotator:annotator-store",
	Type:     "prov:Software-agent",
	Name:     "annotator-store",
	Homepage: map[string]string{"@id": "http://annotatorjs.org"},
}

// JSONLD renders ann in the Open Annotation model.
func JSONLD(ann *model.Annotation, baseURL string) *Document {
	ctx := []any{
		"http://www.w3.org/ns/oa-context-20130208.json",
		map[string]string{"annotator": "http://annotatorjs.org/ns/"},
	}
	if baseURL != "" {
		ctx = append(ctx, map[string]string{"@base": baseURL})
	}

	text := textBodies(ann)
	tags := tagBodies(ann)
	doc := &Document{
		Context:      ctx,
		ID:           ann.ID,
		Type:         "oa:Annotation",
		HasBody:      append(append([]Body{}, text...), tags...),
		HasTarget:    targets(ann),
		AnnotatedBy:  annotatedBy(ann),
		AnnotatedAt:  ann.Created,
		SerializedBy: serializer,
		SerializedAt: ann.Updated,
		MotivatedBy:  []string{},
	}
	if len(text) > 0 {
		doc.MotivatedBy = append(doc.MotivatedBy, "oa:commenting")
	}
	if len(tags) > 0 {
		doc.MotivatedBy = append(doc.MotivatedBy, "oa:tagging")
	}
	return doc
}

// An empty text counts as no text.
func textBodies(ann *model.Annotation) []Body {
	if ann.Text == "" {
		return nil
	}
	return []Body{{
		Type:   []string{"dctypes:Text", "cnt:ContentAsText"},
		Format: "text/plain",
		Chars:  ann.Text,
	}}
}

func tagBodies(ann *model.Annotation) []Body {
	out := make([]Body, 0, len(ann.Tags))
	for _, tag := range ann.Tags {
		out = append(out, Body{
			Type:   []string{"oa:Tag", "cnt:ContentAsText"},
			Format: "text/plain",
			Chars:  tag,
		})
	}
	return out
}

// targets returns a selector per range, or the page itself when the
// annotation has no ranges.
func targets(ann *model.Annotation) []any {
	out := []any{}
	if ann.URI == "" {
		return out
	}
	if len(ann.Ranges) == 0 {
		return append(out, ann.URI)
	}
	for _, r := range ann.Ranges {
		out = append(out, Target{
			Type:      "oa:SpecificResource",
			HasSource: ann.URI,
			HasSelector: Selector{
				Type:           "annotator:TextRangeSelector",
				StartContainer: r.Start,
				EndContainer:   r.End,
				StartOffset:    r.StartOffset,
				EndOffset:      r.EndOffset,
			},
		})
	}
	return out
}

func annotatedBy(ann *model.Annotation) any {
	if ann.User == "" {
		return []any{}
	}
	return Person{Type: "foaf:Agent", Name: ann.User}
}
