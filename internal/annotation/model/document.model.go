package model

import (
	"encoding/json"
	"time"
)

type Link struct {
	Href string `json:"href"`
	Type string `json:"type,omitempty"`
	Rel  string `json:"rel,omitempty"`
}

// Document is the metadata record shared by every annotation whose uri is
// one of its link hrefs.
type Document struct {
	ID                     string         `json:"id,omitempty"`
	AnnotatorSchemaVersion string         `json:"annotator_schema_version,omitempty"`
	Created                *time.Time     `json:"created,omitempty"`
	Updated                *time.Time     `json:"updated,omitempty"`
	Title                  string         `json:"title,omitempty"`
	Link                   []Link         `json:"link"`
	DC                     map[string]any `json:"dc,omitempty"`

	// Extra keeps metadata blocks (highwire, prism, favicon...) the
	// typed fields do not name.
	Extra map[string]json.RawMessage `json:"-"`
}

type documentFields Document

var documentKeys = jsonKeys(documentFields{})

func (d *Document) UnmarshalJSON(data []byte) error {
	var known documentFields
	if err := json.Unmarshal(data, &known); err != nil {
		return err
	}
	extra, err := unknownFields(data, documentKeys)
	if err != nil {
		return err
	}
	*d = Document(known)
	d.Extra = extra
	return nil
}

func (d Document) MarshalJSON() ([]byte, error) {
	body, err := json.Marshal(documentFields(d))
	if err != nil {
		return nil, err
	}
	return mergeExtra(body, d.Extra)
}

// URIs returns the hrefs of every link, in link order.
func (d *Document) URIs() []string {
	uris := make([]string, 0, len(d.Link))
	for _, l := range d.Link {
		uris = append(uris, l.Href)
	}
	return uris
}

// MergeLinks appends each link whose href is not already present. Links
// without an href are ignored.
func (d *Document) MergeLinks(links []Link) {
	known := make(map[string]bool, len(d.Link))
	for _, l := range d.Link {
		known[l.Href] = true
	}
	for _, l := range links {
		if l.Href == "" || known[l.Href] {
			continue
		}
		d.Link = append(d.Link, l)
		known[l.Href] = true
	}
}

// URIQuery is the uri search parameter after boundary normalization.
type URIQuery interface {
	URIs() []string
	isURIQuery()
}

type SingleURI string

func (u SingleURI) URIs() []string { return []string{string(u)} }
func (SingleURI) isURIQuery()      {}

type URISet []string

func (u URISet) URIs() []string { return append([]string(nil), u...) }
func (URISet) isURIQuery()      {}

// ParseURIQuery returns nil when no uri was given.
func ParseURIQuery(values []string) URIQuery {
	var uris []string
	for _, v := range values {
		if v != "" {
			uris = append(uris, v)
		}
	}
	switch len(uris) {
	case 0:
		return nil
	case 1:
		return SingleURI(uris[0])
	default:
		return URISet(uris)
	}
}
