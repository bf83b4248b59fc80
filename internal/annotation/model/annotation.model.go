package model

import (
	"encoding/json"
	"time"
)

// SchemaVersion is stamped on every saved annotation.
const SchemaVersion = "v1.0"

// PublicConsumer is the default read principal given to annotations created
// without explicit permissions.
const PublicConsumer = "group:__consumer__"

type Action string

const (
	ActionRead   Action = "read"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
	ActionAdmin  Action = "admin"
)

// RefreshPolicy says whether a write must be visible to the next search.
type RefreshPolicy int

const (
	RefreshImmediate RefreshPolicy = iota
	RefreshEventual
)

type Range struct {
	Start       string `json:"start"`
	End         string `json:"end"`
	StartOffset int    `json:"startOffset"`
	EndOffset   int    `json:"endOffset"`
}

type Permissions struct {
	Read   []string `json:"read,omitempty"`
	Update []string `json:"update,omitempty"`
	Delete []string `json:"delete,omitempty"`
	Admin  []string `json:"admin,omitempty"`
}

// For returns the principals allowed to perform action.
func (p *Permissions) For(action Action) []string {
	if p == nil {
		return nil
	}
	switch action {
	case ActionRead:
		return p.Read
	case ActionUpdate:
		return p.Update
	case ActionDelete:
		return p.Delete
	case ActionAdmin:
		return p.Admin
	}
	return nil
}

type Annotation struct {
	ID                     string       `json:"id,omitempty"`
	AnnotatorSchemaVersion string       `json:"annotator_schema_version,omitempty"`
	Created                *time.Time   `json:"created,omitempty"`
	Updated                *time.Time   `json:"updated,omitempty"`
	Text                   string       `json:"text,omitempty"`
	Quote                  string       `json:"quote,omitempty"`
	Tags                   []string     `json:"tags,omitempty"`
	URI                    string       `json:"uri,omitempty"`
	Ranges                 []Range      `json:"ranges,omitempty"`
	User                   string       `json:"user,omitempty"`
	Consumer               string       `json:"consumer,omitempty"`
	Permissions            *Permissions `json:"permissions,omitempty"`
	Document               *Document    `json:"document,omitempty"`

	// Extra holds client fields with no typed counterpart. They are
	// stored and returned unchanged.
	Extra map[string]json.RawMessage `json:"-"`
}

type annotationFields Annotation

var annotationKeys = jsonKeys(annotationFields{})

func (a *Annotation) UnmarshalJSON(data []byte) error {
	var known annotationFields
	if err := json.Unmarshal(data, &known); err != nil {
		return err
	}
	extra, err := unknownFields(data, annotationKeys)
	if err != nil {
		return err
	}
	*a = Annotation(known)
	a.Extra = extra
	return nil
}

func (a Annotation) MarshalJSON() ([]byte, error) {
	body, err := json.Marshal(annotationFields(a))
	if err != nil {
		return nil, err
	}
	return mergeExtra(body, a.Extra)
}

// Server-controlled fields stripped from client payloads.
var (
	CreateFilterFields = []string{"updated", "created", "consumer", "id"}
	UpdateFilterFields = []string{"updated", "created", "user", "consumer"}
)

// AddDefaultPermissions grants read to the public consumer principal when
// the annotation carries no permissions at all.
func (a *Annotation) AddDefaultPermissions() {
	if a.Permissions == nil {
		a.Permissions = &Permissions{Read: []string{PublicConsumer}}
	}
}
