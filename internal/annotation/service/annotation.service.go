package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"

	"annotationstore/config"
	"annotationstore/internal/annotation/authz"
	"annotationstore/internal/annotation/model"
	"annotationstore/internal/annotation/repository"
	"annotationstore/internal/annotation/search"
	"annotationstore/pkg/logger"
)

// DocumentResolver registers the document metadata embedded in an
// annotation.
type DocumentResolver interface {
	Resolve(ctx context.Context, embedded *model.Document) (*model.Document, error)
}

type AnnotationService struct {
	Index     repository.Index
	Documents DocumentResolver
	Builder   *search.Builder
	Hooks     Hooks
	Authorize authz.Authorizer
	Cfg       *config.Config
	Now       func() time.Time
}

func NewAnnotationService(cfg *config.Config, index repository.Index, documents DocumentResolver, builder *search.Builder) *AnnotationService {
	return &AnnotationService{
		Index:     index,
		Documents: documents,
		Builder:   builder,
		Hooks:     NopHooks{},
		Authorize: authz.Authorize,
		Cfg:       cfg,
		Now:       time.Now,
	}
}

// Search returns one page of annotations matching p that user may read.
func (s *AnnotationService) Search(ctx context.Context, p search.Params, user *model.Identity) ([]*model.Annotation, error) {
	anns, _, err := s.Find(ctx, p, user)
	return anns, err
}

// Find is Search plus the total number of matches.
func (s *AnnotationService) Find(ctx context.Context, p search.Params, user *model.Identity) ([]*model.Annotation, int64, error) {
	req, err := s.Builder.Build(ctx, p, user)
	if err != nil {
		return nil, 0, err
	}
	res, err := s.Index.Search(ctx, repository.TypeAnnotation, req)
	if err != nil {
		return nil, 0, err
	}
	anns := make([]*model.Annotation, 0, len(res.Hits))
	for _, hit := range res.Hits {
		ann, err := decodeAnnotation(hit.ID, hit.Source)
		if err != nil {
			return nil, 0, err
		}
		anns = append(anns, ann)
	}
	return anns, res.Total, nil
}

// Count returns the number of annotations matching p that user may read.
func (s *AnnotationService) Count(ctx context.Context, p search.Params, user *model.Identity) (int64, error) {
	req, err := s.Builder.Build(ctx, p, user)
	if err != nil {
		return 0, err
	}
	return s.Index.Count(ctx, repository.TypeAnnotation, req.Query)
}

// Fetch returns the annotation with id, or an ErrNotFound error.
func (s *AnnotationService) Fetch(ctx context.Context, id string) (*model.Annotation, error) {
	body, err := s.Index.Get(ctx, repository.TypeAnnotation, id)
	if err != nil {
		return nil, err
	}
	return decodeAnnotation(id, body)
}

// Save persists ann, registering its embedded document first. The
// document write and the annotation write are separate operations.
func (s *AnnotationService) Save(ctx context.Context, ann *model.Annotation, refresh model.RefreshPolicy) error {
	ann.AddDefaultPermissions()

	if ann.Document != nil && len(ann.Document.Link) > 0 {
		if _, err := s.Documents.Resolve(ctx, ann.Document); err != nil {
			logger.Sugar.Errorf("Failed to register document for annotation %s: %v", ann.ID, err)
			return err
		}
	}

	now := s.Now().UTC()
	if ann.ID == "" {
		ann.ID = uuid.NewString()
	}
	if ann.Created == nil {
		ann.Created = &now
	}
	ann.Updated = &now
	ann.AnnotatorSchemaVersion = model.SchemaVersion

	body, err := json.Marshal(ann)
	if err != nil {
		return err
	}
	return s.Index.Put(ctx, repository.TypeAnnotation, ann.ID, body, refresh)
}

// Delete removes the annotation with id.
func (s *AnnotationService) Delete(ctx context.Context, id string) error {
	return s.Index.Delete(ctx, repository.TypeAnnotation, id)
}

// List is the unparameterised search behind GET /annotations.
func (s *AnnotationService) List(ctx context.Context, user *model.Identity) ([]*model.Annotation, error) {
	return s.Search(ctx, search.Params{}, user)
}

// Create stores a client payload as a new annotation owned by user.
func (s *AnnotationService) Create(ctx context.Context, payload []byte, user *model.Identity, refresh model.RefreshPolicy) (*model.Annotation, error) {
	if user == nil {
		return nil, refused("create annotation", user)
	}
	fields, err := decodePayload(payload)
	if err != nil {
		return nil, err
	}
	strip(fields, model.CreateFilterFields)
	// Owner and consumer always come from the request identity.
	delete(fields, "user")

	ann, err := fromFields(fields)
	if err != nil {
		return nil, err
	}
	ann.Consumer = user.ConsumerKey
	ann.User = user.ID

	if err := s.Hooks.BeforeCreate(ctx, ann); err != nil {
		return nil, err
	}
	if err := s.Save(ctx, ann, refresh); err != nil {
		return nil, err
	}
	if err := s.Hooks.AfterCreate(ctx, ann); err != nil {
		return ann, err
	}
	return ann, nil
}

// Read fetches an annotation user may read.
func (s *AnnotationService) Read(ctx context.Context, id string, user *model.Identity) (*model.Annotation, error) {
	ann, err := s.Fetch(ctx, id)
	if err != nil {
		return nil, err
	}
	if !s.Authorize(ann, model.ActionRead, user) {
		return nil, refused("read annotation", user)
	}
	return ann, nil
}

// Update overlays a client payload on the stored annotation. Changing
// permissions additionally needs the admin action.
func (s *AnnotationService) Update(ctx context.Context, id string, payload []byte, user *model.Identity, refresh model.RefreshPolicy) (*model.Annotation, error) {
	ann, err := s.Fetch(ctx, id)
	if err != nil {
		return nil, err
	}
	if !s.Authorize(ann, model.ActionUpdate, user) {
		return nil, refused("update annotation", user)
	}

	fields, err := decodePayload(payload)
	if err != nil {
		return nil, err
	}
	strip(fields, model.UpdateFilterFields)
	idJSON, _ := json.Marshal(id)
	fields["id"] = idJSON

	if raw, ok := fields["permissions"]; ok {
		changed, err := permissionsChanged(ann.Permissions, raw)
		if err != nil {
			return nil, err
		}
		if changed && !s.Authorize(ann, model.ActionAdmin, user) {
			return nil, refused("permissions update", user)
		}
	}

	updated, err := overlay(ann, fields)
	if err != nil {
		return nil, err
	}
	if err := s.Hooks.BeforeUpdate(ctx, updated); err != nil {
		return nil, err
	}
	if err := s.Save(ctx, updated, refresh); err != nil {
		return nil, err
	}
	if err := s.Hooks.AfterUpdate(ctx, updated); err != nil {
		return updated, err
	}
	return updated, nil
}

// Remove deletes an annotation user may delete.
func (s *AnnotationService) Remove(ctx context.Context, id string, user *model.Identity) error {
	ann, err := s.Fetch(ctx, id)
	if err != nil {
		return err
	}
	if !s.Authorize(ann, model.ActionDelete, user) {
		return refused("delete annotation", user)
	}
	if err := s.Hooks.BeforeDelete(ctx, ann); err != nil {
		return err
	}
	if err := s.Delete(ctx, id); err != nil {
		return err
	}
	return s.Hooks.AfterDelete(ctx, ann)
}

func decodeAnnotation(id string, source []byte) (*model.Annotation, error) {
	var ann model.Annotation
	if err := json.Unmarshal(source, &ann); err != nil {
		return nil, fmt.Errorf("decode annotation %s: %w", id, err)
	}
	if ann.ID == "" {
		ann.ID = id
	}
	return &ann, nil
}

func decodePayload(payload []byte) (map[string]json.RawMessage, error) {
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 || bytes.Equal(payload, []byte("null")) {
		return nil, fmt.Errorf("%w: no JSON payload sent", model.ErrMalformedInput)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrMalformedInput, err)
	}
	return fields, nil
}

func strip(fields map[string]json.RawMessage, names []string) {
	for _, name := range names {
		delete(fields, name)
	}
}

func fromFields(fields map[string]json.RawMessage) (*model.Annotation, error) {
	body, err := json.Marshal(fields)
	if err != nil {
		return nil, err
	}
	var ann model.Annotation
	if err := json.Unmarshal(body, &ann); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrMalformedInput, err)
	}
	return &ann, nil
}

func overlay(ann *model.Annotation, fields map[string]json.RawMessage) (*model.Annotation, error) {
	body, err := json.Marshal(ann)
	if err != nil {
		return nil, err
	}
	var merged map[string]json.RawMessage
	if err := json.Unmarshal(body, &merged); err != nil {
		return nil, err
	}
	for k, v := range fields {
		merged[k] = v
	}
	return fromFields(merged)
}

func permissionsChanged(current *model.Permissions, raw json.RawMessage) (bool, error) {
	var next *model.Permissions
	if err := json.Unmarshal(raw, &next); err != nil {
		return false, fmt.Errorf("%w: permissions: %v", model.ErrMalformedInput, err)
	}
	if current == nil || next == nil {
		return current != next, nil
	}
	for _, a := range []model.Action{model.ActionRead, model.ActionUpdate, model.ActionDelete, model.ActionAdmin} {
		if !sameList(current.For(a), next.For(a)) {
			return true, nil
		}
	}
	return false, nil
}

func sameList(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func refused(what string, user *model.Identity) error {
	var id, consumer string
	if user != nil {
		id, consumer = user.ID, user.ConsumerKey
	}
	return fmt.Errorf("%w: cannot authorize request (%s); perhaps you're not logged in as a user with appropriate permissions on this annotation? (user=%q, consumer=%q)",
		model.ErrAuthorizationRefused, what, id, consumer)
}

// RawResult has the shape of an Elasticsearch search response.
type RawResult struct {
	Took     int64   `json:"took"`
	TimedOut bool    `json:"timed_out"`
	Hits     RawHits `json:"hits"`
}

type RawHits struct {
	Total int64    `json:"total"`
	Hits  []RawHit `json:"hits"`
}

type RawHit struct {
	Index  string          `json:"_index"`
	Type   string          `json:"_type"`
	ID     string          `json:"_id"`
	Source json.RawMessage `json:"_source,omitempty"`
}

// SearchRawGet runs an advanced search given as URL controls.
func (s *AnnotationService) SearchRawGet(ctx context.Context, values url.Values, user *model.Identity) (*RawResult, error) {
	raw, err := s.Builder.BuildRawGet(values, user)
	if err != nil {
		return nil, err
	}
	return s.SearchRaw(ctx, raw)
}

// SearchRawPost runs an advanced search given as a structured body.
func (s *AnnotationService) SearchRawPost(ctx context.Context, body []byte, args url.Values, user *model.Identity) (*RawResult, error) {
	raw, err := s.Builder.BuildRawPost(body, args, user)
	if err != nil {
		return nil, err
	}
	return s.SearchRaw(ctx, raw)
}

// SearchRaw executes a request produced by the Builder, which has
// already applied permission filtering.
func (s *AnnotationService) SearchRaw(ctx context.Context, raw *search.RawRequest) (*RawResult, error) {
	req := raw.Request
	if raw.Params["search_type"] == "count" {
		req.Size = 0
	}
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	start := s.Now()
	res, err := s.Index.Search(ctx, repository.TypeAnnotation, req)
	if err != nil {
		return nil, err
	}
	out := &RawResult{
		Took: s.Now().Sub(start).Milliseconds(),
		Hits: RawHits{Total: res.Total, Hits: make([]RawHit, 0, len(res.Hits))},
	}
	for _, h := range res.Hits {
		out.Hits.Hits = append(out.Hits.Hits, RawHit{
			Index:  "annotator",
			Type:   string(repository.TypeAnnotation),
			ID:     h.ID,
			Source: h.Source,
		})
	}
	return out, nil
}
