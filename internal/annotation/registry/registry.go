// Package registry tracks which URIs are known to identify the same
// document, so that searches by one of them can cover all of them.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"annotationstore/internal/annotation/model"
	"annotationstore/internal/annotation/query"
	"annotationstore/internal/annotation/repository"
	"annotationstore/pkg/logger"
)

const (
	hrefField = "link.href"
	// maxMatches bounds a lookup by URI set. Hrefs are disjoint across
	// documents, so a lookup can match at most one document per href.
	maxMatches = 100
)

// Cache remembers which document owns an href. Get returns "" when the
// href is not cached.
type Cache interface {
	Get(ctx context.Context, href string) (string, error)
	Set(ctx context.Context, href, documentID string) error
}

type Registry struct {
	Index repository.Index
	Cache Cache
	Now   func() time.Time
}

func NewRegistry(index repository.Index, cache Cache) *Registry {
	return &Registry{Index: index, Cache: cache, Now: time.Now}
}

// GetAllByURIs returns every document owning at least one of uris.
func (r *Registry) GetAllByURIs(ctx context.Context, uris []string) ([]*model.Document, error) {
	if len(uris) == 0 {
		return nil, nil
	}
	values := make([]any, 0, len(uris))
	for _, u := range uris {
		values = append(values, u)
	}
	res, err := r.Index.Search(ctx, repository.TypeDocument, &query.Request{
		Query: query.Terms{Field: hrefField, Values: values},
		Size:  maxMatches,
	})
	if err != nil {
		return nil, err
	}
	docs := make([]*model.Document, 0, len(res.Hits))
	for _, hit := range res.Hits {
		doc, err := decodeDocument(hit.ID, hit.Source)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// GetByURI returns the document owning uri, or nil if none does.
func (r *Registry) GetByURI(ctx context.Context, uri string) (*model.Document, error) {
	if doc := r.cached(ctx, uri); doc != nil {
		return doc, nil
	}
	docs, err := r.GetAllByURIs(ctx, []string{uri})
	if err != nil || len(docs) == 0 {
		return nil, err
	}
	r.remember(ctx, docs[0])
	return docs[0], nil
}

// Resolve registers the document metadata embedded in an annotation. When
// no document owns any of its hrefs a new one is created; otherwise the
// incoming links are merged into the first match. Other matches are left
// as they are.
func (r *Registry) Resolve(ctx context.Context, embedded *model.Document) (*model.Document, error) {
	uris := nonEmpty(embedded.URIs())
	if len(uris) == 0 {
		return nil, nil
	}
	docs, err := r.GetAllByURIs(ctx, uris)
	if err != nil {
		return nil, err
	}

	now := r.Now().UTC()
	var doc *model.Document
	if len(docs) == 0 {
		doc = &model.Document{
			ID:      uuid.NewString(),
			Created: &now,
			Title:   embedded.Title,
			DC:      embedded.DC,
		}
		doc.MergeLinks(embedded.Link)
	} else {
		doc = docs[0]
		if len(docs) > 1 {
			ids := make([]string, 0, len(docs))
			for _, d := range docs {
				ids = append(ids, d.ID)
			}
			logger.Sugar.Warnf("Hrefs %v are split across documents %v; merging into %s", uris, ids, doc.ID)
		}
		doc.MergeLinks(embedded.Link)
	}
	doc.Updated = &now
	doc.AnnotatorSchemaVersion = model.SchemaVersion

	body, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	if err := r.Index.Put(ctx, repository.TypeDocument, doc.ID, body, model.RefreshImmediate); err != nil {
		return nil, err
	}
	r.remember(ctx, doc)
	return doc, nil
}

func (r *Registry) cached(ctx context.Context, uri string) *model.Document {
	if r.Cache == nil {
		return nil
	}
	id, err := r.Cache.Get(ctx, uri)
	if err != nil {
		logger.Sugar.Warnf("Document cache lookup for %s failed: %v", uri, err)
		return nil
	}
	if id == "" {
		return nil
	}
	body, err := r.Index.Get(ctx, repository.TypeDocument, id)
	if err != nil {
		if !errors.Is(err, model.ErrNotFound) {
			logger.Sugar.Warnf("Cached document %s for %s unreadable: %v", id, uri, err)
		}
		return nil
	}
	doc, err := decodeDocument(id, body)
	if err != nil {
		return nil
	}
	for _, u := range doc.URIs() {
		if u == uri {
			return doc
		}
	}
	return nil
}

func (r *Registry) remember(ctx context.Context, doc *model.Document) {
	if r.Cache == nil {
		return
	}
	for _, u := range doc.URIs() {
		if err := r.Cache.Set(ctx, u, doc.ID); err != nil {
			logger.Sugar.Warnf("Document cache store for %s failed: %v", u, err)
			return
		}
	}
}

func decodeDocument(id string, source []byte) (*model.Document, error) {
	var doc model.Document
	if err := json.Unmarshal(source, &doc); err != nil {
		return nil, fmt.Errorf("decode document %s: %w", id, err)
	}
	if doc.ID == "" {
		doc.ID = id
	}
	return &doc, nil
}

func nonEmpty(uris []string) []string {
	out := uris[:0:0]
	for _, u := range uris {
		if u != "" {
			out = append(out, u)
		}
	}
	return out
}
