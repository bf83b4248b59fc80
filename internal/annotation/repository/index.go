package repository

import (
	"context"

	"annotationstore/internal/annotation/model"
	"annotationstore/internal/annotation/query"
)

// Type names one document collection of the index.
type Type string

const (
	TypeAnnotation Type = "annotation"
	TypeDocument   Type = "document"
)

// Index is the search index the store persists to. Sources are JSON
// documents; Get and Delete return model.ErrNotFound for unknown ids and
// transport failures are *model.IndexError.
type Index interface {
	Put(ctx context.Context, typ Type, id string, source []byte, refresh model.RefreshPolicy) error
	Get(ctx context.Context, typ Type, id string) ([]byte, error)
	Delete(ctx context.Context, typ Type, id string) error
	Search(ctx context.Context, typ Type, req *query.Request) (*query.Result, error)
	Count(ctx context.Context, typ Type, q query.Query) (int64, error)
}
