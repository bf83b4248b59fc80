package service

import (
	"context"

	"annotationstore/internal/annotation/model"
)

// Hooks runs around every annotation write. A Before hook error aborts the
// write; an After hook error is returned after the write has happened.
type Hooks interface {
	BeforeCreate(ctx context.Context, ann *model.Annotation) error
	AfterCreate(ctx context.Context, ann *model.Annotation) error
	BeforeUpdate(ctx context.Context, ann *model.Annotation) error
	AfterUpdate(ctx context.Context, ann *model.Annotation) error
	BeforeDelete(ctx context.Context, ann *model.Annotation) error
	AfterDelete(ctx context.Context, ann *model.Annotation) error
}

// NopHooks does nothing. Embed it to implement only some hooks.
type NopHooks struct{}

func (NopHooks) BeforeCreate(context.Context, *model.Annotation) error { return nil }
func (NopHooks) AfterCreate(context.Context, *model.Annotation) error  { return nil }
func (NopHooks) BeforeUpdate(context.Context, *model.Annotation) error { return nil }
func (NopHooks) AfterUpdate(context.Context, *model.Annotation) error  { return nil }
func (NopHooks) BeforeDelete(context.Context, *model.Annotation) error { return nil }
func (NopHooks) AfterDelete(context.Context, *model.Annotation) error  { return nil }
