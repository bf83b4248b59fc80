package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"annotationstore/internal/annotation/model"
	"annotationstore/internal/annotation/query"
)

// MemoryIndex keeps every index type in process memory. It serves
// INDEX_BACKEND=memory and the store tests.
type MemoryIndex struct {
	mu     sync.RWMutex
	tables map[Type]map[string][]byte
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{tables: make(map[Type]map[string][]byte)}
}

func (r *MemoryIndex) Put(_ context.Context, typ Type, id string, source []byte, _ model.RefreshPolicy) error {
	if _, err := mappingFor(typ); err != nil {
		return err
	}
	if _, err := decodeSource(source); err != nil {
		return fmt.Errorf("%w: %v", model.ErrMalformedInput, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.tables[typ] == nil {
		r.tables[typ] = make(map[string][]byte)
	}
	r.tables[typ][id] = append([]byte(nil), source...)
	return nil
}

func (r *MemoryIndex) Get(_ context.Context, typ Type, id string) ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	body, ok := r.tables[typ][id]
	if !ok {
		return nil, fmt.Errorf("%w: %s %s", model.ErrNotFound, typ, id)
	}
	return append([]byte(nil), body...), nil
}

func (r *MemoryIndex) Delete(_ context.Context, typ Type, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tables[typ][id]; !ok {
		return fmt.Errorf("%w: %s %s", model.ErrNotFound, typ, id)
	}
	delete(r.tables[typ], id)
	return nil
}

type memoryHit struct {
	id     string
	doc    any
	source []byte
}

func (r *MemoryIndex) matching(typ Type, q query.Query) ([]memoryHit, *mapping, error) {
	m, err := mappingFor(typ)
	if err != nil {
		return nil, nil, err
	}
	e := evaluator{m: m}

	r.mu.RLock()
	defer r.mu.RUnlock()
	var hits []memoryHit
	for id, source := range r.tables[typ] {
		doc, err := decodeSource(source)
		if err != nil {
			return nil, nil, err
		}
		ok, err := e.match(q, doc)
		if err != nil {
			return nil, nil, err
		}
		if ok {
			hits = append(hits, memoryHit{id: id, doc: doc, source: source})
		}
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].id < hits[j].id })
	return hits, m, nil
}

func (r *MemoryIndex) Search(_ context.Context, typ Type, req *query.Request) (*query.Result, error) {
	hits, m, err := r.matching(typ, req.Query)
	if err != nil {
		return nil, err
	}
	if len(req.Sort) > 0 {
		e := evaluator{m: m}
		for _, s := range req.Sort {
			if _, err := segments(s.Field); err != nil {
				return nil, err
			}
			if o := strings.ToLower(s.Order); o != "" && o != query.Asc && o != query.Desc {
				return nil, fmt.Errorf("%w: invalid sort order %q", model.ErrMalformedInput, s.Order)
			}
		}
		sort.SliceStable(hits, func(i, j int) bool {
			for _, s := range req.Sort {
				c := sortCompare(e, s.Field, hits[i].doc, hits[j].doc, m.dates[s.Field])
				if c == 0 {
					continue
				}
				if strings.EqualFold(s.Order, query.Desc) {
					return c > 0
				}
				return c < 0
			}
			return false
		})
	}

	res := &query.Result{Total: int64(len(hits)), Hits: []query.Hit{}}
	start := req.From
	if start > len(hits) {
		start = len(hits)
	}
	end := len(hits)
	if req.Size >= 0 && start+req.Size < end {
		end = start + req.Size
	}
	for _, h := range hits[start:end] {
		source, err := project(h.source, req.Fields)
		if err != nil {
			return nil, err
		}
		res.Hits = append(res.Hits, query.Hit{ID: h.id, Source: source})
	}
	return res, nil
}

// sortCompare orders by the first value of field; missing values sort last.
func sortCompare(e evaluator, field string, a, b any, date bool) int {
	va, _ := e.values(field, a)
	vb, _ := e.values(field, b)
	switch {
	case len(va) == 0 && len(vb) == 0:
		return 0
	case len(va) == 0:
		return 1
	case len(vb) == 0:
		return -1
	}
	x, errA := query.Normalize(va[0])
	y, errB := query.Normalize(vb[0])
	if errA != nil || errB != nil {
		return 0
	}
	c, ok := compare(x, y, date)
	if !ok {
		return strings.Compare(fmt.Sprint(x), fmt.Sprint(y))
	}
	return c
}

func (r *MemoryIndex) Count(_ context.Context, typ Type, q query.Query) (int64, error) {
	hits, _, err := r.matching(typ, q)
	if err != nil {
		return 0, err
	}
	return int64(len(hits)), nil
}
