package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"annotationstore/internal/annotation/model"
	"annotationstore/internal/annotation/render"
	"annotationstore/internal/annotation/search"
	"annotationstore/internal/annotation/service"
	"annotationstore/middleware"
	"annotationstore/pkg/logger"
)

const maxBodyBytes = 1 << 20

type AnnotationHandler struct {
	Service *service.AnnotationService
}

func NewAnnotationHandler(service *service.AnnotationService) *AnnotationHandler {
	return &AnnotationHandler{Service: service}
}

func (h *AnnotationHandler) Root(w http.ResponseWriter, r *http.Request) {
	base := baseURL(r)
	refresh := map[string]any{
		"refresh": map[string]string{"type": "bool", "desc": "Force an index refresh after the write (default: true)"},
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Annotator Store API",
		"links": map[string]any{
			"annotation": map[string]any{
				"create": map[string]any{"method": "POST", "url": base + "/annotations", "query": refresh, "desc": "Create a new annotation"},
				"read":   map[string]any{"method": "GET", "url": base + "/annotations/:id", "desc": "Get an existing annotation"},
				"update": map[string]any{"method": "PUT", "url": base + "/annotations/:id", "query": refresh, "desc": "Update an existing annotation"},
				"delete": map[string]any{"method": "DELETE", "url": base + "/annotations/:id", "desc": "Delete an annotation"},
			},
			"search": map[string]any{"method": "GET", "url": base + "/search", "desc": "Basic search API"},
			"search_raw": map[string]any{
				"method": "GET/POST",
				"url":    base + "/search_raw",
				"desc":   "Advanced search API. Uses the same API as the Elasticsearch query endpoint.",
			},
		},
	})
}

func (h *AnnotationHandler) Index(w http.ResponseWriter, r *http.Request) {
	anns, err := h.Service.List(r.Context(), middleware.UserFromContext(r.Context()))
	if err != nil {
		logger.Sugar.Errorf("Handler: Failed to list annotations: %v", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, renderer(r).RenderAll(anns))
}

func (h *AnnotationHandler) Create(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeError(w, err)
		return
	}
	ann, err := h.Service.Create(r.Context(), body, middleware.UserFromContext(r.Context()), refreshPolicy(r))
	if err != nil {
		logger.Sugar.Errorf("Handler: Failed to create annotation: %v", err)
		if ann == nil {
			writeError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, ann)
}

func (h *AnnotationHandler) Read(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	ann, err := h.Service.Read(r.Context(), id, middleware.UserFromContext(r.Context()))
	if err != nil {
		logger.Sugar.Infof("Handler: Failed to read annotation %s: %v", id, err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, renderer(r).Render(ann))
}

func (h *AnnotationHandler) Update(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	body, err := readBody(r)
	if err != nil {
		writeError(w, err)
		return
	}
	ann, err := h.Service.Update(r.Context(), id, body, middleware.UserFromContext(r.Context()), refreshPolicy(r))
	if err != nil {
		logger.Sugar.Errorf("Handler: Failed to update annotation %s: %v", id, err)
		if ann == nil {
			writeError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, ann)
}

func (h *AnnotationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.Service.Remove(r.Context(), id, middleware.UserFromContext(r.Context())); err != nil {
		logger.Sugar.Errorf("Handler: Failed to delete annotation %s: %v", id, err)
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AnnotationHandler) Search(w http.ResponseWriter, r *http.Request) {
	params := SearchParams(r.URL.Query())
	anns, total, err := h.Service.Find(r.Context(), params, middleware.UserFromContext(r.Context()))
	if err != nil {
		logger.Sugar.Errorf("Handler: Search failed: %v", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total": total,
		"rows":  renderer(r).RenderAll(anns),
	})
}

func (h *AnnotationHandler) SearchRaw(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())
	var (
		res *service.RawResult
		err error
	)
	switch r.Method {
	case http.MethodGet:
		res, err = h.Service.SearchRawGet(r.Context(), r.URL.Query(), user)
	case http.MethodPost:
		var body []byte
		body, err = readBody(r)
		if err == nil {
			res, err = h.Service.SearchRawPost(r.Context(), body, r.URL.Query(), user)
		}
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err != nil {
		logger.Sugar.Errorf("Handler: Raw search failed: %v", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// URL parameters consumed by the transport layer, never field filters.
var reservedParams = map[string]bool{"token": true, "refresh": true}

// SearchParams splits /search URL parameters into paging, sorting, free
// text, uri and field filters.
func SearchParams(values url.Values) search.Params {
	p := search.Params{Fields: map[string][]string{}}
	for k, vs := range values {
		switch k {
		case "offset":
			p.Offset = atoiPtr(vs[0])
		case "limit":
			p.Limit = atoiPtr(vs[0])
		case "sort":
			for _, v := range vs {
				p.Sort = append(p.Sort, search.ParseSort(v)...)
			}
		case "q":
			p.Text = vs[0]
		case "uri":
			p.URI = model.ParseURIQuery(vs)
		default:
			if !reservedParams[k] {
				p.Fields[k] = vs
			}
		}
	}
	return p
}

// Unparsable numbers count as absent.
func atoiPtr(s string) *int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return nil
	}
	return &n
}

func refreshPolicy(r *http.Request) model.RefreshPolicy {
	if r.URL.Query().Get("refresh") == "false" {
		return model.RefreshEventual
	}
	return model.RefreshImmediate
}

func renderer(r *http.Request) render.Renderer {
	return render.Negotiate(r.Header.Get("Accept"), baseURL(r)+"/annotations/")
}

func baseURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if p := r.Header.Get("X-Forwarded-Proto"); p != "" {
		scheme = p
	}
	return scheme + "://" + r.Host
}

func readBody(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return nil, errors.Join(model.ErrMalformedInput, err)
	}
	return body, nil
}

type errorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var idxErr *model.IndexError
	switch {
	case errors.Is(err, model.ErrAuthorizationRefused):
		status = http.StatusUnauthorized
	case errors.Is(err, model.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, model.ErrMalformedInput):
		status = http.StatusBadRequest
	case errors.As(err, &idxErr):
		status = idxErr.StatusCode()
	}
	writeJSON(w, status, map[string]errorBody{"error": {Kind: model.Kind(err), Message: err.Error()}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Sugar.Errorf("Handler: Failed to encode response: %v", err)
	}
}
