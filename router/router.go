package router

import (
	"net/http"

	"github.com/gorilla/mux"

	"annotationstore/config"
	annotationHandler "annotationstore/internal/annotation"
	"annotationstore/internal/annotation/service"
	"annotationstore/middleware"
)

func Setup(cfg *config.Config, svc *service.AnnotationService) http.Handler {
	r := mux.NewRouter()
	r.Use(middleware.AuthMiddleware(cfg.JWTSecret))

	h := annotationHandler.NewAnnotationHandler(svc)

	r.HandleFunc("/", h.Root).Methods(http.MethodGet)
	r.HandleFunc("/annotations", h.Index).Methods(http.MethodGet)
	r.HandleFunc("/annotations", h.Create).Methods(http.MethodPost)
	r.HandleFunc("/annotations/{id}", h.Read).Methods(http.MethodGet)
	r.HandleFunc("/annotations/{id}", h.Update).Methods(http.MethodPost, http.MethodPut)
	r.HandleFunc("/annotations/{id}", h.Delete).Methods(http.MethodDelete)
	r.HandleFunc("/search", h.Search).Methods(http.MethodGet)
	r.HandleFunc("/search_raw", h.SearchRaw).Methods(http.MethodGet, http.MethodPost)

	return middleware.LoggingMiddleware(middleware.CORSMiddleware(r))
}
