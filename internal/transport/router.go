package transport

import "net/http"

type Handler interface {
	processOne(w http.ResponseWriter, r *http.Request)
	processBatch(w http.ResponseWriter, r *http.Request)
	metadataOne(w http.ResponseWriter, r *http.Request)
	metadataBatch(w http.ResponseWriter, r *http.Request)
	status(w http.ResponseWriter, r *http.Request)
	health(w http.ResponseWriter, r *http.Request)
}

type router struct {
	h Handler
}

func NewRouter(h Handler) *router {
	return &router{h: h}
}

func (r *router) MountRoutes(mux *http.ServeMux) *http.ServeMux {
	mux.HandleFunc("/process", r.h.processOne)
	mux.HandleFunc("/process/batch", r.h.processBatch)
	mux.HandleFunc("/metadata", r.h.metadataOne)
	mux.HandleFunc("/metadata/batch", r.h.metadataBatch)
	mux.HandleFunc("/status/", r.h.status)
	mux.HandleFunc("/health", r.h.health)

	return mux
}
