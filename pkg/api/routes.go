// Package api exposes sketch building and join planning over HTTP.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/moralespanitz/compass-project/pkg/config"
	"github.com/moralespanitz/compass-project/pkg/logging"
	"github.com/moralespanitz/compass-project/pkg/storage"
)

type JSON map[string]any

func RegisterRoutes(r *mux.Router, store *storage.Store, cfg config.Config) {
	h := &Handler{store: store, cfg: cfg}

	r.HandleFunc("/health", h.Health).Methods(http.MethodGet)
	r.HandleFunc("/tables", h.ListTables).Methods(http.MethodGet)

	// Sketch endpoints
	r.HandleFunc("/sketches/create", h.PostCreateSketch).Methods(http.MethodPost)
	r.HandleFunc("/sketches", h.GetSketches).Methods(http.MethodGet)

	// Planning
	r.HandleFunc("/plan", h.PostPlan).Methods(http.MethodPost)
}

type Handler struct {
	store *storage.Store
	cfg   config.Config
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		logging.WithComponent("api").Error("encoding response failed", "error", err)
		status = http.StatusInternalServerError
		data, _ = json.Marshal(JSON{"error": "encoding response failed"})
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(append(data, '\n'))
}
