package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"mediaforge/internal/domain"
	"mediaforge/internal/orchestrator"
	"mediaforge/internal/storage"
)

// App bundles the handler dependencies, injected once at startup.
type App struct {
	Jobs   domain.JobRepository
	Orch   *orchestrator.Orchestrator
	Store  storage.BlobStore
	Logger zerolog.Logger

	// DefaultProviders maps a job kind to the provider used when the
	// request does not name one.
	DefaultProviders map[domain.JobKind]string
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, errCode, message string) {
	a.json(w, code, map[string]any{
		"error": map[string]string{"code": errCode, "message": message},
	})
}
