package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	httpopenapi "github.com/fairyhunter13/order-pipeline/internal/http/openapi"
	"github.com/fairyhunter13/order-pipeline/internal/pipeline"
	"github.com/fairyhunter13/order-pipeline/internal/store"
)

// StatusSource is the run being observed.
type StatusSource interface {
	Progress() pipeline.Progress
	Inventory() *store.Store
}

type App struct {
	Source  StatusSource
	started time.Time
}

func NewApp(src StatusSource) *App {
	return &App{Source: src, started: time.Now()}
}

func (a *App) healthHandler(w http.ResponseWriter, r *http.Request) {
	p := a.Source.Progress()
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "phase": string(p.Phase), "run_id": p.RunID})
}

func (a *App) listInventoryHandler(w http.ResponseWriter, r *http.Request) {
	inv := a.Source.Inventory()
	if inv == nil {
		WriteJSONError(w, http.StatusServiceUnavailable, "inventory_not_loaded", "")
		return
	}
	writeJSON(w, http.StatusOK, inv.Snapshot())
}

func (a *App) getProductHandler(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "productID"), 10, 64)
	if err != nil {
		WriteJSONError(w, http.StatusBadRequest, "validation_error", "product id must be an unsigned integer")
		return
	}
	inv := a.Source.Inventory()
	if inv == nil {
		WriteJSONError(w, http.StatusServiceUnavailable, "inventory_not_loaded", "")
		return
	}
	it, ok := inv.Lookup(id)
	if !ok {
		WriteJSONError(w, http.StatusNotFound, "not_found", "")
		return
	}
	writeJSON(w, http.StatusOK, it)
}

type metrics struct {
	pipeline.Progress
	UptimeSec float64 `json:"uptime_sec"`
}

func (a *App) metricsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, metrics{Progress: a.Source.Progress(), UptimeSec: time.Since(a.started).Seconds()})
}

func (a *App) openapiHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	_, _ = w.Write(httpopenapi.YAML)
}
