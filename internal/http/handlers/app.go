package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/square-1111/LogoKraft/internal/domain"
	"github.com/square-1111/LogoKraft/internal/infra"
	"github.com/square-1111/LogoKraft/internal/orchestrator"
	"github.com/square-1111/LogoKraft/internal/progress"
)

// Defaults carries the request-level fallbacks handlers apply before
// delegating to the orchestrator.
type Defaults struct {
	ItemsPerBatch  int
	GenerationCost int
	SignupGrant    int
}

// App bundles the handler dependencies.
type App struct {
	Orchestrator *orchestrator.Orchestrator
	Assets       domain.AssetRepository
	Ledger       domain.CreditLedger
	Hub          *progress.Hub
	Logger       infra.Logger
	Defaults     Defaults
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, errCode, message string) {
	a.json(w, code, map[string]any{
		"error":   errCode,
		"message": message,
	})
}

// currentOwnerID resolves the acting account. Authentication is owned by
// the deployment's edge; this service trusts the forwarded identity header.
func (a *App) currentOwnerID(r *http.Request) string {
	return r.Header.Get("X-Owner-ID")
}
