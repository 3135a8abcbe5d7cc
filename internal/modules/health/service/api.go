package service

import (
	"context"
	"io"
	"net/http"
	"time"
	"trade_engine/internal/models"
	bitso "trade_engine/internal/modules/bitso_client/service"
	events "trade_engine/internal/modules/events/service"
	strategy "trade_engine/internal/modules/strategy/service"
	"trade_engine/internal/runner"
	"trade_engine/pkg/logger"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"
)

const maxBody = 1 << 20

// Engine — фасад движка, который видит дашборд.
type Engine interface {
	Strategies(ctx context.Context) []models.Strategy
	AddStrategy(ctx context.Context, s models.Strategy) (models.Strategy, error)
	UpdateStrategy(ctx context.Context, id string, patch models.StrategyPatch) (models.Strategy, error)
	RemoveStrategy(ctx context.Context, id string) error
	ToggleStrategy(ctx context.Context, id string) (models.Strategy, error)

	Start(ctx context.Context) error
	Stop()
	Running() bool
	LastTick() time.Time

	TradeHistory() []models.TradeResult
	RiskParameters() models.RiskParameters
	SetRiskParameters(ctx context.Context, patch models.RiskPatch) (models.RiskParameters, error)

	SetCredentials(ctx context.Context, key, secret string) error
	HasCredentials() bool
	Subscribe() *events.Subscription
}

type BudgetSource interface {
	Budget() models.RateBudget
}

type API struct {
	engine Engine
	budget BudgetSource
	state  *State
}

func NewAPI(engine Engine, budget BudgetSource, state *State) *API {
	return &API{engine: engine, budget: budget, state: state}
}

// Register вешает ручки на mux. Шаблоны с методом требуют Go 1.22+.
func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/strategies", a.listStrategies)
	mux.HandleFunc("POST /api/strategies", a.addStrategy)
	mux.HandleFunc("PATCH /api/strategies/{id}", a.updateStrategy)
	mux.HandleFunc("DELETE /api/strategies/{id}", a.removeStrategy)
	mux.HandleFunc("POST /api/strategies/{id}/toggle", a.toggleStrategy)

	mux.HandleFunc("POST /api/engine/start", a.start)
	mux.HandleFunc("POST /api/engine/stop", a.stop)

	mux.HandleFunc("GET /api/trades", a.trades)
	mux.HandleFunc("GET /api/risk", a.getRisk)
	mux.HandleFunc("PATCH /api/risk", a.patchRisk)
	mux.HandleFunc("PUT /api/credentials", a.putCredentials)

	mux.HandleFunc("GET /api/events", a.streamEvents)
}

func (a *API) Status() map[string]any {
	resp := map[string]any{
		"ready":          a.state.Ready(),
		"running":        a.engine.Running(),
		"hasCredentials": a.engine.HasCredentials(),
		"streams":        a.state.Streams(),
		"uptimeSec":      int64(a.state.Uptime().Seconds()),
		"lastTickUnix": func() int64 {
			t := a.engine.LastTick()
			if t.IsZero() {
				return 0
			}
			return t.Unix()
		}(),
	}
	if a.budget != nil {
		b := a.budget.Budget()
		resp["rateRemaining"] = b.Remaining
		if !b.ResetAt.IsZero() {
			resp["rateResetUnix"] = b.ResetAt.Unix()
		}
	}
	return resp
}

func (a *API) listStrategies(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.engine.Strategies(r.Context()))
}

func (a *API) addStrategy(w http.ResponseWriter, r *http.Request) {
	var s models.Strategy
	if !readJSON(w, r, &s) {
		return
	}
	out, err := a.engine.AddStrategy(r.Context(), s)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (a *API) updateStrategy(w http.ResponseWriter, r *http.Request) {
	var patch models.StrategyPatch
	if !readJSON(w, r, &patch) {
		return
	}
	out, err := a.engine.UpdateStrategy(r.Context(), r.PathValue("id"), patch)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) removeStrategy(w http.ResponseWriter, r *http.Request) {
	if err := a.engine.RemoveStrategy(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) toggleStrategy(w http.ResponseWriter, r *http.Request) {
	out, err := a.engine.ToggleStrategy(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) start(w http.ResponseWriter, r *http.Request) {
	if err := a.engine.Start(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"running": a.engine.Running()})
}

func (a *API) stop(w http.ResponseWriter, r *http.Request) {
	a.engine.Stop()
	writeJSON(w, http.StatusOK, map[string]any{"running": a.engine.Running()})
}

// trades: ?since=RFC3339 отдаёт только сделки не раньше этого времени.
func (a *API) trades(w http.ResponseWriter, r *http.Request) {
	list := a.engine.TradeHistory()
	if s := r.URL.Query().Get("since"); s != "" {
		since, err := time.Parse(time.RFC3339, s)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "since must be RFC3339"})
			return
		}
		filtered := list[:0]
		for _, t := range list {
			if !t.Timestamp.Before(since) {
				filtered = append(filtered, t)
			}
		}
		list = filtered
	}
	if list == nil {
		list = []models.TradeResult{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (a *API) getRisk(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.engine.RiskParameters())
}

func (a *API) patchRisk(w http.ResponseWriter, r *http.Request) {
	var patch models.RiskPatch
	if !readJSON(w, r, &patch) {
		return
	}
	out, err := a.engine.SetRiskParameters(r.Context(), patch)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) putCredentials(w http.ResponseWriter, r *http.Request) {
	var creds models.Credentials
	if !readJSON(w, r, &creds) {
		return
	}
	if err := a.engine.SetCredentials(r.Context(), creds.Key, creds.Secret); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type errorBody struct {
	Error string `json:"error"`
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, strategy.ErrStrategyNotFound):
		return http.StatusNotFound
	case errors.Is(err, strategy.ErrStrategyExists):
		return http.StatusConflict
	case errors.Is(err, runner.ErrNoCredentials):
		return http.StatusPreconditionFailed
	case errors.Is(err, runner.ErrShutdown):
		return http.StatusServiceUnavailable
	case bitso.IsAuthError(err):
		return http.StatusUnauthorized
	}
	var netErr *bitso.NetworkError
	var rlErr *bitso.RateLimitError
	if errors.As(err, &netErr) || errors.As(err, &rlErr) {
		return http.StatusBadGateway
	}
	return http.StatusBadRequest
}

func writeError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	if code >= 500 {
		logger.Error("[API] %v", err)
	}
	writeJSON(w, code, errorBody{Error: err.Error()})
}

func readJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "cannot read body"})
		return false
	}
	if err := sonic.Unmarshal(body, dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid json: " + err.Error()})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	b, err := sonic.Marshal(v)
	if err != nil {
		logger.Error("[API] encode response: %v", err)
		http.Error(w, "encode error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(b)
}
