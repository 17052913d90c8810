package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"targetwatch/internal/application/port"
	"targetwatch/internal/application/usecase/targets"
	"targetwatch/internal/domain"
	"targetwatch/internal/domain/service"
)

// Engine 处理器依赖的引擎能力
type Engine interface {
	targets.SlotReader
	SetTickers(tickers []string) bool
	Refresh(ctx context.Context) error
	Snapshot() []domain.SlotView
	GuardStats() targets.GuardStats
	ToggleStandard(ctx context.Context, ticker string, pct float64) (targets.Result, error)
	SetCustom(ctx context.Context, ticker string, mode domain.CustomMode, value float64) (targets.Result, error)
	DisableCustom(ctx context.Context, ticker string) (targets.Result, error)
}

// Refresher reloads positions and refreshes the engine in one pass.
type Refresher interface {
	RunOnce(ctx context.Context) ([]domain.Position, error)
}

// Deps 处理器依赖；History、Refresher、WS 可选
type Deps struct {
	Engine    Engine
	Positions port.PositionSource
	History   port.TransitionHistory
	Refresher Refresher
	WS        http.HandlerFunc
}

type Handler struct {
	deps    Deps
	started time.Time
}

func NewHandler(deps Deps) *Handler {
	return &Handler{deps: deps, started: time.Now()}
}

// Router 注册所有路由
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", h.handleHealth)
	if h.deps.WS != nil {
		r.Get("/ws", h.deps.WS)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))

		r.Get("/targets", h.handleListTargets)
		r.Post("/targets/refresh", h.handleRefresh)
		r.Post("/targets/{ticker}/standard/{pct}/toggle", h.handleToggleStandard)
		r.Put("/targets/{ticker}/custom", h.handleSetCustom)
		r.Delete("/targets/{ticker}/custom", h.handleDisableCustom)
		r.Get("/targets/{ticker}/history", h.handleHistory)
		r.Get("/portfolio/pnl", h.handlePnL)
	})
	return r
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	SuccessResponse(w, map[string]interface{}{
		"service":   "targetwatch",
		"tickers":   len(h.deps.Engine.Snapshot()),
		"in_flight": h.deps.Engine.GuardStats().InFlight,
		"uptime":    time.Since(h.started).Round(time.Second).String(),
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

type targetsPayload struct {
	Percentages []float64           `json:"percentages"`
	Rows        []targets.TargetRow `json:"rows"`
}

// handleListTargets 读取持仓；可见 ticker 集合变化时先刷新
func (h *Handler) handleListTargets(w http.ResponseWriter, r *http.Request) {
	positions, err := h.deps.Positions.ListPositions(r.Context())
	if err != nil {
		ErrorResponse(w, http.StatusBadGateway, "Unable to load positions.", err.Error())
		return
	}

	message := ""
	if h.deps.Engine.SetTickers(domain.OpenTickers(positions)) {
		if err := h.deps.Engine.Refresh(r.Context()); err != nil {
			log.Warn().Err(err).Msg("refresh after ticker change failed")
			_, message = statusFor(err)
		}
	}

	SuccessMessageResponse(w, message, targetsPayload{
		Percentages: h.deps.Engine.Percentages(),
		Rows:        targets.BuildRows(positions, h.deps.Engine),
	})
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var err error
	if h.deps.Refresher != nil {
		_, err = h.deps.Refresher.RunOnce(r.Context())
	} else {
		err = h.deps.Engine.Refresh(r.Context())
	}
	if err != nil {
		writeError(w, err)
		return
	}
	SuccessResponse(w, h.deps.Engine.Snapshot())
}

func (h *Handler) handleToggleStandard(w http.ResponseWriter, r *http.Request) {
	pct, err := strconv.ParseFloat(chi.URLParam(r, "pct"), 64)
	if err != nil {
		BadRequestResponse(w, "pct must be a number")
		return
	}
	res, err := h.deps.Engine.ToggleStandard(r.Context(), chi.URLParam(r, "ticker"), pct)
	if err != nil {
		writeError(w, err)
		return
	}
	SuccessMessageResponse(w, res.Message, res)
}

type customRequest struct {
	Mode  domain.CustomMode `json:"mode"`
	Value *float64          `json:"value"`
}

func (h *Handler) handleSetCustom(w http.ResponseWriter, r *http.Request) {
	var req customRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequestResponse(w, "invalid request body")
		return
	}
	if req.Value == nil {
		writeError(w, targets.ErrInvalidValue)
		return
	}
	if req.Mode == "" {
		req.Mode = domain.ModePct
	}

	res, err := h.deps.Engine.SetCustom(r.Context(), chi.URLParam(r, "ticker"), req.Mode, *req.Value)
	if err != nil {
		writeError(w, err)
		return
	}
	SuccessMessageResponse(w, res.Message, res)
}

func (h *Handler) handleDisableCustom(w http.ResponseWriter, r *http.Request) {
	res, err := h.deps.Engine.DisableCustom(r.Context(), chi.URLParam(r, "ticker"))
	if err != nil {
		writeError(w, err)
		return
	}
	SuccessMessageResponse(w, res.Message, res)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	if h.deps.History == nil {
		NotFoundResponse(w, "transition history is not enabled")
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			BadRequestResponse(w, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	recs, err := h.deps.History.ListTransitions(r.Context(), chi.URLParam(r, "ticker"), limit)
	if err != nil {
		ErrorResponse(w, http.StatusInternalServerError, "Unable to load history.", err.Error())
		return
	}
	if recs == nil {
		recs = []domain.TransitionRecord{}
	}
	SuccessResponse(w, recs)
}

type pnlPayload struct {
	service.PnLSummary
	Realized   *float64 `json:"realized"`
	Unrealized *float64 `json:"unrealized"`
}

func (h *Handler) handlePnL(w http.ResponseWriter, r *http.Request) {
	positions, err := h.deps.Positions.ListPositions(r.Context())
	if err != nil {
		ErrorResponse(w, http.StatusBadGateway, "Unable to load positions.", err.Error())
		return
	}
	s := service.SummarizePnL(positions)
	out := pnlPayload{PnLSummary: s}
	// 无贡献持仓时输出 null（未知），而不是 0
	if v, ok := s.Realized(); ok {
		out.Realized = &v
	}
	if v, ok := s.Unrealized(); ok {
		out.Unrealized = &v
	}
	SuccessResponse(w, out)
}
