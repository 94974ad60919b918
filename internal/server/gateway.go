package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"TroveLedger/internal/ingestion"
	"TroveLedger/internal/observability"
	"TroveLedger/internal/protocol"
	"TroveLedger/internal/query"
)

const maxCommandBytes = 1 << 20

// StateReader serves live protocol state; *core.DeterministicCore
// implements it.
type StateReader interface {
	SystemView() (protocol.SystemView, error)
	TroveView(owner uuid.UUID) (protocol.TroveView, error)
	DepositView(depositor uuid.UUID) (protocol.DepositView, error)
	StakeView(staker uuid.UUID) (protocol.StakeView, error)
	GetSequence() int64
}

// ProjectionReader serves the Postgres projections; *query.QueryService
// implements it.
type ProjectionReader interface {
	GetBalances(ctx context.Context, owner uuid.UUID) (*query.BalanceResponse, error)
	GetLiquidations(ctx context.Context, f query.LiquidationFilter) ([]query.LiquidationResponse, error)
}

// CommandInjector submits admin commands; *ingestion.AdminIngestService
// implements it.
type CommandInjector interface {
	Inject(ctx context.Context, eventType string, data []byte) (*ingestion.InjectResult, error)
}

// ServerDeps holds all dependencies needed by the API.
type ServerDeps struct {
	State         StateReader
	Projections   ProjectionReader // nil without Postgres
	Ingest        CommandInjector
	HealthChecker *observability.HealthChecker
	Logger        zerolog.Logger
}

type route struct {
	method  string
	pattern string
	handler runtime.HandlerFunc
}

// NewGatewayMux builds the JSON API on a grpc-gateway runtime mux.
func NewGatewayMux(deps *ServerDeps) (*runtime.ServeMux, error) {
	h := &handlers{deps: deps}
	mux := runtime.NewServeMux()

	routes := []route{
		{http.MethodGet, "/v1/system", h.system},
		{http.MethodGet, "/v1/troves/{owner}", h.trove},
		{http.MethodGet, "/v1/stability/{depositor}", h.deposit},
		{http.MethodGet, "/v1/staking/{staker}", h.stake},
		{http.MethodGet, "/v1/balances/{owner}", h.balances},
		{http.MethodGet, "/v1/liquidations", h.liquidations},
		{http.MethodPost, "/v1/commands/{event_type}", h.command},
	}
	if deps.HealthChecker != nil {
		routes = append(routes,
			route{http.MethodGet, "/healthz", adapt(deps.HealthChecker.LivenessHandler)},
			route{http.MethodGet, "/readyz", adapt(deps.HealthChecker.ReadinessHandler)},
		)
	}

	for _, r := range routes {
		if err := mux.HandlePath(r.method, r.pattern, r.handler); err != nil {
			return nil, fmt.Errorf("register %s %s: %w", r.method, r.pattern, err)
		}
	}
	return mux, nil
}

func adapt(fn http.HandlerFunc) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
		fn(w, r)
	}
}

type handlers struct {
	deps *ServerDeps
}

// asOf is the last applied sequence, -1 before the first command.
func (h *handlers) asOf() int64 {
	return h.deps.State.GetSequence() - 1
}

func (h *handlers) system(w http.ResponseWriter, _ *http.Request, _ map[string]string) {
	asOf := h.asOf()
	v, err := h.deps.State.SystemView()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newSystemJSON(v, asOf))
}

func (h *handlers) trove(w http.ResponseWriter, _ *http.Request, params map[string]string) {
	owner, err := pathUUID(params, "owner")
	if err != nil {
		writeError(w, err)
		return
	}
	asOf := h.asOf()
	v, err := h.deps.State.TroveView(owner)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newTroveJSON(v, asOf))
}

func (h *handlers) deposit(w http.ResponseWriter, _ *http.Request, params map[string]string) {
	depositor, err := pathUUID(params, "depositor")
	if err != nil {
		writeError(w, err)
		return
	}
	asOf := h.asOf()
	v, err := h.deps.State.DepositView(depositor)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newDepositJSON(v, asOf))
}

func (h *handlers) stake(w http.ResponseWriter, _ *http.Request, params map[string]string) {
	staker, err := pathUUID(params, "staker")
	if err != nil {
		writeError(w, err)
		return
	}
	asOf := h.asOf()
	v, err := h.deps.State.StakeView(staker)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newStakeJSON(v, asOf))
}

func (h *handlers) balances(w http.ResponseWriter, r *http.Request, params map[string]string) {
	if h.deps.Projections == nil {
		writeError(w, errProjectionsDisabled)
		return
	}
	owner, err := pathUUID(params, "owner")
	if err != nil {
		writeError(w, err)
		return
	}
	resp, err := h.deps.Projections.GetBalances(r.Context(), owner)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) liquidations(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	if h.deps.Projections == nil {
		writeError(w, errProjectionsDisabled)
		return
	}
	q := r.URL.Query()
	var f query.LiquidationFilter
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeError(w, invalidArgument("invalid limit %q", s))
			return
		}
		f.Limit = n
	}
	if s := q.Get("owner"); s != "" {
		owner, err := uuid.Parse(s)
		if err != nil {
			writeError(w, invalidArgument("invalid owner: %v", err))
			return
		}
		f.Owner = &owner
	}
	if s := q.Get("before"); s != "" {
		seq, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			writeError(w, invalidArgument("invalid before %q", s))
			return
		}
		f.BeforeSequence = &seq
	}

	history, err := h.deps.Projections.GetLiquidations(r.Context(), f)
	if err != nil {
		writeError(w, err)
		return
	}
	if history == nil {
		history = []query.LiquidationResponse{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"liquidations": history})
}

func (h *handlers) command(w http.ResponseWriter, r *http.Request, params map[string]string) {
	if h.deps.Ingest == nil {
		writeError(w, status.Error(codes.Unimplemented, "command injection disabled"))
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxCommandBytes))
	if err != nil {
		writeError(w, invalidArgument("read body: %v", err))
		return
	}

	eventType := params["event_type"]
	res, err := h.deps.Ingest.Inject(r.Context(), eventType, body)
	if err != nil {
		h.deps.Logger.Warn().Err(err).Str("event_type", eventType).Msg("admin command rejected")
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newCommandJSON(res.Command.Event, res.Output))
}

func pathUUID(params map[string]string, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(params[name])
	if err != nil {
		return uuid.Nil, invalidArgument("invalid %s: %v", name, err)
	}
	return id, nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
