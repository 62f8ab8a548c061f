package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/county-risk/internal/geo"
	"github.com/sells-group/county-risk/internal/model"
	"github.com/sells-group/county-risk/internal/store"
)

// maxLimit caps any page size a client may ask for.
const maxLimit = 5000

// Handler serves the read endpoints.
type Handler struct {
	store Reader
}

// NewHandler creates a Handler over st.
func NewHandler(st Reader) *Handler {
	return &Handler{store: st}
}

// HealthResponse reports liveness and the latest published run.
type HealthResponse struct {
	Status        string     `json:"status"`
	LatestRunID   string     `json:"latest_run_id,omitempty"`
	LatestRunMode model.Mode `json:"latest_run_mode,omitempty"`
	LatestRunAt   *time.Time `json:"latest_run_at,omitempty"`
}

// Health returns ok with the latest complete run. A store failure degrades
// the status without failing the probe.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok"}
	runs, err := h.store.ListRuns(r.Context(), store.RunFilter{Status: model.RunStatusComplete, Limit: 1})
	switch {
	case err != nil:
		zap.L().Warn("api: health could not read runs", zap.Error(err))
		resp.Status = "degraded"
	case len(runs) > 0:
		resp.LatestRunID = runs[0].ID
		resp.LatestRunMode = runs[0].Mode
		resp.LatestRunAt = &runs[0].FinishedAt
	}
	writeJSON(w, http.StatusOK, resp)
}

// ScoresResponse is one page of the score table.
type ScoresResponse struct {
	Scores []model.ScoredEntity `json:"scores"`
	Count  int                  `json:"count"`
	Limit  int                  `json:"limit"`
	Offset int                  `json:"offset"`
}

// ListScores returns the score table in rank order.
//
// Query: tier, basis, region, outlier=true, limit, offset.
func (h *Handler) ListScores(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := intParam(q.Get("limit"), 100, maxLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	offset, err := intParam(q.Get("offset"), 0, 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	filter := store.ScoreFilter{
		RiskTier:   model.RiskTier(strings.ToUpper(q.Get("tier"))),
		Basis:      model.Basis(strings.ToUpper(q.Get("basis"))),
		RegionCode: strings.ToUpper(q.Get("region")),
		Limit:      limit,
		Offset:     offset,
	}
	if filter.RiskTier != "" && filter.RiskTier.Level() < 0 {
		writeError(w, http.StatusBadRequest, "unknown tier "+q.Get("tier"))
		return
	}
	if filter.Basis != "" && filter.Basis != model.BasisGlobal && filter.Basis != model.BasisPeer {
		writeError(w, http.StatusBadRequest, "unknown basis "+q.Get("basis"))
		return
	}
	if v := q.Get("outlier"); v != "" {
		if filter.OutlierOnly, err = strconv.ParseBool(v); err != nil {
			writeError(w, http.StatusBadRequest, "outlier must be a boolean")
			return
		}
	}

	scores, err := h.store.ListScores(r.Context(), filter)
	if err != nil {
		h.internal(w, "list scores", err)
		return
	}
	if scores == nil {
		scores = []model.ScoredEntity{}
	}
	writeJSON(w, http.StatusOK, ScoresResponse{Scores: scores, Count: len(scores), Limit: limit, Offset: offset})
}

// GetScore returns one county's row.
func (h *Handler) GetScore(w http.ResponseWriter, r *http.Request) {
	id, ok := entityParam(w, r)
	if !ok {
		return
	}
	sc, err := h.store.GetScore(r.Context(), id)
	if eris.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "no score for "+id)
		return
	}
	if err != nil {
		h.internal(w, "get score", err)
		return
	}
	writeJSON(w, http.StatusOK, sc)
}

// CountyLenders returns the lenders active in one county, dominant first.
func (h *Handler) CountyLenders(w http.ResponseWriter, r *http.Request) {
	id, ok := entityParam(w, r)
	if !ok {
		return
	}
	signals, err := h.store.ListCountyLenders(r.Context(), id)
	if err != nil {
		h.internal(w, "list county lenders", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entity_id": id, "lenders": nonNil(signals)})
}

// ListRuns returns run history, newest first. Query: status, limit.
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r.URL.Query().Get("limit"), 20, maxLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	runs, err := h.store.ListRuns(r.Context(), store.RunFilter{
		Status: model.RunStatus(r.URL.Query().Get("status")),
		Limit:  limit,
	})
	if err != nil {
		h.internal(w, "list runs", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": nonNil(runs)})
}

// ListLenders returns lender profiles by influence rank.
func (h *Handler) ListLenders(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r.URL.Query().Get("limit"), 50, maxLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	lenders, err := h.store.ListLenders(r.Context(), limit)
	if err != nil {
		h.internal(w, "list lenders", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"lenders": nonNil(lenders)})
}

// Dictionary describes every column of the score table.
func (h *Handler) Dictionary(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"columns": Dictionary})
}

func (h *Handler) internal(w http.ResponseWriter, action string, err error) {
	zap.L().Error("api: "+action, zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}

func entityParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	raw := chi.URLParam(r, "entityID")
	id := geo.NormalizeGEOID(raw)
	if id == "" {
		writeError(w, http.StatusBadRequest, "invalid entity id "+raw)
		return "", false
	}
	return id, true
}

// intParam parses a non-negative integer query value. A positive ceiling caps it.
func intParam(s string, def, ceiling int) (int, error) {
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, eris.Errorf("invalid integer %q", s)
	}
	if ceiling > 0 && n > ceiling {
		n = ceiling
	}
	return n, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
