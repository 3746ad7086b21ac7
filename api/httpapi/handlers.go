package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"localloop/core"
	"localloop/engine"
	"localloop/integrations/marketplace"
	"localloop/leaderboard"
)

const (
	maxBodyBytes        = 1 << 20
	defaultLeaderboardN = 10
	maxLeaderboardN     = 100
)

type manualImpactRequest struct {
	Type    core.ActionType `json:"type" validate:"required"`
	Summary string          `json:"summary" validate:"required"`
}

type evaluateRequest struct {
	Total *int64 `json:"total" validate:"omitempty,gte=0"`
}

type patchEntryRequest struct {
	Type    *core.ActionType `json:"type"`
	Summary *string          `json:"summary"`
}

type userResponse struct {
	Profile  core.Profile  `json:"profile"`
	Progress core.Progress `json:"progress"`
}

type rulesResponse struct {
	Rules  core.RuleTable `json:"rules"`
	Ladder core.Ladder    `json:"ladder"`
}

type evaluateResponse struct {
	Badge    string `json:"badge,omitempty"`
	Unlocked bool   `json:"unlocked"`
}

// healthCheck probes storage with a read that never writes.
func (s *server) healthCheck(w http.ResponseWriter, r *http.Request) {
	_, err := s.Service.GetProfile(r.Context(), core.UserID("healthcheck_probe"))
	status := map[string]any{
		"status": "healthy",
		"checks": map[string]any{"storage": "ok"},
	}
	if err != nil {
		s.Logger.WarnContext(r.Context(), "health check failed", "error", err)
		status["status"] = "unhealthy"
		status["checks"] = map[string]any{"storage": "failed"}
		writeJSON(w, http.StatusServiceUnavailable, status)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *server) getRules(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, rulesResponse{Rules: s.Service.Rules(), Ladder: s.Service.Ladder()})
}

func (s *server) getUser(w http.ResponseWriter, r *http.Request) {
	user, ok := s.userParam(w, r)
	if !ok {
		return
	}
	p, err := s.Service.GetProfile(r.Context(), user)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, userResponse{Profile: p, Progress: s.Service.Progress(p.TotalPoints)})
}

func (s *server) postImpact(w http.ResponseWriter, r *http.Request) {
	user, ok := s.userParam(w, r)
	if !ok {
		return
	}
	var req manualImpactRequest
	if !s.decode(w, r, &req) {
		return
	}
	if !s.Service.Rules().Known(req.Type) {
		writeError(w, http.StatusBadRequest, "unknown_action", "unknown action type", map[string]any{"type": req.Type})
		return
	}
	rc, err := s.Service.RecordManualImpact(r.Context(), user, req.Type, req.Summary)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rc)
}

func (s *server) listEntries(w http.ResponseWriter, r *http.Request) {
	user, ok := s.userParam(w, r)
	if !ok {
		return
	}
	period, err := core.ParsePeriod(r.URL.Query().Get("period"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_period", "period must be one of week, month, year, all", nil)
		return
	}
	entries, err := s.Service.ListEntries(r.Context(), user, period)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if entries == nil {
		entries = []core.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"period": period, "entries": entries})
}

// evaluateBadges uses the stored total unless the body names one.
func (s *server) evaluateBadges(w http.ResponseWriter, r *http.Request) {
	user, ok := s.userParam(w, r)
	if !ok {
		return
	}
	var req evaluateRequest
	if r.ContentLength != 0 && !s.decode(w, r, &req) {
		return
	}
	var total int64
	if req.Total != nil {
		total = *req.Total
	} else {
		p, err := s.Service.GetProfile(r.Context(), user)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		total = p.TotalPoints
	}
	badge, unlocked, err := s.Service.EvaluateBadges(r.Context(), user, total)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, evaluateResponse{Badge: badge, Unlocked: unlocked})
}

func (s *server) patchEntry(w http.ResponseWriter, r *http.Request) {
	var req patchEntryRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Type == nil && req.Summary == nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "nothing to update", nil)
		return
	}
	e, err := s.Service.UpdateEntry(r.Context(), core.EntryID(chi.URLParam(r, "entryID")), engine.EntryPatch{Type: req.Type, Summary: req.Summary})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *server) deleteEntry(w http.ResponseWriter, r *http.Request) {
	res, err := s.Service.DeleteEntry(r.Context(), core.EntryID(chi.URLParam(r, "entryID")))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// postHook queues a marketplace document. The answer only says whether the
// document was accepted, never whether it earned points.
func (s *server) postHook(w http.ResponseWriter, r *http.Request) {
	if s.Triggers == nil {
		writeError(w, http.StatusNotFound, "not_found", "ingestion disabled", nil)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "too_large", "request body too large", nil)
		return
	}
	kind := marketplace.Kind(chi.URLParam(r, "kind"))
	t, err := marketplace.DecodeTrigger(kind, r.URL.Query().Get("doc_id"), body)
	switch {
	case errors.Is(err, marketplace.ErrUnknownKind):
		writeError(w, http.StatusNotFound, "unknown_kind", err.Error(), nil)
		return
	case err != nil:
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error(), nil)
		return
	}
	if !s.Triggers.Submit(t) {
		writeError(w, http.StatusServiceUnavailable, "queue_full", "trigger queue unavailable", nil)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"accepted": true, "kind": kind})
}

func (s *server) getLeaderboard(w http.ResponseWriter, r *http.Request) {
	if s.Board == nil {
		writeError(w, http.StatusNotFound, "not_found", "leaderboard disabled", nil)
		return
	}
	n := defaultLeaderboardN
	if raw := r.URL.Query().Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer", nil)
			return
		}
		n = min(v, maxLeaderboardN)
	}
	if raw := r.URL.Query().Get("around"); raw != "" {
		user, err := core.NormalizeUserID(core.UserID(raw))
		if err != nil {
			s.fail(w, r, err)
			return
		}
		near, ok := s.Board.Around(user, n/2)
		if !ok {
			writeError(w, http.StatusNotFound, "not_ranked", "user is not on the leaderboard", nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"entries": near})
		return
	}
	top := s.Board.TopN(n)
	if top == nil {
		top = []leaderboard.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": top})
}

func (s *server) getStats(w http.ResponseWriter, _ *http.Request) {
	if s.Stats == nil {
		writeError(w, http.StatusNotFound, "not_found", "stats disabled", nil)
		return
	}
	writeJSON(w, http.StatusOK, s.Stats.Snapshot(time.Now()))
}

func (s *server) userParam(w http.ResponseWriter, r *http.Request) (core.UserID, bool) {
	user, err := core.NormalizeUserID(core.UserID(chi.URLParam(r, "id")))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_user", err.Error(), nil)
		return "", false
	}
	return user, true
}

// decode reads a JSON body into dst and validates it.
func (s *server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error(), nil)
		return false
	}
	if err := s.validate.StructCtx(r.Context(), dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make(map[string]string, len(verrs))
			for _, fe := range verrs {
				fields[fe.Field()] = fe.Tag()
			}
			writeError(w, http.StatusBadRequest, "invalid_input", "validation failed", fields)
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error(), nil)
		return false
	}
	return true
}

// fail maps service errors onto the API error envelope.
func (s *server) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, core.ErrInvalidUser):
		writeError(w, http.StatusBadRequest, "invalid_user", err.Error(), nil)
	case errors.Is(err, core.ErrUnknownAction):
		writeError(w, http.StatusBadRequest, "unknown_action", err.Error(), nil)
	case errors.Is(err, core.ErrEmptySummary):
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error(), nil)
	case errors.Is(err, core.ErrInvalidPeriod):
		writeError(w, http.StatusBadRequest, "invalid_period", err.Error(), nil)
	case errors.Is(err, core.ErrEntryNotFound):
		writeError(w, http.StatusNotFound, "entry_not_found", err.Error(), nil)
	case errors.Is(err, core.ErrOverflow):
		writeError(w, http.StatusConflict, "overflow", err.Error(), nil)
	default:
		s.Logger.ErrorContext(r.Context(), "request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "internal error", nil)
	}
}
