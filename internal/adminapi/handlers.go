// Package adminapi exposes migration control-plane operations over
// HTTP: phase changes, backfill lifecycle, verification, and health.
// It never touches application data directly, so it binds against a
// type-erased Controller rather than a generic migration.Database[M].
package adminapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hyperengineering/migrant/internal/engine"
	"github.com/hyperengineering/migrant/internal/migration"
	"github.com/hyperengineering/migrant/internal/migration/backfill"
	"github.com/hyperengineering/migrant/internal/migration/verify"
	"github.com/hyperengineering/migrant/internal/validation"
)

// VerifyFunc runs a sync verification for a table. It closes over the
// concrete Database[M] at wiring time, since verify.Result itself
// carries no type parameter.
type VerifyFunc func(ctx context.Context, table string) (verify.Result, error)

// Controller is the subset of migration.Database[M]'s surface the
// admin API drives. Every method here has an M-independent signature,
// so Database[M] satisfies Controller for whatever M the running
// binary chose, without adminapi itself needing a type parameter.
type Controller interface {
	Phases() *migration.PhaseRegistry
	GetStatus() []migration.TableStatus
	GetTableStatus(name string) (migration.TableStatus, error)
	StartBackfill(ctx context.Context, name string) error
	PauseBackfill(name string) error
	ResumeBackfill(ctx context.Context, name string) error
	CancelBackfill(name string) error
	BackfillStatus(name string) (backfill.Status, error)
	HealthCheck(ctx context.Context) (engine.Health, error)
}

// Handler implements the admin HTTP API.
type Handler struct {
	ctrl    Controller
	verify  VerifyFunc
	apiKey  string
	version string
}

// NewHandler builds a Handler.
func NewHandler(ctrl Controller, verify VerifyFunc, apiKey, version string) *Handler {
	return &Handler{ctrl: ctrl, verify: verify, apiKey: apiKey, version: version}
}

type healthResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Version string `json:"version"`
}

// Health reports aggregate source/target health. It is unauthenticated
// so load balancers and orchestrators can probe it.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	health, err := h.ctrl.HealthCheck(r.Context())
	if err != nil {
		WriteProblem(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	status := http.StatusOK
	if health.Level == engine.HealthError {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, healthResponse{Status: health.Level.String(), Message: health.Message, Version: h.version})
}

// ListTables returns the status of every table opened so far.
func (h *Handler) ListTables(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.ctrl.GetStatus())
}

// GetTable returns one table's status.
func (h *Handler) GetTable(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "table")
	if err := validation.ValidateTableName("table", name); err != nil {
		writeValidationProblem(w, []validation.ValidationError{*err})
		return
	}
	status, err := h.ctrl.GetTableStatus(name)
	if err != nil {
		WriteProblem(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, status)
}

type setPhaseRequest struct {
	Phase string `json:"phase"`
}

// SetDefaultPhase changes the registry-wide default phase.
func (h *Handler) SetDefaultPhase(w http.ResponseWriter, r *http.Request) {
	var req setPhaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteProblem(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if errs := validation.ValidateSetPhaseRequest("", req.Phase); len(errs) > 0 {
		writeValidationProblem(w, errs)
		return
	}
	phase, err := migration.ParsePhase(req.Phase)
	if err != nil {
		WriteProblem(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	h.ctrl.Phases().SetDefault(phase)
	w.WriteHeader(http.StatusNoContent)
}

// SetTablePhase overrides a single table's phase.
func (h *Handler) SetTablePhase(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "table")
	var req setPhaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteProblem(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if errs := validation.ValidateSetPhaseRequest(name, req.Phase); len(errs) > 0 {
		writeValidationProblem(w, errs)
		return
	}
	phase, err := migration.ParsePhase(req.Phase)
	if err != nil {
		WriteProblem(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	h.ctrl.Phases().SetTable(name, phase)
	w.WriteHeader(http.StatusNoContent)
}

// ClearTablePhase reverts a table to the registry default.
func (h *Handler) ClearTablePhase(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "table")
	if err := validation.ValidateTableName("table", name); err != nil {
		writeValidationProblem(w, []validation.ValidationError{*err})
		return
	}
	h.ctrl.Phases().ClearTable(name)
	w.WriteHeader(http.StatusNoContent)
}

// StartBackfill begins (or resumes) a table's backfill.
func (h *Handler) StartBackfill(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "table")
	if err := validation.ValidateTableName("table", name); err != nil {
		writeValidationProblem(w, []validation.ValidationError{*err})
		return
	}
	// The job outlives this request, so it must not inherit the
	// request's cancellation.
	if err := h.ctrl.StartBackfill(context.WithoutCancel(r.Context()), name); err != nil {
		if err == backfill.ErrAlreadyRunning {
			WriteProblem(w, http.StatusConflict, err.Error())
			return
		}
		WriteProblem(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// PauseBackfill pauses a table's active backfill.
func (h *Handler) PauseBackfill(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "table")
	if err := h.ctrl.PauseBackfill(name); err != nil {
		WriteProblem(w, http.StatusConflict, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ResumeBackfill resumes a table's paused backfill.
func (h *Handler) ResumeBackfill(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "table")
	if err := h.ctrl.ResumeBackfill(context.WithoutCancel(r.Context()), name); err != nil {
		WriteProblem(w, http.StatusConflict, err.Error())
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// CancelBackfill cancels a table's backfill.
func (h *Handler) CancelBackfill(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "table")
	if err := h.ctrl.CancelBackfill(name); err != nil {
		WriteProblem(w, http.StatusConflict, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetBackfillStatus returns a table's backfill progress.
func (h *Handler) GetBackfillStatus(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "table")
	status, err := h.ctrl.BackfillStatus(name)
	if err != nil {
		WriteProblem(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// VerifyTable runs a sync verification pass between source and target
// for a table and returns the structured diff.
func (h *Handler) VerifyTable(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "table")
	if err := validation.ValidateTableName("table", name); err != nil {
		writeValidationProblem(w, []validation.ValidationError{*err})
		return
	}
	result, err := h.verify(r.Context(), name)
	if err != nil {
		WriteProblem(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// writeValidationProblem joins validation failures into a single
// Problem detail string.
func writeValidationProblem(w http.ResponseWriter, errs []validation.ValidationError) {
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Error()
	}
	WriteProblem(w, http.StatusUnprocessableEntity, strings.Join(msgs, "; "))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
