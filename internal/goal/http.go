package goal

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	coreauth "github.com/brain-byt-es/bont-db-sub000/internal/auth"
	"github.com/brain-byt-es/bont-db-sub000/internal/encounter/domain"
	"github.com/brain-byt-es/bont-db-sub000/internal/shared/auth"
	"github.com/brain-byt-es/bont-db-sub000/internal/shared/errors"
	"github.com/brain-byt-es/bont-db-sub000/internal/shared/types"
)

// Handler provides HTTP handlers for the goal module
type Handler struct {
	tracker *Tracker
}

// NewHandler creates a new goal handler
func NewHandler(tracker *Tracker) *Handler {
	return &Handler{tracker: tracker}
}

// Routes registers the goal routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.With(auth.RequireCapability(coreauth.CapWriteGoals)).Post("/", h.CreateGoal)
	r.Get("/templates", h.GetTemplates)

	r.Route("/patients/{patientID}", func(r chi.Router) {
		r.Get("/", h.ListGoals)
		r.Get("/carry-forward", h.CarryForward)
	})

	r.Route("/{goalID}", func(r chi.Router) {
		r.Get("/", h.GetGoal)
		r.Get("/assessments", h.ListAssessments)

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireCapability(coreauth.CapWriteGoals))
			r.Post("/assessments", h.RecordAssessment)
			r.Post("/achieve", h.MarkAchieved)
			r.Post("/retire", h.Retire)
		})
	})

	return r
}

// --- Request types ---

type CreateGoalRequest struct {
	PatientID   types.ID `json:"patient_id"`
	Category    Category `json:"category"`
	Description string   `json:"description"`
	Baseline    *int     `json:"baseline,omitempty"`
}

type RecordAssessmentRequest struct {
	EncounterID types.ID `json:"encounter_id"`
	Score       int      `json:"score"`
	Notes       string   `json:"notes,omitempty"`
}

// --- Handlers ---

func (h *Handler) CreateGoal(w http.ResponseWriter, r *http.Request) {
	var req CreateGoalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	g, err := h.tracker.CreateGoal(r.Context(), req.PatientID, req.Category, req.Description, req.Baseline)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, g)
}

func (h *Handler) GetGoal(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseID(chi.URLParam(r, "goalID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid goal ID"))
		return
	}

	g, err := h.tracker.GetGoal(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, g)
}

func (h *Handler) ListGoals(w http.ResponseWriter, r *http.Request) {
	patientID, err := types.ParseID(chi.URLParam(r, "patientID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid patient ID"))
		return
	}

	var status *Status
	if s := r.URL.Query().Get("status"); s != "" {
		st := Status(s)
		status = &st
	}

	goals, err := h.tracker.ListGoals(r.Context(), patientID, status)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  goals,
		"total": len(goals),
	})
}

// CarryForward returns the still-active goals targeted by the patient's
// previous encounter, for one-tap adoption into a new draft.
func (h *Handler) CarryForward(w http.ResponseWriter, r *http.Request) {
	patientID, err := types.ParseID(chi.URLParam(r, "patientID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid patient ID"))
		return
	}

	before, err := types.ParseID(r.URL.Query().Get("before"))
	if err != nil {
		writeError(w, errors.BadRequest("before encounter ID is required"))
		return
	}

	goals, err := h.tracker.PreviousTargetedGoals(r.Context(), patientID, before)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  goals,
		"total": len(goals),
	})
}

func (h *Handler) RecordAssessment(w http.ResponseWriter, r *http.Request) {
	goalID, err := types.ParseID(chi.URLParam(r, "goalID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid goal ID"))
		return
	}

	var req RecordAssessmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	a, err := h.tracker.RecordAssessment(r.Context(), goalID, req.EncounterID, req.Score, req.Notes)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, a)
}

func (h *Handler) ListAssessments(w http.ResponseWriter, r *http.Request) {
	goalID, err := types.ParseID(chi.URLParam(r, "goalID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid goal ID"))
		return
	}

	assessments, err := h.tracker.ListAssessments(r.Context(), goalID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  assessments,
		"total": len(assessments),
	})
}

func (h *Handler) MarkAchieved(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.tracker.MarkAchieved)
}

func (h *Handler) Retire(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.tracker.Retire)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, id types.ID) (*Goal, error)) {
	id, err := types.ParseID(chi.URLParam(r, "goalID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid goal ID"))
		return
	}

	g, err := fn(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, g)
}

func (h *Handler) GetTemplates(w http.ResponseWriter, r *http.Request) {
	group := domain.ParseIndicationGroup(r.URL.Query().Get("group"))
	templates := h.tracker.Templates(group)

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  templates,
		"total": len(templates),
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")

	if appErr, ok := err.(*errors.AppError); ok {
		w.WriteHeader(appErr.HTTPStatus)
		json.NewEncoder(w).Encode(map[string]any{
			"error":   appErr.Message,
			"code":    appErr.Code,
			"details": appErr.Details,
		})
		return
	}

	w.WriteHeader(http.StatusInternalServerError)
	json.NewEncoder(w).Encode(map[string]string{"error": "internal server error"})
}
