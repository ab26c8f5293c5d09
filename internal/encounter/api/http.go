package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	coreauth "github.com/brain-byt-es/bont-db-sub000/internal/auth"
	"github.com/brain-byt-es/bont-db-sub000/internal/encounter/domain"
	"github.com/brain-byt-es/bont-db-sub000/internal/encounter/service"
	"github.com/brain-byt-es/bont-db-sub000/internal/shared/auth"
	"github.com/brain-byt-es/bont-db-sub000/internal/shared/errors"
	"github.com/brain-byt-es/bont-db-sub000/internal/shared/types"
	"github.com/brain-byt-es/bont-db-sub000/internal/wizard"
)

// Handler provides HTTP handlers for the encounter module
type Handler struct {
	svc *service.Service
}

// NewHandler creates a new encounter handler
func NewHandler(svc *service.Service) *Handler {
	return &Handler{svc: svc}
}

// Routes registers the encounter routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.ListEncounters)
	r.Post("/", h.CreateEncounter)
	r.Post("/bulk-sign", h.BulkSign)
	r.Get("/export", h.ExportEncounters)

	r.Route("/{encounterID}", func(r chi.Router) {
		r.Get("/", h.GetEncounter)
		r.Put("/", h.UpdateEncounter)

		// Status transitions
		r.Post("/sign", h.SignEncounter)
		r.Post("/reopen", h.ReopenEncounter)

		r.Post("/followup", h.RecordFollowup)

		r.Get("/wizard", h.WizardState)
	})

	return r
}

// --- Request types ---

type CreateEncounterRequest struct {
	PatientID     types.ID                `json:"patient_id"`
	Indication    string                  `json:"indication"`
	TreatmentSite string                  `json:"treatment_site,omitempty"`
	ProductName   string                  `json:"product_name"`
	VialSizeUnits float64                 `json:"vial_size_units"`
	DilutionMl    float64                 `json:"dilution_ml"`
	EncounterDate *time.Time              `json:"encounter_date,omitempty"`
	Notes         string                  `json:"notes,omitempty"`
	Injections    []domain.InjectionInput `json:"injections,omitempty"`
}

type UpdateEncounterRequest struct {
	Injections           *[]domain.InjectionInput           `json:"injections,omitempty"`
	InjectionAssessments []service.InjectionAssessmentInput `json:"injection_assessments,omitempty"`
	GlobalAssessments    []service.GlobalAssessmentInput    `json:"global_assessments,omitempty"`
	GoalTargets          *[]types.ID                        `json:"goal_targets,omitempty"`
	Notes                *string                            `json:"notes,omitempty"`
}

type ReopenRequest struct {
	Reason string `json:"reason"`
}

type BulkSignRequest struct {
	EncounterIDs []types.ID `json:"encounter_ids"`
}

type FollowupRequest struct {
	FollowupDate time.Time `json:"followup_date"`
	Outcome      string    `json:"outcome,omitempty"`
}

// --- Handlers ---

func (h *Handler) CreateEncounter(w http.ResponseWriter, r *http.Request) {
	var req CreateEncounterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	in := service.CreateDraftInput{
		PatientID:     req.PatientID,
		Indication:    req.Indication,
		TreatmentSite: req.TreatmentSite,
		ProductName:   req.ProductName,
		VialSizeUnits: req.VialSizeUnits,
		DilutionMl:    req.DilutionMl,
		Notes:         req.Notes,
		Injections:    req.Injections,
	}
	if req.EncounterDate != nil {
		in.EncounterDate = *req.EncounterDate
	}

	e, err := h.svc.CreateDraft(r.Context(), actorFrom(r), in)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, e)
}

func (h *Handler) GetEncounter(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseID(chi.URLParam(r, "encounterID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid encounter ID"))
		return
	}

	e, err := h.svc.Get(r.Context(), actorFrom(r), id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, e)
}

func (h *Handler) ListEncounters(w http.ResponseWriter, r *http.Request) {
	filter := domain.ListFilter{OrderDesc: true}

	if p := r.URL.Query().Get("patient_id"); p != "" {
		id, err := types.ParseID(p)
		if err != nil {
			writeError(w, errors.BadRequest("invalid patient ID"))
			return
		}
		filter.PatientID = &id
	}

	if p := r.URL.Query().Get("provider_id"); p != "" {
		id, err := types.ParseID(p)
		if err != nil {
			writeError(w, errors.BadRequest("invalid provider ID"))
			return
		}
		filter.ProviderID = &id
	}

	if s := r.URL.Query().Get("status"); s != "" {
		status := domain.Status(s)
		filter.Status = &status
	}

	if g := r.URL.Query().Get("group"); g != "" {
		group := domain.ParseIndicationGroup(g)
		filter.Group = &group
	}

	encounters, total, err := h.svc.List(r.Context(), actorFrom(r), filter)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  encounters,
		"total": total,
	})
}

func (h *Handler) UpdateEncounter(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseID(chi.URLParam(r, "encounterID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid encounter ID"))
		return
	}

	var req UpdateEncounterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	e, err := h.svc.UpdateDraft(r.Context(), actorFrom(r), id, service.UpdateDraftInput{
		Injections:           req.Injections,
		InjectionAssessments: req.InjectionAssessments,
		GlobalAssessments:    req.GlobalAssessments,
		GoalTargets:          req.GoalTargets,
		Notes:                req.Notes,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, e)
}

func (h *Handler) SignEncounter(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseID(chi.URLParam(r, "encounterID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid encounter ID"))
		return
	}

	e, err := h.svc.Sign(r.Context(), actorFrom(r), id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, e)
}

func (h *Handler) ReopenEncounter(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseID(chi.URLParam(r, "encounterID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid encounter ID"))
		return
	}

	var req ReopenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	e, err := h.svc.Reopen(r.Context(), actorFrom(r), id, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, e)
}

func (h *Handler) BulkSign(w http.ResponseWriter, r *http.Request) {
	var req BulkSignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}
	if len(req.EncounterIDs) == 0 {
		writeError(w, errors.BadRequest("encounter_ids is required"))
		return
	}

	result, err := h.svc.BulkSign(r.Context(), actorFrom(r), req.EncounterIDs)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) ExportEncounters(w http.ResponseWriter, r *http.Request) {
	var from, to *time.Time

	if f := r.URL.Query().Get("from"); f != "" {
		t, err := time.Parse(time.RFC3339, f)
		if err != nil {
			writeError(w, errors.BadRequest("invalid from timestamp"))
			return
		}
		from = &t
	}
	if tq := r.URL.Query().Get("to"); tq != "" {
		t, err := time.Parse(time.RFC3339, tq)
		if err != nil {
			writeError(w, errors.BadRequest("invalid to timestamp"))
			return
		}
		to = &t
	}

	encounters, err := h.svc.Export(r.Context(), actorFrom(r), from, to)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  encounters,
		"total": len(encounters),
	})
}

func (h *Handler) RecordFollowup(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseID(chi.URLParam(r, "encounterID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid encounter ID"))
		return
	}

	var req FollowupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	e, err := h.svc.RecordFollowup(r.Context(), actorFrom(r), id, req.FollowupDate, req.Outcome)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, e)
}

// WizardState reports where the documentation flow stands for an encounter.
// The client passes its saved step; an unknown step resumes at the beginning.
func (h *Handler) WizardState(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseID(chi.URLParam(r, "encounterID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid encounter ID"))
		return
	}

	e, err := h.svc.Get(r.Context(), actorFrom(r), id)
	if err != nil {
		writeError(w, err)
		return
	}

	session := wizard.Resume(e, wizard.Step(r.URL.Query().Get("step")))

	resp := map[string]any{
		"current":     session.Current,
		"at_review":   session.AtReview(),
		"can_advance": true,
	}
	if err := session.CanAdvance(); err != nil {
		resp["can_advance"] = false
		resp["blocked_reason"] = err.Error()
	}

	writeJSON(w, http.StatusOK, resp)
}

// --- Helpers ---

func actorFrom(r *http.Request) service.Actor {
	user := auth.GetUser(r.Context())
	if user == nil {
		// For development without auth
		return service.Actor{
			ID:    types.NewID(),
			Roles: []coreauth.Role{coreauth.RolePhysician},
			IP:    r.RemoteAddr,
		}
	}

	return service.Actor{
		ID:             user.ID,
		OrganizationID: user.OrganizationID,
		Roles:          user.Roles,
		IP:             r.RemoteAddr,
	}
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
