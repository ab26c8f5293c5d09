package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	coreauth "github.com/brain-byt-es/bont-db-sub000/internal/auth"
	"github.com/brain-byt-es/bont-db-sub000/internal/draftcache"
	"github.com/brain-byt-es/bont-db-sub000/internal/shared/auth"
	"github.com/brain-byt-es/bont-db-sub000/internal/shared/errors"
	"github.com/brain-byt-es/bont-db-sub000/internal/shared/types"
	"github.com/brain-byt-es/bont-db-sub000/internal/wizard"
)

// DraftsHandler serves the resume-draft cache. The cache holds unsaved wizard
// state per patient so an interrupted session continues on the step it left.
type DraftsHandler struct {
	cache draftcache.Cache
}

// NewDraftsHandler creates a drafts handler
func NewDraftsHandler(cache draftcache.Cache) *DraftsHandler {
	return &DraftsHandler{cache: cache}
}

// Routes registers the draft cache routes
func (h *DraftsHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(auth.RequireCapability(coreauth.CapWriteTreatments))

	r.Route("/{patientID}", func(r chi.Router) {
		r.Get("/", h.GetDraft)
		r.Put("/", h.PutDraft)
		r.Delete("/", h.DeleteDraft)
	})

	return r
}

type PutDraftRequest struct {
	FormVersion string          `json:"form_version"`
	Step        string          `json:"step"`
	Payload     json.RawMessage `json:"payload"`
}

func (h *DraftsHandler) PutDraft(w http.ResponseWriter, r *http.Request) {
	patientID, err := types.ParseID(chi.URLParam(r, "patientID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid patient ID"))
		return
	}

	var req PutDraftRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}
	if req.FormVersion == "" {
		writeError(w, errors.BadRequest("form_version is required"))
		return
	}
	if !wizard.ValidStep(wizard.Step(req.Step)) {
		writeError(w, errors.BadRequest("unknown wizard step"))
		return
	}

	snap := draftcache.Snapshot{
		PatientID:   patientID,
		FormVersion: req.FormVersion,
		Step:        req.Step,
		Payload:     req.Payload,
		SavedAt:     time.Now().UTC(),
	}
	if err := h.cache.Put(r.Context(), snap); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, snap)
}

func (h *DraftsHandler) GetDraft(w http.ResponseWriter, r *http.Request) {
	patientID, err := types.ParseID(chi.URLParam(r, "patientID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid patient ID"))
		return
	}

	formVersion := r.URL.Query().Get("form_version")
	if formVersion == "" {
		writeError(w, errors.BadRequest("form_version is required"))
		return
	}

	snap, err := h.cache.Get(r.Context(), patientID, formVersion)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, snap)
}

func (h *DraftsHandler) DeleteDraft(w http.ResponseWriter, r *http.Request) {
	patientID, err := types.ParseID(chi.URLParam(r, "patientID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid patient ID"))
		return
	}

	if err := h.cache.Invalidate(r.Context(), patientID); err != nil {
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
