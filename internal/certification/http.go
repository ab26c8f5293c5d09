package certification

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	coreauth "github.com/brain-byt-es/bont-db-sub000/internal/auth"
	"github.com/brain-byt-es/bont-db-sub000/internal/shared/auth"
	"github.com/brain-byt-es/bont-db-sub000/internal/shared/errors"
	"github.com/brain-byt-es/bont-db-sub000/internal/shared/types"
)

// Handler provides HTTP handlers for the certification module
type Handler struct {
	aggregator *Aggregator
}

// NewHandler creates a new certification handler
func NewHandler(aggregator *Aggregator) *Handler {
	return &Handler{aggregator: aggregator}
}

// Routes registers the certification routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(auth.RequireCapability(coreauth.CapReadCertification))
	r.Get("/providers/{providerID}/eligibility", h.GetEligibility)

	return r
}

func (h *Handler) GetEligibility(w http.ResponseWriter, r *http.Request) {
	providerID, err := types.ParseID(chi.URLParam(r, "providerID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid provider ID"))
		return
	}

	progress, err := h.aggregator.Evaluate(r.Context(), providerID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, progress)
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
