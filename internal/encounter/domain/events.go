package domain

import (
	"time"

	"github.com/brain-byt-es/bont-db-sub000/internal/shared/types"
)

// EventType identifies an encounter domain event
type EventType string

const (
	EventTypeCreated  EventType = "treatment.created"
	EventTypeUpdated  EventType = "treatment.updated"
	EventTypeSigned   EventType = "treatment.signed"
	EventTypeReopened EventType = "treatment.reopened"
)

// Event is raised by aggregate mutations and consumed by the service layer
// for audit changes and metrics.
type Event struct {
	Type        EventType      `json:"type"`
	EncounterID types.ID       `json:"encounter_id"`
	Data        map[string]any `json:"data,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
}
