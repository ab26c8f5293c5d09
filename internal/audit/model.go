package audit

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"time"

	"github.com/brain-byt-es/bont-db-sub000/internal/shared/types"
)

// canonicalJSON produces deterministic JSON output with sorted map keys.
// Go maps have random iteration order and PostgreSQL JSONB may reorder keys,
// so keys must be sorted for consistent hashing.
func canonicalJSON(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	var parsed any
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, err
	}

	return canonicalMarshal(parsed)
}

func canonicalMarshal(v any) ([]byte, error) {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		var buf bytes.Buffer
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			keyBytes, _ := json.Marshal(k)
			buf.Write(keyBytes)
			buf.WriteByte(':')
			valBytes, err := canonicalMarshal(val[k])
			if err != nil {
				return nil, err
			}
			buf.Write(valBytes)
		}
		buf.WriteByte('}')
		return buf.Bytes(), nil

	case []any:
		var buf bytes.Buffer
		buf.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			itemBytes, err := canonicalMarshal(item)
			if err != nil {
				return nil, err
			}
			buf.Write(itemBytes)
		}
		buf.WriteByte(']')
		return buf.Bytes(), nil

	default:
		return json.Marshal(val)
	}
}

// ActorType defines the type of actor
type ActorType string

const (
	ActorTypeClinician ActorType = "clinician"
	ActorTypeSystem    ActorType = "system"
	ActorTypeImporter  ActorType = "importer"
)

// Entry represents an immutable audit log entry
type Entry struct {
	ID        types.ID  `json:"id"`
	Sequence  int64     `json:"sequence"`
	Timestamp time.Time `json:"timestamp"`
	Hash      string    `json:"hash"`
	PrevHash  string    `json:"prev_hash,omitempty"`

	// Actor
	ActorType  ActorType `json:"actor_type"`
	ActorID    types.ID  `json:"actor_id"`
	ActorOrgID *types.ID `json:"actor_org_id,omitempty"`
	ActorIP    string    `json:"actor_ip,omitempty"`

	// Action
	Action       string    `json:"action"`
	ResourceType string    `json:"resource_type"`
	ResourceID   *types.ID `json:"resource_id,omitempty"`

	// Changes
	Changes map[string]any `json:"changes,omitempty"`

	// Justification carries the clinician-supplied reason, e.g. for reopen
	Justification string `json:"justification,omitempty"`
}

// NewEntry creates a new audit entry chained to prevHash
func NewEntry(
	actorType ActorType,
	actorID types.ID,
	actorOrgID *types.ID,
	action, resourceType string,
	resourceID *types.ID,
	changes map[string]any,
	prevHash string,
) *Entry {
	entry := &Entry{
		ID:           types.NewID(),
		Timestamp:    time.Now().UTC().Truncate(time.Microsecond), // PostgreSQL stores microseconds
		PrevHash:     prevHash,
		ActorType:    actorType,
		ActorID:      actorID,
		ActorOrgID:   actorOrgID,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Changes:      changes,
	}

	entry.Hash = entry.calculateHash()

	return entry
}

// calculateHash calculates the SHA-256 hash of the entry using canonical JSON.
// Timestamps are hashed in UTC so verification is timezone-independent.
func (e *Entry) calculateHash() string {
	data := map[string]any{
		"id":            e.ID,
		"timestamp":     e.Timestamp.UTC().Format(time.RFC3339Nano),
		"prev_hash":     e.PrevHash,
		"actor_type":    e.ActorType,
		"actor_id":      e.ActorID,
		"action":        e.Action,
		"resource_type": e.ResourceType,
	}

	if e.ActorOrgID != nil {
		data["actor_org_id"] = e.ActorOrgID
	}
	if e.ResourceID != nil {
		data["resource_id"] = e.ResourceID
	}
	if len(e.Changes) > 0 {
		data["changes"] = e.Changes
	}
	if e.Justification != "" {
		data["justification"] = e.Justification
	}

	jsonData, _ := canonicalJSON(data)
	hash := sha256.Sum256(jsonData)
	return hex.EncodeToString(hash[:])
}

// VerifyHash verifies the entry's hash
func (e *Entry) VerifyHash() bool {
	return e.Hash == e.calculateHash()
}

// ComputeHash computes and returns the correct hash for this entry
func (e *Entry) ComputeHash() string {
	return e.calculateHash()
}

// WithJustification attaches a reason to the entry and rehashes it
func (e *Entry) WithJustification(reason string) *Entry {
	e.Justification = reason
	e.Hash = e.calculateHash()
	return e
}

// WithRequest adds request information to the entry
func (e *Entry) WithRequest(ip string) *Entry {
	e.ActorIP = ip
	return e
}

// ListFilter defines filters for listing audit entries
type ListFilter struct {
	ActorID      *types.ID  `json:"actor_id,omitempty"`
	Action       string     `json:"action,omitempty"`
	ResourceType string     `json:"resource_type,omitempty"`
	ResourceID   *types.ID  `json:"resource_id,omitempty"`
	StartTime    *time.Time `json:"start_time,omitempty"`
	EndTime      *time.Time `json:"end_time,omitempty"`
	Limit        int        `json:"limit,omitempty"`
	Offset       int        `json:"offset,omitempty"`
}

// Audit actions used by this service
const (
	ActionTreatmentSigned     = "treatment.signed"
	ActionTreatmentReopened   = "treatment.reopened"
	ActionTreatmentBulkSigned = "treatment.bulk_signed"
	ActionTreatmentViewed     = "treatment.viewed"
	ActionDataExported        = "data.exported"
	ActionLegacyImported      = "legacy.imported"
)

// Resource types
const (
	ResourceEncounter = "encounter"
	ResourceGoal      = "goal"
	ResourceExport    = "export"
)

// VerifyResult holds the outcome of a chain verification
type VerifyResult struct {
	Valid       bool      `json:"valid"`
	Checked     int       `json:"checked"`
	BrokenAt    *types.ID `json:"broken_at,omitempty"`
	BrokenIndex int       `json:"broken_index,omitempty"`
	Reason      string    `json:"reason,omitempty"`
}
