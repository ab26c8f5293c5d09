// Package draftcache holds in-progress documentation wizard state so a
// clinician can resume an interrupted session. Entries are keyed by patient
// and form version: a payload written by an older form layout never resumes
// into a newer one.
package draftcache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/brain-byt-es/bont-db-sub000/internal/shared/errors"
	"github.com/brain-byt-es/bont-db-sub000/internal/shared/types"
)

// Snapshot is one cached wizard session
type Snapshot struct {
	PatientID   types.ID        `json:"patient_id"`
	FormVersion string          `json:"form_version"`
	Step        string          `json:"step"`
	Payload     json.RawMessage `json:"payload"`
	SavedAt     time.Time       `json:"saved_at"`
}

// Cache stores draft snapshots with a freshness window. Get misses on
// anything expired or written under a different form version.
type Cache interface {
	Put(ctx context.Context, snap Snapshot) error
	Get(ctx context.Context, patientID types.ID, formVersion string) (*Snapshot, error)
	Invalidate(ctx context.Context, patientID types.ID) error
}

type memoryEntry struct {
	snap      Snapshot
	expiresAt time.Time
}

// MemoryCache is the default single-instance backend
type MemoryCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[types.ID]memoryEntry

	// now is replaceable for tests
	now func() time.Time
}

// NewMemoryCache creates an in-memory cache with the given freshness window
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{
		ttl:     ttl,
		entries: make(map[types.ID]memoryEntry),
		now:     time.Now,
	}
}

// Put stores the snapshot, replacing any previous session for the patient
func (c *MemoryCache) Put(_ context.Context, snap Snapshot) error {
	if snap.PatientID.IsZero() {
		return errors.BadRequest("patient id is required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if snap.SavedAt.IsZero() {
		snap.SavedAt = c.now()
	}
	c.entries[snap.PatientID] = memoryEntry{
		snap:      snap,
		expiresAt: c.now().Add(c.ttl),
	}
	return nil
}

// Get returns the fresh snapshot for the patient and form version
func (c *MemoryCache) Get(_ context.Context, patientID types.ID, formVersion string) (*Snapshot, error) {
	c.mu.RLock()
	entry, ok := c.entries[patientID]
	c.mu.RUnlock()

	if !ok || c.now().After(entry.expiresAt) || entry.snap.FormVersion != formVersion {
		return nil, errors.NotFound("draft", patientID.String())
	}

	snap := entry.snap
	return &snap, nil
}

// Invalidate drops the patient's cached session, e.g. after a sign
func (c *MemoryCache) Invalidate(_ context.Context, patientID types.ID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, patientID)
	return nil
}
