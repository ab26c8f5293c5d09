package service

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brain-byt-es/bont-db-sub000/internal/audit"
	coreauth "github.com/brain-byt-es/bont-db-sub000/internal/auth"
	"github.com/brain-byt-es/bont-db-sub000/internal/encounter/domain"
	"github.com/brain-byt-es/bont-db-sub000/internal/shared/errors"
	"github.com/brain-byt-es/bont-db-sub000/internal/shared/types"
)

// memoryStore keeps encounters in memory. UpdateWithAudit routes the
// entry through the fake audit sink first, mirroring the real store.
type memoryStore struct {
	encounters map[types.ID]*domain.Encounter
	sink       *fakeAuditSink
	failUpdate map[types.ID]bool
}

func newMemoryStore(sink *fakeAuditSink) *memoryStore {
	return &memoryStore{
		encounters: make(map[types.ID]*domain.Encounter),
		sink:       sink,
		failUpdate: make(map[types.ID]bool),
	}
}

func (m *memoryStore) Save(_ context.Context, e *domain.Encounter) error {
	cp := *e
	m.encounters[e.ID] = &cp
	return nil
}

func (m *memoryStore) Update(_ context.Context, e *domain.Encounter) error {
	if m.failUpdate[e.ID] {
		return errors.Internal(assert.AnError)
	}
	if _, ok := m.encounters[e.ID]; !ok {
		return errors.NotFound("encounter", e.ID.String())
	}
	cp := *e
	m.encounters[e.ID] = &cp
	return nil
}

func (m *memoryStore) FindByID(_ context.Context, id types.ID) (*domain.Encounter, error) {
	e, ok := m.encounters[id]
	if !ok {
		return nil, errors.NotFound("encounter", id.String())
	}
	cp := *e
	return &cp, nil
}

func (m *memoryStore) List(_ context.Context, filter domain.ListFilter) ([]domain.Encounter, int, error) {
	var out []domain.Encounter
	for _, e := range m.encounters {
		if e.Status == domain.StatusVoid && !filter.IncludeVoid {
			continue
		}
		if filter.Status != nil && e.Status != *filter.Status {
			continue
		}
		out = append(out, *e)
	}
	if filter.Offset >= len(out) {
		return nil, len(out), nil
	}
	return out[filter.Offset:], len(out), nil
}

func (m *memoryStore) ListEligible(_ context.Context, providerID types.ID) ([]domain.Encounter, error) {
	var out []domain.Encounter
	for _, e := range m.encounters {
		if e.ProviderID == providerID && e.Status != domain.StatusVoid {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (m *memoryStore) PreviousTargetedGoalIDs(context.Context, types.ID, types.ID) ([]types.ID, error) {
	return nil, nil
}

func (m *memoryStore) UpdateWithAudit(ctx context.Context, e *domain.Encounter, entry *audit.Entry) error {
	// Atomic like the real store: a failed update takes the entry with it.
	if m.failUpdate[e.ID] {
		return errors.Internal(assert.AnError)
	}
	if err := m.sink.Append(ctx, entry); err != nil {
		return err
	}
	return m.Update(ctx, e)
}

// fakeAuditSink collects entries and can be told to fail
type fakeAuditSink struct {
	entries []*audit.Entry
	fail    bool
}

func (f *fakeAuditSink) Initialize(context.Context) error { return nil }

func (f *fakeAuditSink) Append(_ context.Context, entry *audit.Entry) error {
	if f.fail {
		return errors.Internal(assert.AnError)
	}
	f.entries = append(f.entries, entry)
	return nil
}

func (f *fakeAuditSink) AppendTx(ctx context.Context, _ pgx.Tx, entry *audit.Entry) error {
	return f.Append(ctx, entry)
}

func (f *fakeAuditSink) FindByID(context.Context, types.ID) (*audit.Entry, error) {
	return nil, nil
}

func (f *fakeAuditSink) List(context.Context, audit.ListFilter) ([]*audit.Entry, int, error) {
	return f.entries, len(f.entries), nil
}

func (f *fakeAuditSink) GetByResource(context.Context, string, types.ID, int) ([]*audit.Entry, error) {
	return f.entries, nil
}

func (f *fakeAuditSink) VerifyChain(context.Context, int) (*audit.VerifyResult, error) {
	return &audit.VerifyResult{Valid: true, Checked: len(f.entries)}, nil
}

func (f *fakeAuditSink) GetLastHash() string {
	if len(f.entries) == 0 {
		return ""
	}
	return f.entries[len(f.entries)-1].Hash
}

type allowAllGate struct{}

func (allowAllGate) RequireTargetable(context.Context, []types.ID) error { return nil }

func physician() Actor {
	return Actor{
		ID:             types.NewID(),
		OrganizationID: types.NewID(),
		Roles:          []coreauth.Role{coreauth.RolePhysician},
	}
}

func resident() Actor {
	return Actor{
		ID:             types.NewID(),
		OrganizationID: types.NewID(),
		Roles:          []coreauth.Role{coreauth.RoleResident},
	}
}

func newTestService() (*Service, *memoryStore, *fakeAuditSink) {
	sink := &fakeAuditSink{}
	store := newMemoryStore(sink)
	return NewService(store, sink, allowAllGate{}), store, sink
}

func draftInput() CreateDraftInput {
	return CreateDraftInput{
		PatientID:     types.NewID(),
		Indication:    "spasticity",
		ProductName:   "Botox",
		VialSizeUnits: 100,
		DilutionMl:    2.5,
		Injections: []domain.InjectionInput{
			{MuscleID: "biceps_brachii", Side: domain.SideLeft, Units: 50},
		},
	}
}

func TestCreateDraft(t *testing.T) {
	svc, store, _ := newTestService()

	e, err := svc.CreateDraft(context.Background(), physician(), draftInput())
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDraft, e.Status)
	assert.Equal(t, 50.0, e.TotalUnits)
	assert.Len(t, store.encounters, 1)
}

func TestCreateDraftPermission(t *testing.T) {
	svc, _, _ := newTestService()

	observer := Actor{ID: types.NewID(), Roles: []coreauth.Role{coreauth.RoleObserver}}
	_, err := svc.CreateDraft(context.Background(), observer, draftInput())
	assert.True(t, errors.IsPermission(err))
}

func TestResidentCanDocumentButNotSign(t *testing.T) {
	svc, _, _ := newTestService()
	res := resident()

	e, err := svc.CreateDraft(context.Background(), res, draftInput())
	require.NoError(t, err, "residents document treatments")

	_, err = svc.Sign(context.Background(), res, e.ID)
	assert.True(t, errors.IsPermission(err), "residents must not sign")
}

func TestSignWritesAudit(t *testing.T) {
	svc, store, sink := newTestService()
	doc := physician()

	e, err := svc.CreateDraft(context.Background(), doc, draftInput())
	require.NoError(t, err)

	signed, err := svc.Sign(context.Background(), doc, e.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSigned, signed.Status)
	require.NotNil(t, signed.SignedAt)

	require.Len(t, sink.entries, 1)
	entry := sink.entries[0]
	assert.Equal(t, audit.ActionTreatmentSigned, entry.Action)
	assert.Equal(t, audit.ResourceEncounter, entry.ResourceType)
	require.NotNil(t, entry.ResourceID)
	assert.Equal(t, e.ID, *entry.ResourceID)

	persisted, _ := store.FindByID(context.Background(), e.ID)
	assert.Equal(t, domain.StatusSigned, persisted.Status)
}

func TestSignAbortsWhenAuditFails(t *testing.T) {
	svc, store, sink := newTestService()
	doc := physician()

	e, err := svc.CreateDraft(context.Background(), doc, draftInput())
	require.NoError(t, err)

	sink.fail = true
	_, err = svc.Sign(context.Background(), doc, e.ID)
	require.Error(t, err)

	persisted, _ := store.FindByID(context.Background(), e.ID)
	assert.Equal(t, domain.StatusDraft, persisted.Status, "status must not change when the audit append fails")
}

func TestReopenRequiresReason(t *testing.T) {
	svc, _, sink := newTestService()
	doc := physician()

	e, err := svc.CreateDraft(context.Background(), doc, draftInput())
	require.NoError(t, err)
	_, err = svc.Sign(context.Background(), doc, e.ID)
	require.NoError(t, err)

	_, err = svc.Reopen(context.Background(), doc, e.ID, "")
	assert.True(t, errors.IsValidation(err))
	assert.Len(t, sink.entries, 1, "a failed reopen must not append audit")

	reopened, err := svc.Reopen(context.Background(), doc, e.ID, "wrong muscle recorded")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDraft, reopened.Status)

	require.Len(t, sink.entries, 2)
	assert.Equal(t, audit.ActionTreatmentReopened, sink.entries[1].Action)
	assert.Equal(t, "wrong muscle recorded", sink.entries[1].Justification)
}

func TestBulkSign(t *testing.T) {
	svc, store, sink := newTestService()
	doc := physician()

	signable, err := svc.CreateDraft(context.Background(), doc, draftInput())
	require.NoError(t, err)

	empty, err := svc.CreateDraft(context.Background(), doc, CreateDraftInput{
		PatientID:     types.NewID(),
		Indication:    "dystonia",
		ProductName:   "Dysport",
		VialSizeUnits: 500,
		DilutionMl:    2.5,
	})
	require.NoError(t, err)

	already, err := svc.CreateDraft(context.Background(), doc, draftInput())
	require.NoError(t, err)
	_, err = svc.Sign(context.Background(), doc, already.ID)
	require.NoError(t, err)

	missing := types.NewID()

	result, err := svc.BulkSign(context.Background(), doc, []types.ID{signable.ID, empty.ID, already.ID, missing})
	require.NoError(t, err)

	assert.Equal(t, []types.ID{signable.ID}, result.Signed)
	assert.Contains(t, result.Skipped, empty.ID, "zero-unit draft is skipped, not fatal")
	assert.Contains(t, result.Skipped, already.ID)
	assert.Contains(t, result.Skipped, missing)

	// One entry for the earlier single sign, one per bulk-signed
	// encounter, then the batch summary.
	require.Len(t, sink.entries, 3)
	item := sink.entries[1]
	assert.Equal(t, audit.ActionTreatmentSigned, item.Action)
	require.NotNil(t, item.ResourceID)
	assert.Equal(t, signable.ID, *item.ResourceID)
	bulk := sink.entries[2]
	assert.Equal(t, audit.ActionTreatmentBulkSigned, bulk.Action)
	assert.Equal(t, 1, bulk.Changes["count"])

	persisted, _ := store.FindByID(context.Background(), signable.ID)
	assert.Equal(t, domain.StatusSigned, persisted.Status)
}

func TestBulkSignReportsOnlyPersistedSignatures(t *testing.T) {
	svc, store, sink := newTestService()
	doc := physician()

	good, err := svc.CreateDraft(context.Background(), doc, draftInput())
	require.NoError(t, err)
	bad, err := svc.CreateDraft(context.Background(), doc, draftInput())
	require.NoError(t, err)
	store.failUpdate[bad.ID] = true

	result, err := svc.BulkSign(context.Background(), doc, []types.ID{good.ID, bad.ID})
	require.NoError(t, err)

	assert.Equal(t, []types.ID{good.ID}, result.Signed)
	assert.Contains(t, result.Skipped, bad.ID)

	// One entry per persisted signature plus the summary; the summary must
	// not claim the encounter whose persist failed.
	require.Len(t, sink.entries, 2)
	summary := sink.entries[1]
	assert.Equal(t, audit.ActionTreatmentBulkSigned, summary.Action)
	assert.Equal(t, 1, summary.Changes["count"])
	assert.Equal(t, []types.ID{good.ID}, summary.Changes["encounter_ids"])

	persisted, _ := store.FindByID(context.Background(), bad.ID)
	assert.Equal(t, domain.StatusDraft, persisted.Status)
}

func TestUpdateDraftRejectsSignedEncounter(t *testing.T) {
	svc, store, _ := newTestService()
	doc := physician()

	e, err := svc.CreateDraft(context.Background(), doc, draftInput())
	require.NoError(t, err)
	_, err = svc.Sign(context.Background(), doc, e.ID)
	require.NoError(t, err)

	// Even an update carrying no sections must refuse a signed encounter.
	_, err = svc.UpdateDraft(context.Background(), doc, e.ID, UpdateDraftInput{})
	assert.True(t, errors.IsState(err))

	notes := "added after signing"
	_, err = svc.UpdateDraft(context.Background(), doc, e.ID, UpdateDraftInput{Notes: &notes})
	assert.True(t, errors.IsState(err))

	persisted, _ := store.FindByID(context.Background(), e.ID)
	assert.Equal(t, domain.StatusSigned, persisted.Status)
}

func TestUpdateDraftGoalGate(t *testing.T) {
	sink := &fakeAuditSink{}
	store := newMemoryStore(sink)
	gate := blockingGate{}
	svc := NewService(store, sink, gate)
	doc := physician()

	e, err := svc.CreateDraft(context.Background(), doc, draftInput())
	require.NoError(t, err)

	targets := []types.ID{types.NewID()}
	_, err = svc.UpdateDraft(context.Background(), doc, e.ID, UpdateDraftInput{GoalTargets: &targets})
	assert.True(t, errors.IsState(err), "non-targetable goals must be rejected")
}

type blockingGate struct{}

func (blockingGate) RequireTargetable(context.Context, []types.ID) error {
	return errors.State("goal is RETIRED and cannot be targeted")
}

func TestGetLogsSignedAccess(t *testing.T) {
	svc, _, sink := newTestService()
	doc := physician()

	e, err := svc.CreateDraft(context.Background(), doc, draftInput())
	require.NoError(t, err)

	_, err = svc.Get(context.Background(), doc, e.ID)
	require.NoError(t, err)
	assert.Empty(t, sink.entries, "draft reads are not access-logged")

	_, err = svc.Sign(context.Background(), doc, e.ID)
	require.NoError(t, err)

	_, err = svc.Get(context.Background(), doc, e.ID)
	require.NoError(t, err)
	require.Len(t, sink.entries, 2)
	assert.Equal(t, audit.ActionTreatmentViewed, sink.entries[1].Action)

	// A broken audit backend must not block reads
	sink.fail = true
	got, err := svc.Get(context.Background(), doc, e.ID)
	require.NoError(t, err)
	assert.Equal(t, e.ID, got.ID)
}

func TestExport(t *testing.T) {
	svc, _, sink := newTestService()
	doc := physician()
	admin := Actor{
		ID:             types.NewID(),
		OrganizationID: types.NewID(),
		Roles:          []coreauth.Role{coreauth.RoleClinicAdmin},
	}

	signed, err := svc.CreateDraft(context.Background(), doc, draftInput())
	require.NoError(t, err)
	_, err = svc.Sign(context.Background(), doc, signed.ID)
	require.NoError(t, err)

	_, err = svc.CreateDraft(context.Background(), doc, draftInput())
	require.NoError(t, err)

	_, err = svc.Export(context.Background(), doc, nil, nil)
	assert.True(t, errors.IsPermission(err), "physicians do not run exports")

	out, err := svc.Export(context.Background(), admin, nil, nil)
	require.NoError(t, err)
	require.Len(t, out, 1, "only signed encounters are exported")
	assert.Equal(t, signed.ID, out[0].ID)

	last := sink.entries[len(sink.entries)-1]
	assert.Equal(t, audit.ActionDataExported, last.Action)
	assert.Equal(t, audit.ResourceExport, last.ResourceType)
	assert.Equal(t, 1, last.Changes["count"])

	// No data leaves the system if the export cannot be audited
	sink.fail = true
	_, err = svc.Export(context.Background(), admin, nil, nil)
	require.Error(t, err)
}

func TestRecordFollowup(t *testing.T) {
	svc, _, _ := newTestService()
	doc := physician()

	e, err := svc.CreateDraft(context.Background(), doc, draftInput())
	require.NoError(t, err)

	_, err = svc.RecordFollowup(context.Background(), doc, e.ID, time.Now(), "improved")
	assert.True(t, errors.IsState(err), "follow-up needs a signed encounter")

	_, err = svc.Sign(context.Background(), doc, e.ID)
	require.NoError(t, err)

	updated, err := svc.RecordFollowup(context.Background(), doc, e.ID, time.Now(), "improved")
	require.NoError(t, err)
	assert.True(t, updated.HasFollowup())
}
