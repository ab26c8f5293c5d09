package goal

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brain-byt-es/bont-db-sub000/internal/shared/errors"
	"github.com/brain-byt-es/bont-db-sub000/internal/shared/types"
)

type memoryRepo struct {
	goals       map[types.ID]*Goal
	assessments map[types.ID]map[types.ID]*Assessment // goal -> encounter -> score
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		goals:       make(map[types.ID]*Goal),
		assessments: make(map[types.ID]map[types.ID]*Assessment),
	}
}

func (m *memoryRepo) Save(_ context.Context, g *Goal) error {
	cp := *g
	m.goals[g.ID] = &cp
	return nil
}

func (m *memoryRepo) Update(_ context.Context, g *Goal) error {
	if _, ok := m.goals[g.ID]; !ok {
		return errors.NotFound("goal", g.ID.String())
	}
	cp := *g
	m.goals[g.ID] = &cp
	return nil
}

func (m *memoryRepo) FindByID(_ context.Context, id types.ID) (*Goal, error) {
	g, ok := m.goals[id]
	if !ok {
		return nil, errors.NotFound("goal", id.String())
	}
	cp := *g
	return &cp, nil
}

func (m *memoryRepo) FindByIDs(_ context.Context, ids []types.ID) ([]Goal, error) {
	var out []Goal
	for _, id := range ids {
		if g, ok := m.goals[id]; ok {
			out = append(out, *g)
		}
	}
	return out, nil
}

func (m *memoryRepo) ListByPatient(_ context.Context, patientID types.ID, status *Status) ([]Goal, error) {
	var out []Goal
	for _, g := range m.goals {
		if g.PatientID != patientID {
			continue
		}
		if status != nil && g.Status != *status {
			continue
		}
		out = append(out, *g)
	}
	return out, nil
}

func (m *memoryRepo) SaveAssessment(_ context.Context, a *Assessment) error {
	if m.assessments[a.GoalID] == nil {
		m.assessments[a.GoalID] = make(map[types.ID]*Assessment)
	}
	cp := *a
	m.assessments[a.GoalID][a.EncounterID] = &cp
	return nil
}

func (m *memoryRepo) ListAssessments(_ context.Context, goalID types.ID) ([]Assessment, error) {
	var out []Assessment
	for _, a := range m.assessments[goalID] {
		out = append(out, *a)
	}
	return out, nil
}

func (m *memoryRepo) ListAssessmentsByEncounter(_ context.Context, encounterID types.ID) ([]Assessment, error) {
	var out []Assessment
	for _, byEnc := range m.assessments {
		if a, ok := byEnc[encounterID]; ok {
			out = append(out, *a)
		}
	}
	return out, nil
}

type stubHistory struct {
	ids      []types.ID
	targeted []types.ID
}

func (s stubHistory) PreviousTargetedGoalIDs(context.Context, types.ID, types.ID) ([]types.ID, error) {
	return s.ids, nil
}

func (s stubHistory) TargetedGoalIDs(context.Context, types.ID) ([]types.ID, error) {
	return s.targeted, nil
}

func TestCreateGoal(t *testing.T) {
	tracker := NewTracker(newMemoryRepo(), stubHistory{})
	patientID := types.NewID()

	g, err := tracker.CreateGoal(context.Background(), patientID, CategoryFunction, "Improve active hand opening for grasp", nil)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, g.Status)
	assert.Equal(t, patientID, g.PatientID)

	t.Run("description too short", func(t *testing.T) {
		_, err := tracker.CreateGoal(context.Background(), patientID, CategorySymptom, "abc", nil)
		assert.True(t, errors.IsValidation(err))
	})

	t.Run("description too long", func(t *testing.T) {
		long := make([]byte, 141)
		for i := range long {
			long[i] = 'x'
		}
		_, err := tracker.CreateGoal(context.Background(), patientID, CategorySymptom, string(long), nil)
		assert.True(t, errors.IsValidation(err))
	})

	t.Run("length counts characters not bytes", func(t *testing.T) {
		// 100 umlauts are 200 bytes but well within the 140-character bound.
		desc := strings.Repeat("ü", 100)
		_, err := tracker.CreateGoal(context.Background(), patientID, CategorySymptom, desc, nil)
		assert.NoError(t, err)

		_, err = tracker.CreateGoal(context.Background(), patientID, CategorySymptom, strings.Repeat("ü", 141), nil)
		assert.True(t, errors.IsValidation(err))
	})

	t.Run("unknown category", func(t *testing.T) {
		_, err := tracker.CreateGoal(context.Background(), patientID, Category("OUTCOME"), "Reduce pain during stretching", nil)
		assert.True(t, errors.IsValidation(err))
	})
}

func TestRequireTargetable(t *testing.T) {
	repo := newMemoryRepo()
	tracker := NewTracker(repo, stubHistory{})
	patientID := types.NewID()

	active, err := tracker.CreateGoal(context.Background(), patientID, CategoryFunction, "Hold cutlery steadily through a meal", nil)
	require.NoError(t, err)

	retired, err := tracker.CreateGoal(context.Background(), patientID, CategorySymptom, "Reduce pain during passive stretching", nil)
	require.NoError(t, err)
	_, err = tracker.Retire(context.Background(), retired.ID)
	require.NoError(t, err)

	assert.NoError(t, tracker.RequireTargetable(context.Background(), []types.ID{active.ID}))

	err = tracker.RequireTargetable(context.Background(), []types.ID{active.ID, retired.ID})
	assert.True(t, errors.IsState(err), "retired goal must not be targetable")

	err = tracker.RequireTargetable(context.Background(), []types.ID{types.NewID()})
	assert.True(t, errors.IsNotFound(err))
}

func TestRecordAssessment(t *testing.T) {
	repo := newMemoryRepo()
	patientID := types.NewID()
	encounterID := types.NewID()

	g, err := NewTracker(repo, stubHistory{}).CreateGoal(context.Background(), patientID, CategoryParticipation, "Walk to the shops without a rest break", nil)
	require.NoError(t, err)

	tracker := NewTracker(repo, stubHistory{targeted: []types.ID{g.ID}})

	t.Run("score out of range", func(t *testing.T) {
		_, err := tracker.RecordAssessment(context.Background(), g.ID, encounterID, 3, "")
		assert.True(t, errors.IsValidation(err))
		_, err = tracker.RecordAssessment(context.Background(), g.ID, encounterID, -3, "")
		assert.True(t, errors.IsValidation(err))
	})

	t.Run("unknown goal", func(t *testing.T) {
		_, err := tracker.RecordAssessment(context.Background(), types.NewID(), encounterID, 1, "")
		assert.True(t, errors.IsNotFound(err))
	})

	t.Run("re-recording overwrites", func(t *testing.T) {
		_, err := tracker.RecordAssessment(context.Background(), g.ID, encounterID, -1, "below expectation")
		require.NoError(t, err)
		_, err = tracker.RecordAssessment(context.Background(), g.ID, encounterID, 2, "much better than expected")
		require.NoError(t, err)

		history, err := tracker.ListAssessments(context.Background(), g.ID)
		require.NoError(t, err)
		require.Len(t, history, 1)
		assert.Equal(t, 2, history[0].Score)
	})
}

func TestRecordAssessmentRequiresTargetLink(t *testing.T) {
	repo := newMemoryRepo()
	patientID := types.NewID()

	untargeted, err := NewTracker(repo, stubHistory{}).CreateGoal(context.Background(), patientID, CategoryFunction, "Hold cutlery steadily through a meal", nil)
	require.NoError(t, err)

	retired, err := NewTracker(repo, stubHistory{}).CreateGoal(context.Background(), patientID, CategorySymptom, "Reduce pain during passive stretching", nil)
	require.NoError(t, err)
	_, err = NewTracker(repo, stubHistory{}).Retire(context.Background(), retired.ID)
	require.NoError(t, err)

	tracker := NewTracker(repo, stubHistory{})

	_, err = tracker.RecordAssessment(context.Background(), retired.ID, types.NewID(), 1, "")
	assert.True(t, errors.IsState(err), "retired goal never targeted by the encounter must be rejected")

	_, err = tracker.RecordAssessment(context.Background(), untargeted.ID, types.NewID(), 1, "")
	assert.True(t, errors.IsState(err), "active but untargeted goal must be rejected")

	linked := NewTracker(repo, stubHistory{targeted: []types.ID{untargeted.ID}})
	_, err = linked.RecordAssessment(context.Background(), untargeted.ID, types.NewID(), 1, "")
	assert.NoError(t, err)
}

func TestLifecycleTransitions(t *testing.T) {
	repo := newMemoryRepo()
	tracker := NewTracker(repo, stubHistory{})

	g, err := tracker.CreateGoal(context.Background(), types.NewID(), CategorySymptom, "Reduce involuntary head turning at rest", nil)
	require.NoError(t, err)

	achieved, err := tracker.MarkAchieved(context.Background(), g.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusAchieved, achieved.Status)

	_, err = tracker.Retire(context.Background(), g.ID)
	assert.True(t, errors.IsState(err), "achieved goal cannot be retired")

	_, err = tracker.MarkAchieved(context.Background(), g.ID)
	assert.True(t, errors.IsState(err), "achieving twice must fail")
}

func TestPreviousTargetedGoals(t *testing.T) {
	repo := newMemoryRepo()
	patientID := types.NewID()

	tracker := NewTracker(repo, stubHistory{})

	active, err := tracker.CreateGoal(context.Background(), patientID, CategoryFunction, "Hold cutlery steadily through a meal", nil)
	require.NoError(t, err)
	achieved, err := tracker.CreateGoal(context.Background(), patientID, CategorySymptom, "Reduce pain during passive stretching", nil)
	require.NoError(t, err)
	_, err = tracker.MarkAchieved(context.Background(), achieved.ID)
	require.NoError(t, err)

	tracker = NewTracker(repo, stubHistory{ids: []types.ID{active.ID, achieved.ID}})

	goals, err := tracker.PreviousTargetedGoals(context.Background(), patientID, types.NewID())
	require.NoError(t, err)
	require.Len(t, goals, 1, "only still-active goals carry forward")
	assert.Equal(t, active.ID, goals[0].ID)
}
