package service

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/brain-byt-es/bont-db-sub000/internal/audit"
	coreauth "github.com/brain-byt-es/bont-db-sub000/internal/auth"
	"github.com/brain-byt-es/bont-db-sub000/internal/encounter/domain"
	"github.com/brain-byt-es/bont-db-sub000/internal/shared/errors"
	"github.com/brain-byt-es/bont-db-sub000/internal/shared/metrics"
	"github.com/brain-byt-es/bont-db-sub000/internal/shared/types"
)

// Store is the persistence surface the service needs. The infrastructure
// AtomicStore satisfies it against PostgreSQL.
type Store interface {
	domain.Repository
	UpdateWithAudit(ctx context.Context, e *domain.Encounter, entry *audit.Entry) error
}

// GoalGate verifies goals are targetable before a draft links them
type GoalGate interface {
	RequireTargetable(ctx context.Context, goalIDs []types.ID) error
}

// Actor identifies who performs an operation
type Actor struct {
	ID             types.ID
	OrganizationID types.ID
	Roles          []coreauth.Role
	IP             string
}

// HasCapability checks the actor's roles against the capability table
func (a Actor) HasCapability(cap coreauth.Capability) bool {
	return coreauth.RoleChecker{}.HasCapability(a.Roles, cap)
}

// Service orchestrates the encounter lifecycle: draft edits, signing,
// reopening and follow-up, with capability checks and audit mandatory on
// every status transition.
type Service struct {
	store Store
	audit audit.Repository
	goals GoalGate
}

// NewService creates an encounter service
func NewService(store Store, auditRepo audit.Repository, goals GoalGate) *Service {
	return &Service{store: store, audit: auditRepo, goals: goals}
}

// CreateDraftInput carries the fields to open a draft
type CreateDraftInput struct {
	PatientID     types.ID
	Indication    string
	TreatmentSite string
	ProductName   string
	VialSizeUnits float64
	DilutionMl    float64
	EncounterDate time.Time
	Notes         string
	Injections    []domain.InjectionInput
}

// CreateDraft opens a new draft encounter
func (s *Service) CreateDraft(ctx context.Context, actor Actor, in CreateDraftInput) (*domain.Encounter, error) {
	if !actor.HasCapability(coreauth.CapWriteTreatments) {
		return nil, errors.Permission("you are not allowed to document treatments")
	}

	e, err := domain.NewEncounter(domain.NewEncounterInput{
		PatientID:      in.PatientID,
		OrganizationID: actor.OrganizationID,
		ProviderID:     actor.ID,
		Indication:     in.Indication,
		TreatmentSite:  in.TreatmentSite,
		ProductName:    in.ProductName,
		VialSizeUnits:  in.VialSizeUnits,
		DilutionMl:     in.DilutionMl,
		EncounterDate:  in.EncounterDate,
		Notes:          in.Notes,
	})
	if err != nil {
		return nil, err
	}

	if len(in.Injections) > 0 {
		if err := e.SetInjections(in.Injections); err != nil {
			return nil, err
		}
	}

	if err := s.store.Save(ctx, e); err != nil {
		return nil, err
	}

	s.publish(e)
	log.Info().
		Str("encounter_id", e.ID.String()).
		Str("patient_id", e.PatientID.String()).
		Str("indication_group", string(e.IndicationGroup)).
		Msg("draft encounter created")

	return e, nil
}

// publish drains the aggregate's pending events into metrics and the debug
// log. Events not drained here would be lost, the aggregate clears them.
func (s *Service) publish(e *domain.Encounter) {
	for _, ev := range e.GetDomainEvents() {
		switch ev.Type {
		case domain.EventTypeCreated:
			metrics.RecordEncounterCreated(string(e.IndicationGroup))
		case domain.EventTypeSigned:
			metrics.RecordEncounterSigned()
		case domain.EventTypeReopened:
			metrics.RecordEncounterReopened()
		}
		log.Debug().
			Str("type", string(ev.Type)).
			Str("encounter_id", ev.EncounterID.String()).
			Fields(ev.Data).
			Msg("domain event")
	}
}

// InjectionAssessmentInput scores one injection site
type InjectionAssessmentInput struct {
	InjectionID types.ID         `json:"injection_id"`
	Scale       string           `json:"scale"`
	Timepoint   domain.Timepoint `json:"timepoint"`
	Value       string           `json:"value"`
}

// GlobalAssessmentInput scores the encounter as a whole
type GlobalAssessmentInput struct {
	Scale     string           `json:"scale"`
	Timepoint domain.Timepoint `json:"timepoint"`
	Value     string           `json:"value"`
}

// UpdateDraftInput carries a partial draft update. Nil slices leave the
// corresponding section untouched.
type UpdateDraftInput struct {
	Injections           *[]domain.InjectionInput
	InjectionAssessments []InjectionAssessmentInput
	GlobalAssessments    []GlobalAssessmentInput
	GoalTargets          *[]types.ID
	Notes                *string
}

// UpdateDraft applies edits to a draft encounter
func (s *Service) UpdateDraft(ctx context.Context, actor Actor, id types.ID, in UpdateDraftInput) (*domain.Encounter, error) {
	if !actor.HasCapability(coreauth.CapWriteTreatments) {
		return nil, errors.Permission("you are not allowed to document treatments")
	}

	e, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	// Checked up front so an update carrying no sections still refuses to
	// touch a signed encounter.
	if !e.IsEditable() {
		return nil, errors.State("encounter is " + string(e.Status) + "; reopen it before editing")
	}

	if in.Injections != nil {
		if err := e.SetInjections(*in.Injections); err != nil {
			return nil, err
		}
	}

	for _, a := range in.InjectionAssessments {
		if err := e.SetInjectionAssessment(a.InjectionID, a.Scale, a.Timepoint, a.Value); err != nil {
			return nil, err
		}
	}

	for _, a := range in.GlobalAssessments {
		if err := e.SetGlobalAssessment(a.Scale, a.Timepoint, a.Value); err != nil {
			return nil, err
		}
	}

	if in.GoalTargets != nil {
		if err := s.goals.RequireTargetable(ctx, *in.GoalTargets); err != nil {
			return nil, err
		}
		if err := e.SetGoalTargets(*in.GoalTargets); err != nil {
			return nil, err
		}
	}

	if in.Notes != nil {
		e.Notes = *in.Notes
	}

	if err := s.store.Update(ctx, e); err != nil {
		return nil, err
	}

	return e, nil
}

// Sign transitions a draft to signed. The audit entry and the status change
// commit together; if the audit append fails the encounter stays a draft.
func (s *Service) Sign(ctx context.Context, actor Actor, id types.ID) (*domain.Encounter, error) {
	if !actor.HasCapability(coreauth.CapSignTreatments) {
		return nil, errors.Permission("you are not allowed to sign treatments")
	}

	e, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := e.Sign(); err != nil {
		return nil, err
	}

	entry := audit.NewEntry(
		audit.ActorTypeClinician, actor.ID, &actor.OrganizationID,
		audit.ActionTreatmentSigned, audit.ResourceEncounter, &e.ID,
		map[string]any{
			"status":      string(e.Status),
			"total_units": e.TotalUnits,
		},
		s.audit.GetLastHash(),
	).WithRequest(actor.IP)

	if err := s.store.UpdateWithAudit(ctx, e, entry); err != nil {
		return nil, err
	}

	s.publish(e)
	metrics.RecordAuditEntry()
	log.Info().
		Str("encounter_id", e.ID.String()).
		Float64("total_units", e.TotalUnits).
		Msg("encounter signed")

	return e, nil
}

// Reopen transitions a signed encounter back to draft. The reason is
// mandatory and lands in the audit chain as justification.
func (s *Service) Reopen(ctx context.Context, actor Actor, id types.ID, reason string) (*domain.Encounter, error) {
	if !actor.HasCapability(coreauth.CapSignTreatments) {
		return nil, errors.Permission("you are not allowed to reopen treatments")
	}

	e, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := e.Reopen(reason); err != nil {
		return nil, err
	}

	entry := audit.NewEntry(
		audit.ActorTypeClinician, actor.ID, &actor.OrganizationID,
		audit.ActionTreatmentReopened, audit.ResourceEncounter, &e.ID,
		map[string]any{
			"status": string(e.Status),
		},
		s.audit.GetLastHash(),
	).WithJustification(reason).WithRequest(actor.IP)

	if err := s.store.UpdateWithAudit(ctx, e, entry); err != nil {
		return nil, err
	}

	s.publish(e)
	metrics.RecordAuditEntry()
	log.Info().
		Str("encounter_id", e.ID.String()).
		Str("reason", reason).
		Msg("encounter reopened")

	return e, nil
}

// BulkSignResult reports the outcome per encounter in a bulk sign
type BulkSignResult struct {
	Signed  []types.ID          `json:"signed"`
	Skipped map[types.ID]string `json:"skipped,omitempty"`
}

// BulkSign signs every signable draft in the set. Encounters that are not
// drafts or fail the sign preconditions are skipped, not fatal. Each
// signature commits with its own audit entry; a summary entry afterwards
// records only the signatures that actually persisted.
func (s *Service) BulkSign(ctx context.Context, actor Actor, ids []types.ID) (*BulkSignResult, error) {
	if !actor.HasCapability(coreauth.CapSignTreatments) {
		return nil, errors.Permission("you are not allowed to sign treatments")
	}

	result := &BulkSignResult{Skipped: make(map[types.ID]string)}

	for _, id := range ids {
		e, err := s.store.FindByID(ctx, id)
		if err != nil {
			result.Skipped[id] = "not found"
			continue
		}
		if err := e.Sign(); err != nil {
			result.Skipped[id] = err.Error()
			continue
		}

		entry := audit.NewEntry(
			audit.ActorTypeClinician, actor.ID, &actor.OrganizationID,
			audit.ActionTreatmentSigned, audit.ResourceEncounter, &e.ID,
			map[string]any{
				"status":      string(e.Status),
				"total_units": e.TotalUnits,
			},
			s.audit.GetLastHash(),
		).WithRequest(actor.IP)

		if err := s.store.UpdateWithAudit(ctx, e, entry); err != nil {
			result.Skipped[e.ID] = "failed to persist signature"
			log.Error().Err(err).Str("encounter_id", e.ID.String()).Msg("bulk sign persist failed")
			continue
		}

		s.publish(e)
		metrics.RecordAuditEntry()
		result.Signed = append(result.Signed, e.ID)
	}

	if len(result.Signed) == 0 {
		return result, nil
	}

	summary := audit.NewEntry(
		audit.ActorTypeClinician, actor.ID, &actor.OrganizationID,
		audit.ActionTreatmentBulkSigned, audit.ResourceEncounter, nil,
		map[string]any{
			"count":         len(result.Signed),
			"encounter_ids": result.Signed,
		},
		s.audit.GetLastHash(),
	).WithRequest(actor.IP)

	// The signatures above are already individually audited, so a failed
	// summary append degrades to a log line instead of failing the batch.
	if err := s.audit.Append(ctx, summary); err != nil {
		log.Error().Err(err).Msg("bulk sign summary append failed")
	} else {
		metrics.RecordAuditEntry()
	}

	return result, nil
}

// Get returns an encounter by id. Reads of signed records are logged to the
// audit chain; unlike status transitions a failed append does not block the
// read.
func (s *Service) Get(ctx context.Context, actor Actor, id types.ID) (*domain.Encounter, error) {
	if !actor.HasCapability(coreauth.CapReadTreatments) {
		return nil, errors.Permission("you are not allowed to read treatments")
	}

	e, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if e.Status == domain.StatusSigned {
		entry := audit.NewEntry(
			audit.ActorTypeClinician, actor.ID, &actor.OrganizationID,
			audit.ActionTreatmentViewed, audit.ResourceEncounter, &e.ID,
			nil, s.audit.GetLastHash(),
		).WithRequest(actor.IP)
		if err := s.audit.Append(ctx, entry); err != nil {
			log.Warn().Err(err).Str("encounter_id", e.ID.String()).Msg("access log append failed")
		} else {
			metrics.RecordAuditEntry()
		}
	}

	return e, nil
}

// List returns encounters matching the filter
func (s *Service) List(ctx context.Context, actor Actor, filter domain.ListFilter) ([]domain.Encounter, int, error) {
	if !actor.HasCapability(coreauth.CapReadTreatments) {
		return nil, 0, errors.Permission("you are not allowed to read treatments")
	}
	return s.store.List(ctx, filter)
}

// Export returns the signed encounters in the window for registry export.
// The export itself is an audited action: if the audit append fails no data
// leaves the system.
func (s *Service) Export(ctx context.Context, actor Actor, from, to *time.Time) ([]domain.Encounter, error) {
	if !actor.HasCapability(coreauth.CapRunExports) {
		return nil, errors.Permission("you are not allowed to run exports")
	}

	status := domain.StatusSigned
	var encounters []domain.Encounter
	const pageSize = 100
	for offset := 0; ; offset += pageSize {
		page, total, err := s.store.List(ctx, domain.ListFilter{
			Status: &status,
			From:   from,
			To:     to,
			Limit:  pageSize,
			Offset: offset,
		})
		if err != nil {
			return nil, err
		}
		encounters = append(encounters, page...)
		if offset+len(page) >= total || len(page) == 0 {
			break
		}
	}

	changes := map[string]any{"count": len(encounters)}
	if from != nil {
		changes["from"] = from.UTC().Format(time.RFC3339)
	}
	if to != nil {
		changes["to"] = to.UTC().Format(time.RFC3339)
	}

	entry := audit.NewEntry(
		audit.ActorTypeClinician, actor.ID, &actor.OrganizationID,
		audit.ActionDataExported, audit.ResourceExport, nil,
		changes, s.audit.GetLastHash(),
	).WithRequest(actor.IP)

	if err := s.audit.Append(ctx, entry); err != nil {
		return nil, err
	}
	metrics.RecordAuditEntry()

	log.Info().Int("count", len(encounters)).Msg("signed encounters exported")
	return encounters, nil
}

// RecordFollowup records the post-treatment follow-up on a signed encounter
func (s *Service) RecordFollowup(ctx context.Context, actor Actor, id types.ID, date time.Time, outcome string) (*domain.Encounter, error) {
	if !actor.HasCapability(coreauth.CapWriteTreatments) {
		return nil, errors.Permission("you are not allowed to document treatments")
	}

	e, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := e.SetFollowup(date, outcome); err != nil {
		return nil, err
	}

	if err := s.store.Update(ctx, e); err != nil {
		return nil, err
	}

	return e, nil
}
