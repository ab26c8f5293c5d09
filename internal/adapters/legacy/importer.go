// Package legacy imports historical treatment records from the practice's
// previous documentation system (SQL Server) so certification progress
// carries over. Imported encounters arrive already signed; the importer
// never creates drafts.
package legacy

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/denisenkom/go-mssqldb" // SQL Server driver
	"github.com/rs/zerolog/log"

	"github.com/brain-byt-es/bont-db-sub000/internal/audit"
	"github.com/brain-byt-es/bont-db-sub000/internal/encounter/domain"
	"github.com/brain-byt-es/bont-db-sub000/internal/shared/config"
	"github.com/brain-byt-es/bont-db-sub000/internal/shared/errors"
	"github.com/brain-byt-es/bont-db-sub000/internal/shared/metrics"
	"github.com/brain-byt-es/bont-db-sub000/internal/shared/types"
)

// Importer polls the legacy system for signed treatments and replays them
// into the encounter store.
type Importer struct {
	db    *sql.DB
	cfg   config.LegacyImportConfig
	repo  domain.Repository
	audit audit.Repository

	running    bool
	mu         sync.RWMutex
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	lastImport time.Time

	orgID types.ID
}

// New creates a legacy importer
func New(cfg config.LegacyImportConfig, repo domain.Repository, auditRepo audit.Repository) *Importer {
	return &Importer{
		cfg:   cfg,
		repo:  repo,
		audit: auditRepo,
		orgID: types.NewDeterministicID("legacy:organization", cfg.Host+"/"+cfg.Database),
	}
}

// Start opens the legacy connection and begins polling
func (i *Importer) Start(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.running {
		return fmt.Errorf("importer already running")
	}

	connStr := fmt.Sprintf("server=%s;port=%d;database=%s;user id=%s;password=%s",
		i.cfg.Host, i.cfg.Port, i.cfg.Database, i.cfg.User, i.cfg.Password)
	if i.cfg.SSLMode != "disable" {
		connStr += ";encrypt=true;TrustServerCertificate=true"
	}

	db, err := sql.Open("sqlserver", connStr)
	if err != nil {
		return fmt.Errorf("failed to open legacy database: %w", err)
	}

	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("failed to ping legacy database: %w", err)
	}

	i.db = db
	i.running = true
	// Full scan on first poll. Record ids are deterministic, so treatments
	// imported by an earlier run are recognized and skipped.
	i.lastImport = time.Time{}

	pollCtx, cancel := context.WithCancel(ctx)
	i.cancel = cancel

	i.wg.Add(1)
	go i.pollLoop(pollCtx)

	log.Info().Str("host", i.cfg.Host).Msg("legacy importer started")
	return nil
}

// Stop stops polling and closes the connection
func (i *Importer) Stop(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if !i.running {
		return nil
	}

	if i.cancel != nil {
		i.cancel()
	}

	done := make(chan struct{})
	go func() {
		i.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	if i.db != nil {
		i.db.Close()
	}

	i.running = false
	return nil
}

// Health checks legacy database connectivity
func (i *Importer) Health(ctx context.Context) error {
	i.mu.RLock()
	defer i.mu.RUnlock()

	if !i.running {
		return fmt.Errorf("importer not running")
	}
	return i.db.PingContext(ctx)
}

func (i *Importer) pollLoop(ctx context.Context) {
	defer i.wg.Done()

	ticker := time.NewTicker(i.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			i.mu.Lock()
			since := i.lastImport
			i.lastImport = time.Now()
			i.mu.Unlock()

			count, err := i.importBatch(ctx, since)
			if err != nil {
				log.Error().Err(err).Msg("legacy import batch failed")
				continue
			}
			if count > 0 {
				log.Info().Int("count", count).Msg("legacy treatments imported")
			}
		}
	}
}

// legacyTreatment is one row of the legacy treatment table
type legacyTreatment struct {
	RecordID      string
	PatientRef    string
	PhysicianRef  string
	Indication    string
	Product       string
	VialUnits     float64
	DilutionMl    float64
	TreatmentDate time.Time
	SignedDate    time.Time
	FollowUpDate  sql.NullTime
}

// importBatch replays treatments signed after the watermark
func (i *Importer) importBatch(ctx context.Context, since time.Time) (int, error) {
	query := `
		SELECT RecordID, PatientRef, PhysicianRef, Indication, Product,
			VialUnits, DilutionMl, TreatmentDate, SignedDate, FollowUpDate
		FROM dbo.BotulinumTreatments
		WHERE SignedDate > @since
		ORDER BY SignedDate`

	rows, err := i.db.QueryContext(ctx, query, sql.Named("since", since))
	if err != nil {
		return 0, fmt.Errorf("failed to query legacy treatments: %w", err)
	}
	defer rows.Close()

	var batch []legacyTreatment
	for rows.Next() {
		var t legacyTreatment
		err := rows.Scan(
			&t.RecordID, &t.PatientRef, &t.PhysicianRef, &t.Indication, &t.Product,
			&t.VialUnits, &t.DilutionMl, &t.TreatmentDate, &t.SignedDate, &t.FollowUpDate,
		)
		if err != nil {
			return 0, fmt.Errorf("failed to scan legacy treatment: %w", err)
		}
		batch = append(batch, t)
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("failed to read legacy treatments: %w", err)
	}

	imported := 0
	for _, t := range batch {
		sites, err := i.fetchSites(ctx, t.RecordID)
		if err != nil {
			log.Warn().Err(err).Str("record_id", t.RecordID).Msg("skipping legacy treatment")
			continue
		}
		ok, err := i.importOne(ctx, t, sites)
		if err != nil {
			log.Warn().Err(err).Str("record_id", t.RecordID).Msg("skipping legacy treatment")
			continue
		}
		if ok {
			imported++
		}
	}

	if imported > 0 {
		systemID := types.NewDeterministicID("legacy:importer", i.cfg.Host)
		entry := audit.NewEntry(
			audit.ActorTypeImporter, systemID, nil,
			audit.ActionLegacyImported, audit.ResourceEncounter, nil,
			map[string]any{"count": imported, "source": "legacy_mssql"},
			i.audit.GetLastHash(),
		)
		if err := i.audit.Append(ctx, entry); err != nil {
			return imported, fmt.Errorf("failed to audit legacy import: %w", err)
		}
		metrics.RecordAuditEntry()
		metrics.RecordLegacyImport(imported)
	}

	return imported, nil
}

// importOne replays a single legacy treatment. It reports false without
// error when the record was already imported by an earlier run.
func (i *Importer) importOne(ctx context.Context, t legacyTreatment, sites []domain.InjectionInput) (bool, error) {
	id := types.NewDeterministicID("legacy:treatment", t.RecordID)
	if _, err := i.repo.FindByID(ctx, id); err == nil {
		return false, nil
	} else if !errors.IsNotFound(err) {
		return false, err
	}

	e, err := domain.NewEncounter(domain.NewEncounterInput{
		PatientID:      i.patientID(t.PatientRef),
		OrganizationID: i.orgID,
		ProviderID:     i.providerID(t.PhysicianRef),
		Indication:     t.Indication,
		ProductName:    t.Product,
		VialSizeUnits:  t.VialUnits,
		DilutionMl:     t.DilutionMl,
		EncounterDate:  t.TreatmentDate,
		Notes:          "imported from legacy system, record " + t.RecordID,
	})
	if err != nil {
		return false, err
	}

	// Replace the generated id before injections copy it into their rows.
	e.ID = id

	if err := e.SetInjections(sites); err != nil {
		return false, err
	}
	if err := e.Sign(); err != nil {
		return false, err
	}
	if t.FollowUpDate.Valid {
		if err := e.SetFollowup(t.FollowUpDate.Time, "imported"); err != nil {
			return false, err
		}
	}
	// Preserve the historical signing time over the replay time.
	e.SignedAt = &t.SignedDate

	if err := i.repo.Save(ctx, e); err != nil {
		return false, err
	}
	return true, nil
}

// fetchSites reads the injection detail rows for one legacy treatment
func (i *Importer) fetchSites(ctx context.Context, recordID string) ([]domain.InjectionInput, error) {
	rows, err := i.db.QueryContext(ctx, `
		SELECT Muscle, Side, Units
		FROM dbo.BotulinumInjectionSites
		WHERE RecordID = @recordID`, sql.Named("recordID", recordID))
	if err != nil {
		return nil, fmt.Errorf("failed to query legacy sites: %w", err)
	}
	defer rows.Close()

	var inputs []domain.InjectionInput
	for rows.Next() {
		var muscle, side string
		var units float64
		if err := rows.Scan(&muscle, &side, &units); err != nil {
			return nil, fmt.Errorf("failed to scan legacy site: %w", err)
		}
		inputs = append(inputs, domain.InjectionInput{
			MuscleID: muscle,
			Side:     mapSide(side),
			Units:    units,
		})
	}

	return inputs, rows.Err()
}

// mapSide translates the legacy single-letter side codes
func mapSide(code string) domain.Side {
	switch code {
	case "L":
		return domain.SideLeft
	case "R":
		return domain.SideRight
	case "B":
		return domain.SideBilateral
	default:
		return domain.SideMidline
	}
}

// patientID derives a stable id from the legacy patient reference so repeat
// treatments of the same patient land on one record across importer runs.
func (i *Importer) patientID(ref string) types.ID {
	return types.NewDeterministicID("legacy:patient", ref)
}

func (i *Importer) providerID(ref string) types.ID {
	return types.NewDeterministicID("legacy:provider", ref)
}
