package reconcile

import (
	"context"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fleetsync/internal/common"
	"github.com/ternarybob/fleetsync/internal/interfaces"
	"github.com/ternarybob/fleetsync/internal/models"
)

// Summary aggregates what one reconciliation pass did
type Summary struct {
	Total     int
	Inserted  int
	Updated   int
	Unmatched int
}

// Service matches raw records to internal entities and commits them to the
// ledger. Unmatched records are committed too, with empty entity references,
// so they stay visible for manual reconciliation.
type Service struct {
	ledger    interfaces.LedgerStorage
	directory interfaces.FleetDirectory
	logger    arbor.ILogger
}

// NewService creates the reconciliation engine
func NewService(ledger interfaces.LedgerStorage, directory interfaces.FleetDirectory, logger arbor.ILogger) *Service {
	return &Service{
		ledger:    ledger,
		directory: directory,
		logger:    logger,
	}
}

// Reconcile processes raw records for a tenant and returns the committed
// records plus a summary. Re-running over the same input is idempotent: the
// dedup key routes repeats into updates, never duplicates.
func (s *Service) Reconcile(ctx context.Context, tenant string, records []models.RawRecord) ([]*models.ReconciledRecord, *Summary, error) {
	summary := &Summary{Total: len(records)}
	out := make([]*models.ReconciledRecord, 0, len(records))

	for i := range records {
		raw := records[i]
		if err := ctx.Err(); err != nil {
			return out, summary, err
		}

		rec, err := s.reconcileOne(ctx, tenant, raw)
		if err != nil {
			return out, summary, err
		}

		switch rec.Result {
		case models.UpsertInserted:
			summary.Inserted++
		case models.UpsertUpdated:
			summary.Updated++
		}
		if !rec.Matched() {
			summary.Unmatched++
		}
		out = append(out, rec)
	}

	s.logger.Info().
		Str("tenant", tenant).
		Int("total", summary.Total).
		Int("inserted", summary.Inserted).
		Int("updated", summary.Updated).
		Int("unmatched", summary.Unmatched).
		Msg("Reconciliation completed")

	return out, summary, nil
}

func (s *Service) reconcileOne(ctx context.Context, tenant string, raw models.RawRecord) (*models.ReconciledRecord, error) {
	normalized := models.NormalizeIdentifier(raw.Identifier)

	rec := &models.ReconciledRecord{
		ID:           common.NewRecordID(),
		Tenant:       tenant,
		RawRecord:    raw,
		NormalizedID: normalized,
		DedupKey:     models.ComputeDedupKey(tenant, raw.Platform, &raw),
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}

	if normalized != "" {
		ref, err := s.directory.FindByNormalizedIdentifier(ctx, tenant, normalized)
		if err != nil {
			return nil, err
		}
		if ref != nil {
			switch ref.Kind {
			case models.EntityVehicle:
				rec.VehicleID = ref.ID
			case models.EntityDriver:
				rec.DriverID = ref.ID
			}
		} else {
			s.logger.Debug().
				Str("tenant", tenant).
				Str("identifier", normalized).
				Msg("No directory match, keeping record for manual reconciliation")
		}
	}

	result, err := s.ledger.Upsert(ctx, rec)
	if err != nil {
		return nil, err
	}
	rec.Result = result

	return rec, nil
}
