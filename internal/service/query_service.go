package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/transformhub/be-tm-approvals/internal/repository"
	"github.com/transformhub/be-tm-approvals/internal/workflow"
)

// QueryService exposes the two read views of the engine: the approval inbox
// ("my pending work") and the per-entity status banner. Both read the latest
// committed state; nothing is cached.
type QueryService struct {
	store   repository.Store
	catalog EntityCatalog
	log     zerolog.Logger
}

// NewQueryService creates a QueryService.
func NewQueryService(store repository.Store, catalog EntityCatalog, log zerolog.Logger) *QueryService {
	return &QueryService{store: store, catalog: catalog, log: log}
}

// PendingItem is one approval inbox row: an active stage record plus the
// entity reference and, when the catalog answers, display metadata.
type PendingItem struct {
	Stage       repository.ApprovalStageRecord `json:"stage"`
	EntityType  string                         `json:"entity_type"`
	EntityID    string                         `json:"entity_id"`
	SubmittedAt string                         `json:"submitted_at"`
	Entity      *EntityMeta                    `json:"entity,omitempty"`
}

// PendingFor lists the active stages awaiting a role within a program,
// optionally filtered to one entity type. Entity metadata is enriched
// best-effort: a catalog failure degrades the row to bare identifiers
// instead of failing the inbox.
func (s *QueryService) PendingFor(ctx context.Context, programID, role string, entityType string) ([]*PendingItem, error) {
	var typeFilter *string
	if entityType != "" {
		typeFilter = &entityType
	}

	stages, err := s.store.ListActiveStagesForRole(ctx, programID, role, typeFilter)
	if err != nil {
		return nil, err
	}

	items := make([]*PendingItem, 0, len(stages))
	for _, st := range stages {
		item := &PendingItem{
			Stage:       st.ApprovalStageRecord,
			EntityType:  st.EntityType,
			EntityID:    st.EntityID,
			SubmittedAt: st.SubmittedAt.Format(time.RFC3339),
		}
		meta, err := s.catalog.Describe(ctx, st.EntityType, st.EntityID)
		if err != nil {
			s.log.Warn().Err(err).
				Str("entity_type", st.EntityType).
				Str("entity_id", st.EntityID).
				Msg("Could not fetch entity metadata for inbox row")
		} else {
			item.Entity = meta
		}
		items = append(items, item)
	}
	return items, nil
}

// EntityApprovalStatus is the per-entity status banner payload.
type EntityApprovalStatus struct {
	Status     workflow.InstanceStatus           `json:"status"`
	InstanceID string                            `json:"instance_id,omitempty"`
	Records    []*repository.ApprovalStageRecord `json:"records"`
}

// StatusOf returns the approval status and stage records of an entity's
// latest instance. The status is recomputed from the raw records; a mismatch
// with the stored field is logged as an error and the recomputed value wins.
// Fails with NotFound when the entity is unknown to the catalog.
func (s *QueryService) StatusOf(ctx context.Context, entityType, entityID string) (*EntityApprovalStatus, error) {
	if _, err := s.catalog.Describe(ctx, entityType, entityID); err != nil {
		return nil, err
	}

	inst, err := s.store.GetLatestInstance(ctx, entityType, entityID)
	if err != nil {
		return nil, err
	}
	if inst == nil {
		return &EntityApprovalStatus{
			Status:  workflow.InstanceNotSubmitted,
			Records: []*repository.ApprovalStageRecord{},
		}, nil
	}

	records, err := s.store.ListStages(ctx, inst.ID)
	if err != nil {
		return nil, err
	}

	computed := workflow.ComputeStatus(repository.StageViews(records))
	if computed != inst.Status {
		s.log.Error().
			Str("instance_id", inst.ID).
			Str("stored", string(inst.Status)).
			Str("computed", string(computed)).
			Msg("Stored instance status disagrees with aggregation")
	}

	return &EntityApprovalStatus{
		Status:     computed,
		InstanceID: inst.ID,
		Records:    records,
	}, nil
}

// HistoryOf returns the full audit trail for an entity, oldest first.
func (s *QueryService) HistoryOf(ctx context.Context, entityType, entityID string) ([]*repository.AuditEntry, error) {
	return s.store.ListAuditByEntity(ctx, entityType, entityID)
}
