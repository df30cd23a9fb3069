package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/transformhub/be-tm-approvals/internal/apperrors"
	"github.com/transformhub/be-tm-approvals/internal/repository"
	"github.com/transformhub/be-tm-approvals/internal/workflow"
)

// SubmissionService opens approval instances: it materializes the stage
// records from the workflow definition and activates the first stage whose
// role has an eligible approver.
type SubmissionService struct {
	store    repository.Store
	registry *workflow.Registry
	roster   RosterLookup
	events   EventSink
	log      zerolog.Logger
}

// NewSubmissionService creates a SubmissionService.
func NewSubmissionService(
	store repository.Store,
	registry *workflow.Registry,
	roster RosterLookup,
	events EventSink,
	log zerolog.Logger,
) *SubmissionService {
	return &SubmissionService{
		store:    store,
		registry: registry,
		roster:   roster,
		events:   events,
		log:      log,
	}
}

// Submit opens a new approval instance for an entity.
//
// Stage 0 is activated unless its role has no eligible approver, in which
// case it is skipped and the next stage considered, recursively. When every
// stage is skipped the instance completes as approved immediately. A second
// submission while a pending instance exists fails with ErrAlreadyPending;
// the storage layer enforces the same invariant at commit time, so the
// pre-check here only improves the error path.
func (s *SubmissionService) Submit(
	ctx context.Context,
	programID, entityType, entityID, submittedBy string,
) (*repository.ApprovalInstance, []*repository.ApprovalStageRecord, error) {
	if entityID == "" {
		return nil, nil, apperrors.InvalidInput("entity_id", "entity id is required")
	}

	specs, err := s.registry.Resolve(entityType)
	if err != nil {
		return nil, nil, err
	}

	existing, err := s.store.GetPendingInstance(ctx, entityType, entityID)
	if err != nil {
		return nil, nil, err
	}
	if existing != nil {
		return nil, nil, apperrors.ErrAlreadyPending
	}

	now := time.Now()
	inst := &repository.ApprovalInstance{
		ID:          uuid.NewString(),
		ProgramID:   programID,
		EntityType:  entityType,
		EntityID:    entityID,
		Status:      workflow.InstancePending,
		SubmittedBy: submittedBy,
		SubmittedAt: now,
	}

	stages := make([]*repository.ApprovalStageRecord, len(specs))
	for i, spec := range specs {
		stages[i] = &repository.ApprovalStageRecord{
			ID:         uuid.NewString(),
			StageIndex: i,
			Role:       spec.Role,
			Required:   spec.Required,
			Status:     workflow.StageWaiting,
		}
	}

	// Skip cascade: activate the first stage with an eligible approver.
	activated := -1
	for i, stage := range stages {
		eligible, err := s.roster.HasEligibleApprover(ctx, stage.Role, programID)
		if err != nil {
			return nil, nil, apperrors.Wrap(err, apperrors.CodeInternal, "roster lookup failed")
		}
		if eligible {
			stage.Status = workflow.StageActive
			activated = i
			break
		}
		stage.Status = workflow.StageSkipped
	}
	if activated < 0 {
		// Every stage skipped: the instance completes immediately.
		inst.Status = workflow.InstanceApproved
		inst.CompletedAt = &now
	}

	if err := s.store.CreateInstance(ctx, inst, stages); err != nil {
		return nil, nil, err
	}

	s.log.Info().
		Str("instance_id", inst.ID).
		Str("entity_type", entityType).
		Str("entity_id", entityID).
		Str("status", string(inst.Status)).
		Int("stages", len(stages)).
		Msg("Approval instance created")

	s.appendAudit(ctx, &repository.AuditEntry{
		ID:          uuid.NewString(),
		InstanceID:  inst.ID,
		ProgramID:   programID,
		EntityType:  entityType,
		EntityID:    entityID,
		Action:      "submitted",
		PerformedBy: submittedBy,
		Metadata: map[string]any{
			"total_stages": len(stages),
			"status":       string(inst.Status),
		},
	})

	s.events.Publish(ctx, ApprovalEvent{
		Type:       "submitted",
		InstanceID: inst.ID,
		ProgramID:  programID,
		EntityType: entityType,
		EntityID:   entityID,
		Actor:      submittedBy,
	})
	if inst.Status == workflow.InstanceApproved {
		s.events.Publish(ctx, ApprovalEvent{
			Type:       "approved",
			InstanceID: inst.ID,
			ProgramID:  programID,
			EntityType: entityType,
			EntityID:   entityID,
		})
	}

	return inst, stages, nil
}

// appendAudit writes an audit entry and logs a warning on failure. Audit is
// best-effort; it never fails the submission.
func (s *SubmissionService) appendAudit(ctx context.Context, entry *repository.AuditEntry) {
	if err := s.store.AppendAudit(ctx, entry); err != nil {
		s.log.Warn().Err(err).
			Str("instance_id", entry.InstanceID).
			Str("action", entry.Action).
			Msg("Failed to write audit log entry")
	}
}
