package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/transformhub/be-tm-approvals/internal/apperrors"
	"github.com/transformhub/be-tm-approvals/internal/repository"
	"github.com/transformhub/be-tm-approvals/internal/workflow"
)

// DecisionService applies approve/reject decisions to the active stage of an
// approval instance. One generic processor serves every entity type; the
// stage sequence itself is declarative data owned by the registry.
type DecisionService struct {
	store  repository.Store
	roster RosterLookup
	events EventSink
	log    zerolog.Logger
}

// NewDecisionService creates a DecisionService.
func NewDecisionService(store repository.Store, roster RosterLookup, events EventSink, log zerolog.Logger) *DecisionService {
	return &DecisionService{store: store, roster: roster, events: events, log: log}
}

// Decide applies one decision to a stage record.
//
// The target stage must be the instance's active stage and the actor's role
// must match the stage's required role. Approval advances the workflow to
// the next activatable stage (skipping roles with no eligible approver) and
// completes the instance when none remains. Rejection requires a comment,
// skips every subsequent stage and terminates the instance.
//
// The read-check-write-cascade sequence runs inside one store transaction;
// the decisive stage transition is additionally compare-and-set, so of two
// concurrent decisions on the same stage exactly one succeeds and the other
// observes the post-mutation state.
func (s *DecisionService) Decide(
	ctx context.Context,
	stageRecordID string,
	decision workflow.Decision,
	actor Actor,
	comment string,
) (*repository.ApprovalInstance, error) {
	if !decision.Valid() {
		return nil, apperrors.InvalidInput("decision", "must be approved or rejected")
	}
	if actor.ID == "" {
		return nil, apperrors.InvalidInput("actor", "acting approver is required")
	}

	var (
		inst   *repository.ApprovalInstance
		stage  *repository.ApprovalStageRecord
		events []ApprovalEvent
	)

	err := s.store.WithTx(ctx, func(tx repository.Store) error {
		var err error
		stage, err = tx.GetStage(ctx, stageRecordID)
		if err != nil {
			return err
		}
		inst, err = tx.GetInstance(ctx, stage.InstanceID)
		if err != nil {
			return err
		}

		if stage.Status.Terminal() || inst.Status.Terminal() {
			return apperrors.ErrAlreadyDecided
		}
		if stage.Status != workflow.StageActive {
			return apperrors.ErrStageNotActive
		}
		if actor.Role != stage.Role {
			return apperrors.ErrRoleMismatch
		}
		if decision == workflow.DecisionRejected && comment == "" {
			return apperrors.ErrCommentRequired
		}

		now := time.Now()
		act := &repository.StageAction{Approver: actor.ID, DecidedAt: now}
		if comment != "" {
			act.Comment = &comment
		}

		target := workflow.StageApproved
		if decision == workflow.DecisionRejected {
			target = workflow.StageRejected
		}
		if err := tx.TransitionStage(ctx, stage.ID, workflow.StageActive, target, act); err != nil {
			// Lost the race: the stage was decided between read and write.
			if apperrors.CodeOf(err) == apperrors.CodeConflict {
				return apperrors.ErrAlreadyDecided
			}
			return err
		}
		stage.Status = target

		if decision == workflow.DecisionRejected {
			events, err = s.reject(ctx, tx, inst, stage, now)
		} else {
			events, err = s.advance(ctx, tx, inst, stage, now)
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("instance_id", inst.ID).
		Int("stage_index", stage.StageIndex).
		Str("decision", string(decision)).
		Str("approver", actor.ID).
		Str("status", string(inst.Status)).
		Msg("Approval decision applied")

	s.appendAudit(ctx, inst, stage, string(decision), actor, comment)
	for _, ev := range events {
		s.events.Publish(ctx, ev)
	}

	return inst, nil
}

// reject skips every waiting stage after the rejected one and terminates the
// instance. Runs inside the decision transaction.
func (s *DecisionService) reject(
	ctx context.Context,
	tx repository.Store,
	inst *repository.ApprovalInstance,
	rejected *repository.ApprovalStageRecord,
	now time.Time,
) ([]ApprovalEvent, error) {
	stages, err := tx.ListStages(ctx, inst.ID)
	if err != nil {
		return nil, err
	}
	for _, stage := range stages {
		if stage.StageIndex <= rejected.StageIndex || stage.Status != workflow.StageWaiting {
			continue
		}
		if err := tx.TransitionStage(ctx, stage.ID, workflow.StageWaiting, workflow.StageSkipped, nil); err != nil {
			return nil, err
		}
	}

	if err := tx.TransitionInstance(ctx, inst.ID, workflow.InstancePending, workflow.InstanceRejected, &now); err != nil {
		return nil, err
	}
	inst.Status = workflow.InstanceRejected
	inst.CompletedAt = &now

	return []ApprovalEvent{{
		Type:       "rejected",
		InstanceID: inst.ID,
		ProgramID:  inst.ProgramID,
		EntityType: inst.EntityType,
		EntityID:   inst.EntityID,
		StageIndex: &rejected.StageIndex,
	}}, nil
}

// advance activates the next stage with an eligible approver, skipping the
// rest, and completes the instance when no stage remains. Runs inside the
// decision transaction.
func (s *DecisionService) advance(
	ctx context.Context,
	tx repository.Store,
	inst *repository.ApprovalInstance,
	approved *repository.ApprovalStageRecord,
	now time.Time,
) ([]ApprovalEvent, error) {
	stages, err := tx.ListStages(ctx, inst.ID)
	if err != nil {
		return nil, err
	}

	events := []ApprovalEvent{{
		Type:       "stage_approved",
		InstanceID: inst.ID,
		ProgramID:  inst.ProgramID,
		EntityType: inst.EntityType,
		EntityID:   inst.EntityID,
		StageIndex: &approved.StageIndex,
	}}

	activated := false
	for _, stage := range stages {
		if stage.StageIndex <= approved.StageIndex || stage.Status != workflow.StageWaiting {
			continue
		}
		eligible, err := s.roster.HasEligibleApprover(ctx, stage.Role, inst.ProgramID)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.CodeInternal, "roster lookup failed")
		}
		if eligible {
			if err := tx.TransitionStage(ctx, stage.ID, workflow.StageWaiting, workflow.StageActive, nil); err != nil {
				return nil, err
			}
			activated = true
			break
		}
		if err := tx.TransitionStage(ctx, stage.ID, workflow.StageWaiting, workflow.StageSkipped, nil); err != nil {
			return nil, err
		}
		idx := stage.StageIndex
		events = append(events, ApprovalEvent{
			Type:       "stage_skipped",
			InstanceID: inst.ID,
			ProgramID:  inst.ProgramID,
			EntityType: inst.EntityType,
			EntityID:   inst.EntityID,
			StageIndex: &idx,
		})
	}

	if !activated {
		if err := tx.TransitionInstance(ctx, inst.ID, workflow.InstancePending, workflow.InstanceApproved, &now); err != nil {
			return nil, err
		}
		inst.Status = workflow.InstanceApproved
		inst.CompletedAt = &now
		events = append(events, ApprovalEvent{
			Type:       "approved",
			InstanceID: inst.ID,
			ProgramID:  inst.ProgramID,
			EntityType: inst.EntityType,
			EntityID:   inst.EntityID,
		})
	}

	return events, nil
}

// appendAudit records the decision in the audit log, best-effort.
func (s *DecisionService) appendAudit(
	ctx context.Context,
	inst *repository.ApprovalInstance,
	stage *repository.ApprovalStageRecord,
	decision string,
	actor Actor,
	comment string,
) {
	metadata := map[string]any{
		"stage_index": stage.StageIndex,
		"role":        stage.Role,
		"status":      string(inst.Status),
	}
	if comment != "" {
		metadata["comment"] = comment
	}

	err := s.store.AppendAudit(ctx, &repository.AuditEntry{
		ID:          uuid.NewString(),
		InstanceID:  inst.ID,
		StageID:     &stage.ID,
		ProgramID:   inst.ProgramID,
		EntityType:  inst.EntityType,
		EntityID:    inst.EntityID,
		Action:      decision,
		PerformedBy: actor.ID,
		Metadata:    metadata,
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		s.log.Warn().Err(err).
			Str("instance_id", inst.ID).
			Str("action", decision).
			Msg("Failed to write audit log entry")
	}
}
