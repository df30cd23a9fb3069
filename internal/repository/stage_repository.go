package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/transformhub/be-tm-approvals/internal/apperrors"
	"github.com/transformhub/be-tm-approvals/internal/workflow"
)

const stageColumns = `
	id, instance_id, program_id,
	stage_index, required_role, is_required,
	status, approver, comment, decided_at,
	created_at, updated_at
`

// GetStage retrieves a stage record by primary key.
func (s *PostgresStore) GetStage(ctx context.Context, id string) (*ApprovalStageRecord, error) {
	query := `SELECT ` + stageColumns + ` FROM approval_stage_records WHERE id = $1`

	stage, err := scanStage(s.q.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("approval_stage", id)
	}
	return stage, err
}

// ListStages returns all stage records of an instance ordered by stage_index.
func (s *PostgresStore) ListStages(ctx context.Context, instanceID string) ([]*ApprovalStageRecord, error) {
	query := `
		SELECT ` + stageColumns + `
		FROM approval_stage_records
		WHERE instance_id = $1
		ORDER BY stage_index ASC
	`

	rows, err := s.q.Query(ctx, query, instanceID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to list stage records")
	}
	defer rows.Close()

	var stages []*ApprovalStageRecord
	for rows.Next() {
		stage, err := scanStage(rows)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to scan stage record")
		}
		stages = append(stages, stage)
	}
	return stages, rows.Err()
}

// TransitionStage is a compare-and-set stage status update: the row is only
// touched while it still holds the expected `from` status, so of two
// concurrent deciders exactly one wins. The decision fields are written only
// when an action is given; automatic transitions (activate, skip) leave them
// untouched.
func (s *PostgresStore) TransitionStage(ctx context.Context, id string, from, to workflow.StageStatus, act *StageAction) error {
	var (
		query string
		args  []any
	)
	if act != nil {
		query = `
			UPDATE approval_stage_records
			SET status     = $3::approval_stage_status,
			    approver   = $4,
			    comment    = $5,
			    decided_at = $6,
			    updated_at = NOW()
			WHERE id = $1
			  AND status = $2::approval_stage_status
			RETURNING id
		`
		args = []any{id, from, to, act.Approver, act.Comment, act.DecidedAt}
	} else {
		query = `
			UPDATE approval_stage_records
			SET status     = $3::approval_stage_status,
			    updated_at = NOW()
			WHERE id = $1
			  AND status = $2::approval_stage_status
			RETURNING id
		`
		args = []any{id, from, to}
	}

	var returnedID string
	err := s.q.QueryRow(ctx, query, args...).Scan(&returnedID)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperrors.Newf(apperrors.CodeConflict,
			"approval stage %s is no longer %s", id, from)
	}
	return err
}

// ListActiveStagesForRole returns the approval inbox for a role within a
// program: active stages of pending instances, oldest submission first.
func (s *PostgresStore) ListActiveStagesForRole(ctx context.Context, programID, role string, entityType *string) ([]*PendingStage, error) {
	query := `
		SELECT s.id, s.instance_id, s.program_id,
		       s.stage_index, s.required_role, s.is_required,
		       s.status, s.approver, s.comment, s.decided_at,
		       s.created_at, s.updated_at,
		       i.entity_type, i.entity_id, i.submitted_at
		FROM approval_stage_records s
		JOIN approval_instances i ON i.id = s.instance_id
		WHERE s.program_id = $1
		  AND s.required_role = $2
		  AND s.status = 'active'
		  AND i.status = 'pending'
		  AND ($3::text IS NULL OR i.entity_type = $3)
		ORDER BY i.submitted_at ASC, s.created_at ASC
	`

	rows, err := s.q.Query(ctx, query, programID, role, entityType)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to list pending approvals")
	}
	defer rows.Close()

	var pending []*PendingStage
	for rows.Next() {
		p := &PendingStage{}
		err := rows.Scan(
			&p.ID,
			&p.InstanceID,
			&p.ProgramID,
			&p.StageIndex,
			&p.Role,
			&p.Required,
			&p.Status,
			&p.Approver,
			&p.Comment,
			&p.DecidedAt,
			&p.CreatedAt,
			&p.UpdatedAt,
			&p.EntityType,
			&p.EntityID,
			&p.SubmittedAt,
		)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to scan pending approval")
		}
		pending = append(pending, p)
	}
	return pending, rows.Err()
}

// ── scan helper ──────────────────────────────────────────────────────────────

func scanStage(row rowScanner) (*ApprovalStageRecord, error) {
	stage := &ApprovalStageRecord{}
	err := row.Scan(
		&stage.ID,
		&stage.InstanceID,
		&stage.ProgramID,
		&stage.StageIndex,
		&stage.Role,
		&stage.Required,
		&stage.Status,
		&stage.Approver,
		&stage.Comment,
		&stage.DecidedAt,
		&stage.CreatedAt,
		&stage.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return stage, nil
}
