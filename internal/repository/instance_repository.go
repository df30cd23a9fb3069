package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/transformhub/be-tm-approvals/internal/apperrors"
	"github.com/transformhub/be-tm-approvals/internal/workflow"
)

// pgUniqueViolation is the postgres error code raised by the partial unique
// index enforcing the single-pending-instance invariant.
const pgUniqueViolation = "23505"

// CreateInstance inserts the instance and its stage records in one
// transaction. The approval_instances_single_pending index rejects a second
// pending instance for the same entity at commit time.
func (s *PostgresStore) CreateInstance(ctx context.Context, inst *ApprovalInstance, stages []*ApprovalStageRecord) error {
	return s.WithTx(ctx, func(txStore Store) error {
		tx := txStore.(*PostgresStore)

		instQuery := `
			INSERT INTO approval_instances
			    (id, program_id, entity_type, entity_id, status,
			     submitted_by, submitted_at, completed_at)
			VALUES ($1, $2, $3, $4, $5::approval_instance_status,
			        $6, $7, $8)
			RETURNING created_at, updated_at
		`

		err := tx.q.QueryRow(ctx, instQuery,
			inst.ID,
			inst.ProgramID,
			inst.EntityType,
			inst.EntityID,
			inst.Status,
			inst.SubmittedBy,
			inst.SubmittedAt,
			inst.CompletedAt,
		).Scan(&inst.CreatedAt, &inst.UpdatedAt)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
				return apperrors.ErrAlreadyPending
			}
			return apperrors.Wrap(err, apperrors.CodeInternal, "failed to create approval instance")
		}

		stageQuery := `
			INSERT INTO approval_stage_records
			    (id, instance_id, program_id,
			     stage_index, required_role, is_required,
			     status, approver, comment, decided_at)
			VALUES ($1, $2, $3,
			        $4, $5, $6,
			        $7::approval_stage_status, $8, $9, $10)
			RETURNING created_at, updated_at
		`

		for _, stage := range stages {
			stage.InstanceID = inst.ID
			stage.ProgramID = inst.ProgramID

			err := tx.q.QueryRow(ctx, stageQuery,
				stage.ID,
				stage.InstanceID,
				stage.ProgramID,
				stage.StageIndex,
				stage.Role,
				stage.Required,
				stage.Status,
				stage.Approver,
				stage.Comment,
				stage.DecidedAt,
			).Scan(&stage.CreatedAt, &stage.UpdatedAt)
			if err != nil {
				return apperrors.Wrap(err, apperrors.CodeInternal, "failed to create stage record")
			}
		}

		return nil
	})
}

const instanceColumns = `
	id, program_id, entity_type, entity_id, status,
	submitted_by, submitted_at, completed_at,
	created_at, updated_at
`

// GetInstance retrieves an instance by primary key.
func (s *PostgresStore) GetInstance(ctx context.Context, id string) (*ApprovalInstance, error) {
	query := `SELECT ` + instanceColumns + ` FROM approval_instances WHERE id = $1`

	inst, err := scanInstance(s.q.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("approval_instance", id)
	}
	return inst, err
}

// GetPendingInstance returns the pending instance for an entity, or nil when
// none exists.
func (s *PostgresStore) GetPendingInstance(ctx context.Context, entityType, entityID string) (*ApprovalInstance, error) {
	query := `
		SELECT ` + instanceColumns + `
		FROM approval_instances
		WHERE entity_type = $1 AND entity_id = $2 AND status = 'pending'
	`

	inst, err := scanInstance(s.q.QueryRow(ctx, query, entityType, entityID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return inst, err
}

// GetLatestInstance returns the most recently submitted instance for an
// entity regardless of status, or nil when the entity was never submitted.
func (s *PostgresStore) GetLatestInstance(ctx context.Context, entityType, entityID string) (*ApprovalInstance, error) {
	query := `
		SELECT ` + instanceColumns + `
		FROM approval_instances
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY submitted_at DESC, created_at DESC
		LIMIT 1
	`

	inst, err := scanInstance(s.q.QueryRow(ctx, query, entityType, entityID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return inst, err
}

// TransitionInstance is a compare-and-set status update. The WHERE clause
// guards on the expected current status so a concurrent transition cannot be
// applied twice.
func (s *PostgresStore) TransitionInstance(ctx context.Context, id string, from, to workflow.InstanceStatus, completedAt *time.Time) error {
	query := `
		UPDATE approval_instances
		SET status       = $3::approval_instance_status,
		    completed_at = $4,
		    updated_at   = NOW()
		WHERE id = $1
		  AND status = $2::approval_instance_status
		RETURNING id
	`

	var returnedID string
	err := s.q.QueryRow(ctx, query, id, from, to, completedAt).Scan(&returnedID)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperrors.Newf(apperrors.CodeConflict,
			"approval instance %s is no longer %s", id, from)
	}
	return err
}

// ── scan helper ──────────────────────────────────────────────────────────────

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInstance(row rowScanner) (*ApprovalInstance, error) {
	inst := &ApprovalInstance{}
	err := row.Scan(
		&inst.ID,
		&inst.ProgramID,
		&inst.EntityType,
		&inst.EntityID,
		&inst.Status,
		&inst.SubmittedBy,
		&inst.SubmittedAt,
		&inst.CompletedAt,
		&inst.CreatedAt,
		&inst.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return inst, nil
}
