// Package repository persists approval instances, stage records and the audit
// log. The Store interface is implemented by PostgresStore for production and
// by MockStore for tests.
package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/transformhub/be-tm-approvals/internal/database"
	"github.com/transformhub/be-tm-approvals/internal/workflow"
)

// Store is the persistence boundary of the approval engine.
//
// Status transitions are compare-and-set: Transition* methods only succeed
// when the row still holds the expected `from` status, so of two concurrent
// writers exactly one wins. WithTx runs fn against a store view whose
// mutations commit atomically; the decision path executes entirely inside it.
type Store interface {
	WithTx(ctx context.Context, fn func(Store) error) error

	// CreateInstance inserts an instance and all its stage records as one
	// atomic unit. Fails with apperrors.ErrAlreadyPending when a pending
	// instance already exists for the same (entity_type, entity_id).
	CreateInstance(ctx context.Context, inst *ApprovalInstance, stages []*ApprovalStageRecord) error
	GetInstance(ctx context.Context, id string) (*ApprovalInstance, error)
	// GetPendingInstance returns the pending instance for an entity, or nil
	// when none exists.
	GetPendingInstance(ctx context.Context, entityType, entityID string) (*ApprovalInstance, error)
	// GetLatestInstance returns the most recently submitted instance for an
	// entity regardless of status, or nil when the entity was never submitted.
	GetLatestInstance(ctx context.Context, entityType, entityID string) (*ApprovalInstance, error)
	// TransitionInstance moves an instance from one status to another,
	// failing with a conflict when the stored status no longer matches.
	TransitionInstance(ctx context.Context, id string, from, to workflow.InstanceStatus, completedAt *time.Time) error

	GetStage(ctx context.Context, id string) (*ApprovalStageRecord, error)
	// ListStages returns all stage records of an instance ordered by stage_index.
	ListStages(ctx context.Context, instanceID string) ([]*ApprovalStageRecord, error)
	// TransitionStage moves a stage from one status to another, recording the
	// action when given. Fails with a conflict when the stored status no
	// longer matches `from`.
	TransitionStage(ctx context.Context, id string, from, to workflow.StageStatus, act *StageAction) error
	// ListActiveStagesForRole returns active stages of pending instances for
	// a role within a program, optionally filtered to one entity type.
	ListActiveStagesForRole(ctx context.Context, programID, role string, entityType *string) ([]*PendingStage, error)

	AppendAudit(ctx context.Context, entry *AuditEntry) error
	ListAuditByEntity(ctx context.Context, entityType, entityID string) ([]*AuditEntry, error)
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx, letting the same
// repository methods run inside and outside a transaction.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore implements Store on PostgreSQL. Method implementations are
// split across instance_repository.go, stage_repository.go and
// audit_repository.go.
type PostgresStore struct {
	db *database.DB
	q  querier
}

// NewPostgresStore creates a store backed by the given database pool.
func NewPostgresStore(db *database.DB) *PostgresStore {
	return &PostgresStore{db: db, q: db.Pool}
}

// WithTx runs fn against a transaction-bound store. A nested call reuses the
// surrounding transaction.
func (s *PostgresStore) WithTx(ctx context.Context, fn func(Store) error) error {
	if _, ok := s.q.(pgx.Tx); ok {
		return fn(s)
	}
	return s.db.InTransaction(ctx, func(tx pgx.Tx) error {
		return fn(&PostgresStore{db: s.db, q: tx})
	})
}
