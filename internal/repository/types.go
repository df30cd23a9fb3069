package repository

import (
	"time"

	"github.com/transformhub/be-tm-approvals/internal/workflow"
)

// ── Domain records for the approval workflow engine ──────────────────────────

// ApprovalInstance is one concrete execution of a workflow for one entity.
// At most one pending instance may exist per (entity_type, entity_id); the
// storage layer enforces this at commit time.
type ApprovalInstance struct {
	ID          string                  `json:"id"`
	ProgramID   string                  `json:"program_id"`
	EntityType  string                  `json:"entity_type"`
	EntityID    string                  `json:"entity_id"`
	Status      workflow.InstanceStatus `json:"status"`
	SubmittedBy string                  `json:"submitted_by"`
	SubmittedAt time.Time               `json:"submitted_at"`
	CompletedAt *time.Time              `json:"completed_at,omitempty"`
	CreatedAt   time.Time               `json:"created_at"`
	UpdatedAt   time.Time               `json:"updated_at"`
}

// ApprovalStageRecord is a single role-gated stage within an instance,
// ordered by StageIndex. Created once at submission; only status, approver,
// comment and decided_at mutate afterwards.
type ApprovalStageRecord struct {
	ID         string               `json:"id"`
	InstanceID string               `json:"instance_id"`
	ProgramID  string               `json:"program_id"`
	StageIndex int                  `json:"stage_index"`
	Role       string               `json:"role"`
	Required   bool                 `json:"required"`
	Status     workflow.StageStatus `json:"status"`
	Approver   *string              `json:"approver,omitempty"`
	Comment    *string              `json:"comment,omitempty"`
	DecidedAt  *time.Time           `json:"decided_at,omitempty"`
	CreatedAt  time.Time            `json:"created_at"`
	UpdatedAt  time.Time            `json:"updated_at"`
}

// View projects the record for the status aggregator.
func (r *ApprovalStageRecord) View() workflow.StageView {
	return workflow.StageView{Status: r.Status, Required: r.Required}
}

// StageViews projects a stage list for workflow.ComputeStatus.
func StageViews(records []*ApprovalStageRecord) []workflow.StageView {
	views := make([]workflow.StageView, len(records))
	for i, r := range records {
		views[i] = r.View()
	}
	return views
}

// PendingStage is an active stage record joined with the entity reference of
// its instance, as listed in the approval inbox.
type PendingStage struct {
	ApprovalStageRecord
	EntityType  string    `json:"entity_type"`
	EntityID    string    `json:"entity_id"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// AuditEntry is one immutable record in the approval audit log.
type AuditEntry struct {
	ID          string         `json:"id"`
	InstanceID  string         `json:"instance_id"`
	StageID     *string        `json:"stage_id,omitempty"`
	ProgramID   string         `json:"program_id"`
	EntityType  string         `json:"entity_type"`
	EntityID    string         `json:"entity_id"`
	Action      string         `json:"action"` // submitted | approved | rejected
	PerformedBy string         `json:"performed_by"`
	PerformedAt time.Time      `json:"performed_at"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// StageAction carries the mutable decision fields applied on a stage
// transition. Nil for automatic transitions (activation, skip).
type StageAction struct {
	Approver  string
	Comment   *string
	DecidedAt time.Time
}
