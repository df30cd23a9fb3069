// Package service implements the approval workflow engine: submission,
// stage decisions and the query surface. Persistence goes through
// repository.Store; external collaborators are consumed behind the narrow
// interfaces below so tests can substitute fakes.
package service

import "context"

// RosterLookup resolves whether anyone can act on a role within a program.
// Used by the skip cascade: a stage whose role has no eligible approver is
// bypassed automatically.
type RosterLookup interface {
	HasEligibleApprover(ctx context.Context, role, programID string) (bool, error)
}

// EntityMeta is the display metadata attached to inbox rows.
type EntityMeta struct {
	Title string `json:"title"`
	Code  string `json:"code"`
}

// EntityCatalog supplies display metadata for entities owned by external
// repositories.
type EntityCatalog interface {
	Describe(ctx context.Context, entityType, entityID string) (*EntityMeta, error)
}

// ApprovalEvent is published to the notification sink on every workflow
// mutation.
type ApprovalEvent struct {
	Type       string         `json:"type"` // submitted | stage_approved | stage_skipped | approved | rejected
	InstanceID string         `json:"instance_id"`
	ProgramID  string         `json:"program_id"`
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	Actor      string         `json:"actor,omitempty"`
	StageIndex *int           `json:"stage_index,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// EventSink receives approval events. Implementations are fire-and-forget:
// they never return errors and must not block workflow operations on
// delivery.
type EventSink interface {
	Publish(ctx context.Context, event ApprovalEvent)
}

// NopSink discards events. Used when notifications are disabled.
type NopSink struct{}

func (NopSink) Publish(context.Context, ApprovalEvent) {}

// Actor identifies the person performing a decision.
type Actor struct {
	ID   string
	Role string
}
