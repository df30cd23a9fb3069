package repository

import (
	"context"
	"encoding/json"

	"github.com/transformhub/be-tm-approvals/internal/apperrors"
)

// AppendAudit inserts one audit entry. The audit log is append-only; no
// update or delete operation is exposed.
func (s *PostgresStore) AppendAudit(ctx context.Context, entry *AuditEntry) error {
	var metadataJSON []byte
	if entry.Metadata != nil {
		var err error
		metadataJSON, err = json.Marshal(entry.Metadata)
		if err != nil {
			return apperrors.Wrap(err, apperrors.CodeInternal, "failed to marshal audit metadata")
		}
	}

	query := `
		INSERT INTO approval_audit_log
		    (id, instance_id, stage_id, program_id,
		     entity_type, entity_id,
		     action, performed_by, metadata)
		VALUES ($1, $2, $3, $4,
		        $5, $6,
		        $7, $8, $9)
		RETURNING performed_at
	`

	return s.q.QueryRow(ctx, query,
		entry.ID,
		entry.InstanceID,
		entry.StageID,
		entry.ProgramID,
		entry.EntityType,
		entry.EntityID,
		entry.Action,
		entry.PerformedBy,
		metadataJSON,
	).Scan(&entry.PerformedAt)
}

// ListAuditByEntity returns the full audit trail for an entity, oldest first.
func (s *PostgresStore) ListAuditByEntity(ctx context.Context, entityType, entityID string) ([]*AuditEntry, error) {
	query := `
		SELECT id, instance_id, stage_id, program_id,
		       entity_type, entity_id,
		       action, performed_by, performed_at, metadata
		FROM approval_audit_log
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY performed_at ASC
	`

	rows, err := s.q.Query(ctx, query, entityType, entityID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to list audit log")
	}
	defer rows.Close()

	var entries []*AuditEntry
	for rows.Next() {
		entry := &AuditEntry{}
		var metadataJSON []byte

		err := rows.Scan(
			&entry.ID,
			&entry.InstanceID,
			&entry.StageID,
			&entry.ProgramID,
			&entry.EntityType,
			&entry.EntityID,
			&entry.Action,
			&entry.PerformedBy,
			&entry.PerformedAt,
			&metadataJSON,
		)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to scan audit entry")
		}
		if metadataJSON != nil {
			if err := json.Unmarshal(metadataJSON, &entry.Metadata); err != nil {
				return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to unmarshal audit metadata")
			}
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
