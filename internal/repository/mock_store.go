package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/transformhub/be-tm-approvals/internal/apperrors"
	"github.com/transformhub/be-tm-approvals/internal/workflow"
)

// MockStore implements Store with in-memory maps for tests. All operations
// run under one mutex, and WithTx holds that mutex for the whole closure, so
// the compare-and-set semantics of the Transition* methods match the
// postgres implementation under concurrent callers.
type MockStore struct {
	mu   sync.Mutex
	data *mockData
}

type mockData struct {
	instances map[string]*ApprovalInstance
	stages    map[string]*ApprovalStageRecord
	audit     []*AuditEntry
}

// NewMockStore creates an empty in-memory store.
func NewMockStore() *MockStore {
	return &MockStore{data: &mockData{
		instances: make(map[string]*ApprovalInstance),
		stages:    make(map[string]*ApprovalStageRecord),
	}}
}

func (m *MockStore) WithTx(ctx context.Context, fn func(Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(&mockTx{data: m.data})
}

func (m *MockStore) CreateInstance(ctx context.Context, inst *ApprovalInstance, stages []*ApprovalStageRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.createInstance(inst, stages)
}

func (m *MockStore) GetInstance(ctx context.Context, id string) (*ApprovalInstance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.getInstance(id)
}

func (m *MockStore) GetPendingInstance(ctx context.Context, entityType, entityID string) (*ApprovalInstance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.getPendingInstance(entityType, entityID)
}

func (m *MockStore) GetLatestInstance(ctx context.Context, entityType, entityID string) (*ApprovalInstance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.getLatestInstance(entityType, entityID)
}

func (m *MockStore) TransitionInstance(ctx context.Context, id string, from, to workflow.InstanceStatus, completedAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.transitionInstance(id, from, to, completedAt)
}

func (m *MockStore) GetStage(ctx context.Context, id string) (*ApprovalStageRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.getStage(id)
}

func (m *MockStore) ListStages(ctx context.Context, instanceID string) ([]*ApprovalStageRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.listStages(instanceID)
}

func (m *MockStore) TransitionStage(ctx context.Context, id string, from, to workflow.StageStatus, act *StageAction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.transitionStage(id, from, to, act)
}

func (m *MockStore) ListActiveStagesForRole(ctx context.Context, programID, role string, entityType *string) ([]*PendingStage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.listActiveStagesForRole(programID, role, entityType)
}

func (m *MockStore) AppendAudit(ctx context.Context, entry *AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.appendAudit(entry)
}

func (m *MockStore) ListAuditByEntity(ctx context.Context, entityType, entityID string) ([]*AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.listAuditByEntity(entityType, entityID)
}

// mockTx is the store view handed to WithTx closures. The surrounding
// MockStore already holds the mutex, so methods operate lock-free.
type mockTx struct {
	data *mockData
}

func (t *mockTx) WithTx(ctx context.Context, fn func(Store) error) error {
	return fn(t)
}

func (t *mockTx) CreateInstance(ctx context.Context, inst *ApprovalInstance, stages []*ApprovalStageRecord) error {
	return t.data.createInstance(inst, stages)
}

func (t *mockTx) GetInstance(ctx context.Context, id string) (*ApprovalInstance, error) {
	return t.data.getInstance(id)
}

func (t *mockTx) GetPendingInstance(ctx context.Context, entityType, entityID string) (*ApprovalInstance, error) {
	return t.data.getPendingInstance(entityType, entityID)
}

func (t *mockTx) GetLatestInstance(ctx context.Context, entityType, entityID string) (*ApprovalInstance, error) {
	return t.data.getLatestInstance(entityType, entityID)
}

func (t *mockTx) TransitionInstance(ctx context.Context, id string, from, to workflow.InstanceStatus, completedAt *time.Time) error {
	return t.data.transitionInstance(id, from, to, completedAt)
}

func (t *mockTx) GetStage(ctx context.Context, id string) (*ApprovalStageRecord, error) {
	return t.data.getStage(id)
}

func (t *mockTx) ListStages(ctx context.Context, instanceID string) ([]*ApprovalStageRecord, error) {
	return t.data.listStages(instanceID)
}

func (t *mockTx) TransitionStage(ctx context.Context, id string, from, to workflow.StageStatus, act *StageAction) error {
	return t.data.transitionStage(id, from, to, act)
}

func (t *mockTx) ListActiveStagesForRole(ctx context.Context, programID, role string, entityType *string) ([]*PendingStage, error) {
	return t.data.listActiveStagesForRole(programID, role, entityType)
}

func (t *mockTx) AppendAudit(ctx context.Context, entry *AuditEntry) error {
	return t.data.appendAudit(entry)
}

func (t *mockTx) ListAuditByEntity(ctx context.Context, entityType, entityID string) ([]*AuditEntry, error) {
	return t.data.listAuditByEntity(entityType, entityID)
}

// ── shared in-memory operations ──────────────────────────────────────────────

func (d *mockData) createInstance(inst *ApprovalInstance, stages []*ApprovalStageRecord) error {
	for _, existing := range d.instances {
		if existing.EntityType == inst.EntityType &&
			existing.EntityID == inst.EntityID &&
			existing.Status == workflow.InstancePending &&
			inst.Status == workflow.InstancePending {
			return apperrors.ErrAlreadyPending
		}
	}

	now := time.Now()
	inst.CreatedAt = now
	inst.UpdatedAt = now
	d.instances[inst.ID] = cloneInstance(inst)

	for _, stage := range stages {
		stage.InstanceID = inst.ID
		stage.ProgramID = inst.ProgramID
		stage.CreatedAt = now
		stage.UpdatedAt = now
		d.stages[stage.ID] = cloneStage(stage)
	}
	return nil
}

func (d *mockData) getInstance(id string) (*ApprovalInstance, error) {
	inst, ok := d.instances[id]
	if !ok {
		return nil, apperrors.NotFound("approval_instance", id)
	}
	return cloneInstance(inst), nil
}

func (d *mockData) getPendingInstance(entityType, entityID string) (*ApprovalInstance, error) {
	for _, inst := range d.instances {
		if inst.EntityType == entityType && inst.EntityID == entityID && inst.Status == workflow.InstancePending {
			return cloneInstance(inst), nil
		}
	}
	return nil, nil
}

func (d *mockData) getLatestInstance(entityType, entityID string) (*ApprovalInstance, error) {
	var latest *ApprovalInstance
	for _, inst := range d.instances {
		if inst.EntityType != entityType || inst.EntityID != entityID {
			continue
		}
		if latest == nil || inst.SubmittedAt.After(latest.SubmittedAt) ||
			(inst.SubmittedAt.Equal(latest.SubmittedAt) && inst.CreatedAt.After(latest.CreatedAt)) {
			latest = inst
		}
	}
	if latest == nil {
		return nil, nil
	}
	return cloneInstance(latest), nil
}

func (d *mockData) transitionInstance(id string, from, to workflow.InstanceStatus, completedAt *time.Time) error {
	inst, ok := d.instances[id]
	if !ok {
		return apperrors.NotFound("approval_instance", id)
	}
	if inst.Status != from {
		return apperrors.Newf(apperrors.CodeConflict,
			"approval instance %s is no longer %s", id, from)
	}
	inst.Status = to
	inst.CompletedAt = completedAt
	inst.UpdatedAt = time.Now()
	return nil
}

func (d *mockData) getStage(id string) (*ApprovalStageRecord, error) {
	stage, ok := d.stages[id]
	if !ok {
		return nil, apperrors.NotFound("approval_stage", id)
	}
	return cloneStage(stage), nil
}

func (d *mockData) listStages(instanceID string) ([]*ApprovalStageRecord, error) {
	var stages []*ApprovalStageRecord
	for _, stage := range d.stages {
		if stage.InstanceID == instanceID {
			stages = append(stages, cloneStage(stage))
		}
	}
	sort.Slice(stages, func(i, j int) bool {
		return stages[i].StageIndex < stages[j].StageIndex
	})
	return stages, nil
}

func (d *mockData) transitionStage(id string, from, to workflow.StageStatus, act *StageAction) error {
	stage, ok := d.stages[id]
	if !ok {
		return apperrors.NotFound("approval_stage", id)
	}
	if stage.Status != from {
		return apperrors.Newf(apperrors.CodeConflict,
			"approval stage %s is no longer %s", id, from)
	}
	stage.Status = to
	if act != nil {
		approver := act.Approver
		decidedAt := act.DecidedAt
		stage.Approver = &approver
		stage.Comment = act.Comment
		stage.DecidedAt = &decidedAt
	}
	stage.UpdatedAt = time.Now()
	return nil
}

func (d *mockData) listActiveStagesForRole(programID, role string, entityType *string) ([]*PendingStage, error) {
	var pending []*PendingStage
	for _, stage := range d.stages {
		if stage.ProgramID != programID || stage.Role != role || stage.Status != workflow.StageActive {
			continue
		}
		inst, ok := d.instances[stage.InstanceID]
		if !ok || inst.Status != workflow.InstancePending {
			continue
		}
		if entityType != nil && inst.EntityType != *entityType {
			continue
		}
		pending = append(pending, &PendingStage{
			ApprovalStageRecord: *cloneStage(stage),
			EntityType:          inst.EntityType,
			EntityID:            inst.EntityID,
			SubmittedAt:         inst.SubmittedAt,
		})
	}
	sort.Slice(pending, func(i, j int) bool {
		return pending[i].SubmittedAt.Before(pending[j].SubmittedAt)
	})
	return pending, nil
}

func (d *mockData) appendAudit(entry *AuditEntry) error {
	e := *entry
	if e.PerformedAt.IsZero() {
		e.PerformedAt = time.Now()
		entry.PerformedAt = e.PerformedAt
	}
	d.audit = append(d.audit, &e)
	return nil
}

func (d *mockData) listAuditByEntity(entityType, entityID string) ([]*AuditEntry, error) {
	var entries []*AuditEntry
	for _, entry := range d.audit {
		if entry.EntityType == entityType && entry.EntityID == entityID {
			e := *entry
			entries = append(entries, &e)
		}
	}
	return entries, nil
}

func cloneInstance(inst *ApprovalInstance) *ApprovalInstance {
	c := *inst
	return &c
}

func cloneStage(stage *ApprovalStageRecord) *ApprovalStageRecord {
	c := *stage
	return &c
}
