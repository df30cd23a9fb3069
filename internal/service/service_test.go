package service_test

import (
	"context"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/transformhub/be-tm-approvals/internal/apperrors"
	"github.com/transformhub/be-tm-approvals/internal/repository"
	"github.com/transformhub/be-tm-approvals/internal/service"
	"github.com/transformhub/be-tm-approvals/internal/workflow"
)

const testProgram = "prog-1"

// fakeRoster reports every role as eligible unless listed in missing.
type fakeRoster struct {
	mu      sync.Mutex
	missing map[string]bool
}

func (f *fakeRoster) HasEligibleApprover(_ context.Context, role, _ string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.missing[role], nil
}

// fakeSink records published events.
type fakeSink struct {
	mu     sync.Mutex
	events []service.ApprovalEvent
}

func (f *fakeSink) Publish(_ context.Context, event service.ApprovalEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
}

func (f *fakeSink) types() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.events))
	for i, e := range f.events {
		out[i] = e.Type
	}
	return out
}

// fakeCatalog describes every entity unless told otherwise.
type fakeCatalog struct {
	missing bool
}

func (f *fakeCatalog) Describe(_ context.Context, entityType, entityID string) (*service.EntityMeta, error) {
	if f.missing {
		return nil, apperrors.NotFound(entityType, entityID)
	}
	return &service.EntityMeta{Title: "Verify posting run", Code: "TC-042"}, nil
}

type engine struct {
	store      *repository.MockStore
	roster     *fakeRoster
	sink       *fakeSink
	catalog    *fakeCatalog
	submission *service.SubmissionService
	decision   *service.DecisionService
	query      *service.QueryService
}

func newEngine(t *testing.T) *engine {
	t.Helper()

	registry, err := workflow.NewRegistry(workflow.DefaultDefinitions())
	require.NoError(t, err)

	e := &engine{
		store:   repository.NewMockStore(),
		roster:  &fakeRoster{missing: map[string]bool{}},
		sink:    &fakeSink{},
		catalog: &fakeCatalog{},
	}
	log := zerolog.Nop()
	e.submission = service.NewSubmissionService(e.store, registry, e.roster, e.sink, log)
	e.decision = service.NewDecisionService(e.store, e.roster, e.sink, log)
	e.query = service.NewQueryService(e.store, e.catalog, log)
	return e
}

// assertAggregates confirms the stored instance status agrees with the pure
// aggregation over its stage records.
func assertAggregates(t *testing.T, e *engine, instanceID string) {
	t.Helper()
	ctx := context.Background()

	inst, err := e.store.GetInstance(ctx, instanceID)
	require.NoError(t, err)
	records, err := e.store.ListStages(ctx, instanceID)
	require.NoError(t, err)
	assert.Equal(t, inst.Status, workflow.ComputeStatus(repository.StageViews(records)))
}

func TestSubmit(t *testing.T) {
	ctx := context.Background()

	t.Run("CreatesInstanceWithFirstStageActive", func(t *testing.T) {
		e := newEngine(t)

		inst, stages, err := e.submission.Submit(ctx, testProgram, "test_case", "42", "carol")
		require.NoError(t, err)

		assert.Equal(t, workflow.InstancePending, inst.Status)
		require.Len(t, stages, 3)
		assert.Equal(t, workflow.StageActive, stages[0].Status)
		assert.Equal(t, workflow.StageWaiting, stages[1].Status)
		assert.Equal(t, workflow.StageWaiting, stages[2].Status)
		assert.Equal(t, "QA_LEAD", stages[0].Role)

		assert.Contains(t, e.sink.types(), "submitted")
		assertAggregates(t, e, inst.ID)
	})

	t.Run("UnknownEntityType", func(t *testing.T) {
		e := newEngine(t)

		_, _, err := e.submission.Submit(ctx, testProgram, "raci_matrix", "7", "carol")
		assert.ErrorIs(t, err, apperrors.ErrUnknownEntityType)
	})

	t.Run("AlreadyPending", func(t *testing.T) {
		e := newEngine(t)

		first, _, err := e.submission.Submit(ctx, testProgram, "test_case", "42", "carol")
		require.NoError(t, err)

		_, _, err = e.submission.Submit(ctx, testProgram, "test_case", "42", "dave")
		assert.ErrorIs(t, err, apperrors.ErrAlreadyPending)

		// A different entity is unaffected.
		_, _, err = e.submission.Submit(ctx, testProgram, "test_case", "43", "dave")
		assert.NoError(t, err)

		inst, err := e.store.GetInstance(ctx, first.ID)
		require.NoError(t, err)
		assert.Equal(t, workflow.InstancePending, inst.Status)
	})

	t.Run("ResubmitAfterTerminal", func(t *testing.T) {
		e := newEngine(t)

		first, stages, err := e.submission.Submit(ctx, testProgram, "test_case", "42", "carol")
		require.NoError(t, err)

		_, err = e.decision.Decide(ctx, stages[0].ID, workflow.DecisionRejected,
			service.Actor{ID: "alice", Role: "QA_LEAD"}, "needs rework")
		require.NoError(t, err)

		second, _, err := e.submission.Submit(ctx, testProgram, "test_case", "42", "carol")
		require.NoError(t, err)
		assert.NotEqual(t, first.ID, second.ID)
		assert.Equal(t, workflow.InstancePending, second.Status)
	})

	t.Run("SkipsFirstStageWithoutApprovers", func(t *testing.T) {
		e := newEngine(t)
		e.roster.missing["QA_LEAD"] = true

		inst, stages, err := e.submission.Submit(ctx, testProgram, "test_case", "42", "carol")
		require.NoError(t, err)

		assert.Equal(t, workflow.InstancePending, inst.Status)
		assert.Equal(t, workflow.StageSkipped, stages[0].Status)
		assert.Equal(t, workflow.StageActive, stages[1].Status)
		assert.Equal(t, workflow.StageWaiting, stages[2].Status)
	})

	t.Run("AllStagesSkippedApprovesImmediately", func(t *testing.T) {
		e := newEngine(t)
		e.roster.missing["QA_LEAD"] = true
		e.roster.missing["PROJECT_MANAGER"] = true
		e.roster.missing["SPONSOR"] = true

		inst, stages, err := e.submission.Submit(ctx, testProgram, "test_case", "42", "carol")
		require.NoError(t, err)

		assert.Equal(t, workflow.InstanceApproved, inst.Status)
		assert.NotNil(t, inst.CompletedAt)
		for _, stage := range stages {
			assert.Equal(t, workflow.StageSkipped, stage.Status)
		}
		assert.Contains(t, e.sink.types(), "approved")
		assertAggregates(t, e, inst.ID)
	})
}

func TestDecide(t *testing.T) {
	ctx := context.Background()
	alice := service.Actor{ID: "alice", Role: "QA_LEAD"}
	bob := service.Actor{ID: "bob", Role: "PROJECT_MANAGER"}

	t.Run("ApproveAdvancesToNextStage", func(t *testing.T) {
		e := newEngine(t)
		inst, stages, err := e.submission.Submit(ctx, testProgram, "test_case", "42", "carol")
		require.NoError(t, err)

		updated, err := e.decision.Decide(ctx, stages[0].ID, workflow.DecisionApproved, alice, "")
		require.NoError(t, err)
		assert.Equal(t, workflow.InstancePending, updated.Status)

		records, err := e.store.ListStages(ctx, inst.ID)
		require.NoError(t, err)
		assert.Equal(t, workflow.StageApproved, records[0].Status)
		require.NotNil(t, records[0].Approver)
		assert.Equal(t, "alice", *records[0].Approver)
		assert.NotNil(t, records[0].DecidedAt)
		assert.Equal(t, workflow.StageActive, records[1].Status)
		assert.Equal(t, workflow.StageWaiting, records[2].Status)
		assertAggregates(t, e, inst.ID)
	})

	t.Run("RejectCascadesAndTerminates", func(t *testing.T) {
		e := newEngine(t)
		inst, stages, err := e.submission.Submit(ctx, testProgram, "test_case", "42", "carol")
		require.NoError(t, err)

		_, err = e.decision.Decide(ctx, stages[0].ID, workflow.DecisionApproved, alice, "")
		require.NoError(t, err)

		updated, err := e.decision.Decide(ctx, stages[1].ID, workflow.DecisionRejected, bob, "needs rework")
		require.NoError(t, err)
		assert.Equal(t, workflow.InstanceRejected, updated.Status)
		assert.NotNil(t, updated.CompletedAt)

		records, err := e.store.ListStages(ctx, inst.ID)
		require.NoError(t, err)
		assert.Equal(t, workflow.StageApproved, records[0].Status)
		assert.Equal(t, workflow.StageRejected, records[1].Status)
		require.NotNil(t, records[1].Comment)
		assert.Equal(t, "needs rework", *records[1].Comment)
		assert.Equal(t, workflow.StageSkipped, records[2].Status)
		assert.Contains(t, e.sink.types(), "rejected")
		assertAggregates(t, e, inst.ID)
	})

	t.Run("ApprovingLastStageCompletesInstance", func(t *testing.T) {
		e := newEngine(t)
		inst, stages, err := e.submission.Submit(ctx, testProgram, "test_case", "42", "carol")
		require.NoError(t, err)

		_, err = e.decision.Decide(ctx, stages[0].ID, workflow.DecisionApproved, alice, "")
		require.NoError(t, err)
		_, err = e.decision.Decide(ctx, stages[1].ID, workflow.DecisionApproved, bob, "")
		require.NoError(t, err)
		updated, err := e.decision.Decide(ctx, stages[2].ID, workflow.DecisionApproved,
			service.Actor{ID: "eve", Role: "SPONSOR"}, "sign-off")
		require.NoError(t, err)

		assert.Equal(t, workflow.InstanceApproved, updated.Status)
		assert.NotNil(t, updated.CompletedAt)
		assert.Contains(t, e.sink.types(), "approved")
		assertAggregates(t, e, inst.ID)
	})

	t.Run("SkipCascadeOnAdvance", func(t *testing.T) {
		e := newEngine(t)
		inst, stages, err := e.submission.Submit(ctx, testProgram, "test_case", "42", "carol")
		require.NoError(t, err)

		// PM seat empties after submission.
		e.roster.mu.Lock()
		e.roster.missing["PROJECT_MANAGER"] = true
		e.roster.mu.Unlock()

		_, err = e.decision.Decide(ctx, stages[0].ID, workflow.DecisionApproved, alice, "")
		require.NoError(t, err)

		records, err := e.store.ListStages(ctx, inst.ID)
		require.NoError(t, err)
		assert.Equal(t, workflow.StageSkipped, records[1].Status)
		assert.Equal(t, workflow.StageActive, records[2].Status)
		assert.Contains(t, e.sink.types(), "stage_skipped")
		assertAggregates(t, e, inst.ID)
	})

	t.Run("WaitingStageIsNotActive", func(t *testing.T) {
		e := newEngine(t)
		_, stages, err := e.submission.Submit(ctx, testProgram, "test_case", "42", "carol")
		require.NoError(t, err)

		_, err = e.decision.Decide(ctx, stages[1].ID, workflow.DecisionApproved, bob, "")
		assert.ErrorIs(t, err, apperrors.ErrStageNotActive)
	})

	t.Run("DecidedStageStaysDecided", func(t *testing.T) {
		e := newEngine(t)
		inst, stages, err := e.submission.Submit(ctx, testProgram, "test_case", "42", "carol")
		require.NoError(t, err)

		_, err = e.decision.Decide(ctx, stages[0].ID, workflow.DecisionApproved, alice, "")
		require.NoError(t, err)

		_, err = e.decision.Decide(ctx, stages[0].ID, workflow.DecisionApproved, alice, "")
		assert.ErrorIs(t, err, apperrors.ErrAlreadyDecided)

		// No further mutation happened.
		records, err := e.store.ListStages(ctx, inst.ID)
		require.NoError(t, err)
		assert.Equal(t, workflow.StageApproved, records[0].Status)
		assert.Equal(t, workflow.StageActive, records[1].Status)
		assertAggregates(t, e, inst.ID)
	})

	t.Run("RejectRequiresComment", func(t *testing.T) {
		e := newEngine(t)
		_, stages, err := e.submission.Submit(ctx, testProgram, "test_case", "42", "carol")
		require.NoError(t, err)

		_, err = e.decision.Decide(ctx, stages[0].ID, workflow.DecisionRejected, alice, "")
		assert.ErrorIs(t, err, apperrors.ErrCommentRequired)

		records, err := e.store.ListStages(ctx, stages[0].InstanceID)
		require.NoError(t, err)
		assert.Equal(t, workflow.StageActive, records[0].Status)
	})

	t.Run("RoleMustMatchActiveStage", func(t *testing.T) {
		e := newEngine(t)
		_, stages, err := e.submission.Submit(ctx, testProgram, "test_case", "42", "carol")
		require.NoError(t, err)

		_, err = e.decision.Decide(ctx, stages[0].ID, workflow.DecisionApproved, bob, "")
		assert.ErrorIs(t, err, apperrors.ErrRoleMismatch)

		records, err := e.store.ListStages(ctx, stages[0].InstanceID)
		require.NoError(t, err)
		assert.Equal(t, workflow.StageActive, records[0].Status)
	})

	t.Run("InvalidDecisionValue", func(t *testing.T) {
		e := newEngine(t)
		_, stages, err := e.submission.Submit(ctx, testProgram, "test_case", "42", "carol")
		require.NoError(t, err)

		_, err = e.decision.Decide(ctx, stages[0].ID, workflow.Decision("maybe"), alice, "")
		assert.Equal(t, apperrors.CodeValidation, apperrors.CodeOf(err))
	})

	t.Run("UnknownStageRecord", func(t *testing.T) {
		e := newEngine(t)

		_, err := e.decision.Decide(ctx, "00000000-0000-0000-0000-000000000000", workflow.DecisionApproved, alice, "")
		assert.Equal(t, apperrors.CodeNotFound, apperrors.CodeOf(err))
	})

	t.Run("ConcurrentDecisionsOneWinner", func(t *testing.T) {
		e := newEngine(t)
		_, stages, err := e.submission.Submit(ctx, testProgram, "test_case", "42", "carol")
		require.NoError(t, err)

		const callers = 8
		results := make(chan error, callers)
		var wg sync.WaitGroup
		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := e.decision.Decide(ctx, stages[0].ID, workflow.DecisionApproved, alice, "")
				results <- err
			}()
		}
		wg.Wait()
		close(results)

		var wins, conflicts int
		for err := range results {
			if err == nil {
				wins++
				continue
			}
			assert.Equal(t, apperrors.CodeConflict, apperrors.CodeOf(err))
			conflicts++
		}
		assert.Equal(t, 1, wins)
		assert.Equal(t, callers-1, conflicts)
		assertAggregates(t, e, stages[0].InstanceID)
	})
}

func TestQuery(t *testing.T) {
	ctx := context.Background()

	t.Run("PendingForListsActiveStages", func(t *testing.T) {
		e := newEngine(t)
		_, _, err := e.submission.Submit(ctx, testProgram, "test_case", "42", "carol")
		require.NoError(t, err)
		_, _, err = e.submission.Submit(ctx, testProgram, "test_plan", "7", "carol")
		require.NoError(t, err)

		items, err := e.query.PendingFor(ctx, testProgram, "QA_LEAD", "")
		require.NoError(t, err)
		require.Len(t, items, 2)
		assert.Equal(t, workflow.StageActive, items[0].Stage.Status)
		require.NotNil(t, items[0].Entity)
		assert.Equal(t, "TC-042", items[0].Entity.Code)

		// Entity type filter narrows the inbox.
		items, err = e.query.PendingFor(ctx, testProgram, "QA_LEAD", "test_plan")
		require.NoError(t, err)
		require.Len(t, items, 1)
		assert.Equal(t, "test_plan", items[0].EntityType)

		// Other roles have no active work yet.
		items, err = e.query.PendingFor(ctx, testProgram, "PROJECT_MANAGER", "")
		require.NoError(t, err)
		assert.Empty(t, items)
	})

	t.Run("StatusOfNotSubmitted", func(t *testing.T) {
		e := newEngine(t)

		status, err := e.query.StatusOf(ctx, "test_case", "42")
		require.NoError(t, err)
		assert.Equal(t, workflow.InstanceNotSubmitted, status.Status)
		assert.Empty(t, status.Records)
	})

	t.Run("StatusOfUnknownEntity", func(t *testing.T) {
		e := newEngine(t)
		e.catalog.missing = true

		_, err := e.query.StatusOf(ctx, "test_case", "42")
		assert.Equal(t, apperrors.CodeNotFound, apperrors.CodeOf(err))
	})

	t.Run("StatusOfReflectsLatestInstance", func(t *testing.T) {
		e := newEngine(t)
		_, stages, err := e.submission.Submit(ctx, testProgram, "test_case", "42", "carol")
		require.NoError(t, err)
		_, err = e.decision.Decide(ctx, stages[0].ID, workflow.DecisionRejected,
			service.Actor{ID: "alice", Role: "QA_LEAD"}, "wrong variant data")
		require.NoError(t, err)

		status, err := e.query.StatusOf(ctx, "test_case", "42")
		require.NoError(t, err)
		assert.Equal(t, workflow.InstanceRejected, status.Status)
		require.Len(t, status.Records, 3)

		// Re-submission supersedes the rejected instance in the banner.
		second, _, err := e.submission.Submit(ctx, testProgram, "test_case", "42", "carol")
		require.NoError(t, err)

		status, err = e.query.StatusOf(ctx, "test_case", "42")
		require.NoError(t, err)
		assert.Equal(t, workflow.InstancePending, status.Status)
		assert.Equal(t, second.ID, status.InstanceID)
	})

	t.Run("HistoryOfRecordsLifecycle", func(t *testing.T) {
		e := newEngine(t)
		_, stages, err := e.submission.Submit(ctx, testProgram, "test_case", "42", "carol")
		require.NoError(t, err)
		_, err = e.decision.Decide(ctx, stages[0].ID, workflow.DecisionApproved,
			service.Actor{ID: "alice", Role: "QA_LEAD"}, "")
		require.NoError(t, err)

		entries, err := e.query.HistoryOf(ctx, "test_case", "42")
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, "submitted", entries[0].Action)
		assert.Equal(t, "approved", entries[1].Action)
		assert.Equal(t, "alice", entries[1].PerformedBy)
	})
}
