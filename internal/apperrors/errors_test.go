package apperrors_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/transformhub/be-tm-approvals/internal/apperrors"
)

func TestCodeOf(t *testing.T) {
	assert.Equal(t, apperrors.CodeConflict, apperrors.CodeOf(apperrors.ErrAlreadyPending))
	assert.Equal(t, apperrors.CodeConflict, apperrors.CodeOf(apperrors.ErrStageNotActive))
	assert.Equal(t, apperrors.CodeConflict, apperrors.CodeOf(apperrors.ErrAlreadyDecided))
	assert.Equal(t, apperrors.CodeValidation, apperrors.CodeOf(apperrors.ErrCommentRequired))
	assert.Equal(t, apperrors.CodeValidation, apperrors.CodeOf(apperrors.ErrUnknownEntityType))
	assert.Equal(t, apperrors.CodeUnauthorized, apperrors.CodeOf(apperrors.ErrRoleMismatch))
	assert.Equal(t, apperrors.CodeNotFound, apperrors.CodeOf(apperrors.NotFound("approval_instance", "i-1")))
	assert.Equal(t, apperrors.CodeInternal, apperrors.CodeOf(errors.New("plain")))
}

func TestWrappedSentinelsSurviveChains(t *testing.T) {
	err := fmt.Errorf("decide stage 2: %w", apperrors.ErrStageNotActive)

	assert.ErrorIs(t, err, apperrors.ErrStageNotActive)
	assert.Equal(t, apperrors.CodeConflict, apperrors.CodeOf(err))
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := apperrors.Wrap(cause, apperrors.CodeInternal, "roster lookup failed")

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, apperrors.CodeInternal, apperrors.CodeOf(err))
	assert.Contains(t, err.Error(), "roster lookup failed")
	assert.Contains(t, err.Error(), "connection refused")
}

func TestConstructors(t *testing.T) {
	nf := apperrors.NotFound("approval_stage", "s-9")
	assert.Equal(t, "approval_stage not found: s-9", nf.Error())

	inv := apperrors.InvalidInput("comment", "must not be empty")
	assert.Equal(t, apperrors.CodeValidation, inv.Code)
	assert.Contains(t, inv.Error(), "comment")

	nfmt := apperrors.Newf(apperrors.CodeConflict, "stage %d taken", 3)
	assert.Equal(t, "stage 3 taken", nfmt.Error())
}
