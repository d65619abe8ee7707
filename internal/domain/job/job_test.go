package job

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/fepforge/fepforge/pkg/errors"
)

func TestStatus_Predicates(t *testing.T) {
	assert.True(t, StatusSucceeded.IsTerminal())
	assert.True(t, StatusFailed.IsTerminal())
	assert.True(t, StatusSkipped.IsTerminal())
	assert.False(t, StatusPending.IsTerminal())
	assert.False(t, StatusMapping.IsTerminal())

	assert.True(t, StatusNormalizing.IsWorking())
	assert.True(t, StatusRetrying.IsWorking())
	assert.False(t, StatusPending.IsWorking())
	assert.False(t, StatusFailed.IsWorking())
}

func TestJob_HappyPath(t *testing.T) {
	batch := NewBatch("fxa-series")
	j := New(batch.ID, "lig1~lig2", 3)
	assert.Equal(t, StatusPending, j.Status)
	assert.Nil(t, j.StartedAt)

	for _, stage := range []Status{StatusNormalizing, StatusParameterizing, StatusMapping, StatusMerging} {
		require.NoError(t, j.Start(stage))
		assert.Equal(t, stage, j.Status)
	}
	require.NotNil(t, j.StartedAt)

	require.NoError(t, j.Succeed("s3://bundles/b/j"))
	assert.Equal(t, StatusSucceeded, j.Status)
	assert.Equal(t, "s3://bundles/b/j", j.BundleLocation)
	require.NotNil(t, j.FinishedAt)
}

func TestJob_ParameterizationOnlyPath(t *testing.T) {
	j := New("batch", "lig1", 3)
	require.NoError(t, j.Start(StatusNormalizing))
	require.NoError(t, j.Start(StatusParameterizing))

	// A lone-ligand job finishes without mapping or merging.
	require.NoError(t, j.Succeed("s3://bundles/b/j"))
	assert.Equal(t, StatusSucceeded, j.Status)
}

func TestJob_IllegalTransitions(t *testing.T) {
	j := New("batch", "pair", 3)

	// Pending cannot jump into a late stage or straight to success.
	err := j.Start(StatusMapping)
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeIllegalTransition, apperrors.GetCode(err))
	require.Error(t, j.Succeed("x"))

	// Terminal states are final.
	require.NoError(t, j.Start(StatusNormalizing))
	require.NoError(t, j.Fail(apperrors.New(apperrors.CodeStructUnparseable, "bad pdb")))
	require.Error(t, j.Start(StatusNormalizing))
	require.Error(t, j.Skip("nope"))
	require.Error(t, j.Succeed("x"))

	// Retrying is not directly startable.
	j2 := New("batch", "pair2", 3)
	require.Error(t, j2.Start(StatusRetrying))
}

func TestJob_RetryBudget(t *testing.T) {
	j := New("batch", "pair", 2)
	require.NoError(t, j.Start(StatusNormalizing))

	transient := apperrors.New(apperrors.CodeParamToolUnavailable, "antechamber missing")

	require.True(t, j.RetryAllowed())
	require.NoError(t, j.MarkRetrying(transient))
	assert.Equal(t, StatusRetrying, j.Status)
	assert.Equal(t, 1, j.Retries)
	assert.Equal(t, apperrors.CodeParamToolUnavailable, j.FailureCode)

	// Resume into the interrupted stage.
	require.NoError(t, j.Start(StatusNormalizing))
	require.NoError(t, j.MarkRetrying(transient))
	assert.Equal(t, 2, j.Retries)

	// Budget exhausted: MarkRetrying refuses with CodeRetryExhausted.
	require.NoError(t, j.Start(StatusNormalizing))
	assert.False(t, j.RetryAllowed())
	err := j.MarkRetrying(transient)
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeRetryExhausted, apperrors.GetCode(err))
	// The underlying transient cause stays attributable.
	assert.Equal(t, apperrors.CodeParamToolUnavailable, apperrors.GetCode(errors.Unwrap(err)))
}

func TestJob_SkipRecordsPrerequisite(t *testing.T) {
	j := New("batch", "pair", 3)
	require.NoError(t, j.Skip("ligand lig1 failed parameterization in job X"))
	assert.Equal(t, StatusSkipped, j.Status)
	assert.Equal(t, apperrors.CodePrerequisiteFailed, j.FailureCode)
	assert.Contains(t, j.SkipReason, "lig1")
	require.NotNil(t, j.FinishedAt)
}

func TestCountStatuses(t *testing.T) {
	mk := func(s Status) *PipelineJob {
		j := New("b", "j", 1)
		j.Status = s
		return j
	}
	jobs := []*PipelineJob{
		mk(StatusPending),
		mk(StatusNormalizing), mk(StatusRetrying),
		mk(StatusSucceeded), mk(StatusSucceeded),
		mk(StatusFailed),
		mk(StatusSkipped),
	}
	c := CountStatuses(jobs)
	assert.Equal(t, 1, c.Pending)
	assert.Equal(t, 2, c.Running)
	assert.Equal(t, 2, c.Succeeded)
	assert.Equal(t, 1, c.Failed)
	assert.Equal(t, 1, c.Skipped)
	assert.Equal(t, 7, c.Total())
	assert.False(t, c.Drained())

	c.Pending, c.Running = 0, 0
	assert.True(t, c.Drained())
}

func TestNewAuditRecord(t *testing.T) {
	j := New("batch", "pair", 3)
	require.NoError(t, j.Start(StatusNormalizing))
	require.NoError(t, j.Fail(apperrors.New(apperrors.CodeMapRingBreakRejected, "ring cut")))

	rec := NewAuditRecord(j, StatusNormalizing)
	assert.Equal(t, j.ID, rec.JobID)
	assert.Equal(t, StatusNormalizing, rec.From)
	assert.Equal(t, StatusFailed, rec.To)
	assert.Equal(t, "MAP_002", rec.ErrorCode)
	assert.Contains(t, rec.Message, "ring cut")
	assert.False(t, rec.At.IsZero())
}
