package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/researchflow/researchflow/types"
)

func TestNewRecord(t *testing.T) {
	rec := NewRecord("quantum error correction")

	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, StatusSubmitted, rec.Status)
	assert.Equal(t, StagePlanning, rec.Stage)
	assert.NotNil(t, rec.Artifacts)
	assert.False(t, rec.Terminal())
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Stage
		ok       bool
	}{
		{StagePlanning, StagePlanApproval, true},
		{StagePlanApproval, StageResearching, true},
		{StagePlanApproval, StagePlanning, true},
		{StageResearchReview, StageResearching, true},
		{StageResearchReview, StageWriting, true},
		{StageResearchReview, StageEscalated, true},
		{StageReviewing, StageReviewing, true},
		{StageReviewing, StageFactChecking, true},
		{StageEscalated, StageWriting, true},
		{StageEscalated, StageFactChecking, true},
		{StageDocumenting, StageCompleted, true},
		{StageWriting, StageFailed, true},

		{StagePlanning, StageWriting, false},
		{StageResearching, StageWriting, false},
		{StageWriting, StagePlanning, false},
		{StageCompleted, StagePlanning, false},
		{StageFailed, StagePlanning, false},
		{StageCompleted, StageFailed, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.ok, CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestTransitionRejectsIllegalMove(t *testing.T) {
	rec := NewRecord("topic")

	err := rec.Transition(StageWriting)
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidTransition, types.GetErrorCode(err))
	assert.Equal(t, StagePlanning, rec.Stage, "failed transition must not move the record")

	require.NoError(t, rec.Transition(StagePlanApproval))
	assert.Equal(t, StagePlanApproval, rec.Stage)
}

func TestSetStatusForwardOnly(t *testing.T) {
	rec := NewRecord("topic")

	require.NoError(t, rec.SetStatus(StatusInProgress))
	require.NoError(t, rec.SetStatus(StatusInProgress), "same rank is allowed")
	require.NoError(t, rec.SetStatus(StatusCompleted))

	err := rec.SetStatus(StatusSubmitted)
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidTransition, types.GetErrorCode(err))
	assert.Equal(t, StatusCompleted, rec.Status)
}

func TestAwaitingApproval(t *testing.T) {
	rec := NewRecord("topic")

	_, waiting := rec.AwaitingApproval()
	assert.False(t, waiting)

	rec.Stage = StagePlanApproval
	gate, waiting := rec.AwaitingApproval()
	assert.True(t, waiting)
	assert.Equal(t, ApprovalPlan, gate)

	rec.Stage = StageEscalated
	gate, waiting = rec.AwaitingApproval()
	assert.True(t, waiting)
	assert.Equal(t, ApprovalEscalation, gate)
}

func TestFailKeepsArtifacts(t *testing.T) {
	rec := NewRecord("topic")
	rec.SetArtifact(ArtifactPlan, "1. scope the problem")
	rec.Stage = StageResearching
	rec.Status = StatusInProgress

	rec.Fail("provider exploded")

	assert.True(t, rec.Terminal())
	assert.Equal(t, StatusFailed, rec.Status)
	assert.Equal(t, StageFailed, rec.Stage)
	assert.Equal(t, "provider exploded", rec.Error)
	assert.Equal(t, "1. scope the problem", rec.Artifact(ArtifactPlan))
	require.NotNil(t, rec.CompletedAt)
}

func TestComplete(t *testing.T) {
	rec := NewRecord("topic")
	rec.Complete()

	assert.True(t, rec.Terminal())
	assert.Equal(t, StatusCompleted, rec.Status)
	assert.Equal(t, StageCompleted, rec.Stage)
	require.NotNil(t, rec.CompletedAt)
}

func TestCloneIsDeep(t *testing.T) {
	rec := NewRecord("topic")
	rec.SetArtifact(ArtifactPlan, "original")
	rec.AppendApproval(Approval{Type: ApprovalPlan, Decision: DecisionApprove, Approved: true})

	clone := rec.Clone()
	clone.SetArtifact(ArtifactPlan, "mutated")
	clone.Approvals[0].Notes = "mutated"
	clone.AppendApproval(Approval{Type: ApprovalEscalation, Decision: DecisionReject})

	assert.Equal(t, "original", rec.Artifact(ArtifactPlan))
	assert.Empty(t, rec.Approvals[0].Notes)
	assert.Len(t, rec.Approvals, 1)
}

func TestAppendApprovalStampsTimestamp(t *testing.T) {
	rec := NewRecord("topic")
	rec.AppendApproval(Approval{Type: ApprovalPlan, Decision: DecisionApprove})

	require.Len(t, rec.Approvals, 1)
	assert.False(t, rec.Approvals[0].Timestamp.IsZero())
}
