package workflow

import (
	"testing"

	"pgregory.net/rapid"
)

var allStages = []Stage{
	StagePlanning, StagePlanApproval, StageResearching, StageResearchReview,
	StageWriting, StageReviewing, StageFactChecking, StageFormatting,
	StageSummarizing, StageDocumenting, StageCompleted, StageEscalated,
	StageFailed,
}

var allStatuses = []Status{
	StatusSubmitted, StatusInProgress, StatusCompleted, StatusFailed,
}

// A record driven by arbitrary Transition and SetStatus calls never
// reaches an illegal stage nor moves its status backwards.
func TestRecordWalkInvariants(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		rec := NewRecord("property walk")

		steps := rapid.IntRange(1, 40).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			if rapid.Bool().Draw(t, "moveStage") {
				prev := rec.Stage
				target := rapid.SampledFrom(allStages).Draw(t, "target")

				err := rec.Transition(target)
				if err != nil {
					if rec.Stage != prev {
						t.Fatalf("failed transition mutated stage: %s -> %s", prev, rec.Stage)
					}
					continue
				}
				if !CanTransition(prev, target) {
					t.Fatalf("transition %s -> %s accepted but not in graph", prev, target)
				}
			} else {
				prevRank := statusRank[rec.Status]
				target := rapid.SampledFrom(allStatuses).Draw(t, "status")

				if err := rec.SetStatus(target); err == nil {
					if statusRank[rec.Status] < prevRank {
						t.Fatalf("status moved backwards: rank %d -> %d", prevRank, statusRank[rec.Status])
					}
				}
			}
		}

		// Terminal stages admit no further stage moves.
		if rec.Stage == StageCompleted || rec.Stage == StageFailed {
			for _, target := range allStages {
				if rec.Transition(target) == nil {
					t.Fatalf("terminal stage %s allowed transition to %s", rec.Stage, target)
				}
			}
		}
	})
}
