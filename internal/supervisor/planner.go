package supervisor

import (
	"context"

	"github.com/stackmesa/overseer/internal/runlog"
)

// PlanRequest is what the supervisor hands the planning collaborator
// after a failed attempt.
type PlanRequest struct {
	// Goal is the failing task's goal.
	Goal string

	// TaskDefinition is the raw definition of the failing task.
	TaskDefinition []byte

	// FailureReason is the classified reason of the last failure.
	FailureReason string

	// RecentEvents are the most recent run events, oldest first.
	RecentEvents []runlog.Event
}

// PlanResponse is the collaborator's answer. All fields are optional;
// an empty response means no fix was produced.
type PlanResponse struct {
	// CorrectedTask is a replacement task definition, or empty.
	CorrectedTask []byte

	// RootCause is the collaborator's diagnosis.
	RootCause string

	// SuggestedChanges describe the fix in prose.
	SuggestedChanges []string

	// StopCondition, when non-empty, tells the supervisor to stop
	// instead of retrying: "abort" aborts the run, any other value
	// escalates it.
	StopCondition string
}

// Planner produces corrected task definitions for failing tasks. It is
// treated as opaque and potentially unreliable: errors and unparseable
// responses are logged and count as "no fix produced", they never stop
// the supervisor on their own.
type Planner interface {
	Plan(ctx context.Context, req PlanRequest) (*PlanResponse, error)
}
