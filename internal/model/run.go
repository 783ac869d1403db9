package model

import "time"

// RunKind distinguishes the two operations recorded in run history.
type RunKind string

const (
	RunKindReconcile RunKind = "reconcile"
	RunKindScore     RunKind = "score"
)

// RunStatus represents the outcome of a recorded run.
type RunStatus string

const (
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// Run is one reconcile or scoring pass as kept in run history.
type Run struct {
	ID         string         `json:"id"`
	Kind       RunKind        `json:"kind"`
	Status     RunStatus      `json:"status"`
	Summary    map[string]any `json:"summary,omitempty"`
	Error      string         `json:"error,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
}
