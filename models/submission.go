package models

import (
	"time"
)

// Submission statuses. Transitions only move forward:
// pending -> scored -> accepted, and pending|scored -> rejected.
const (
	StatusPending  = "pending"
	StatusScored   = "scored"
	StatusAccepted = "accepted"
	StatusRejected = "rejected"
)

// Intake stages, recorded for status polling.
const (
	StageReceived    = "received"
	StageParsing     = "parsing"
	StageScoring     = "scoring"
	StageStoring     = "storing"
	StageAggregating = "aggregating"
	StageDone        = "done"
	StageFailed      = "failed"
)

// Failure kinds attached to rejected submissions.
const (
	FailureValidation = "validation_error"
	FailureTimeout    = "timeout"
	FailureStorage    = "storage_failure"
	FailureInternal   = "internal_error"
)

// Scores are the metrics derived from a RunRecord.
type Scores struct {
	DrivingScore      float64 `json:"driving_score"`
	RouteCompletion   float64 `json:"route_completion"`
	InfractionPenalty float64 `json:"infraction_penalty"`
	Score             float64 `json:"score"`
}

type Submission struct {
	ID               string `gorm:"primaryKey;type:uuid" json:"id"`
	UserID           string `gorm:"type:uuid;not null;index;uniqueIndex:idx_submissions_user_token,priority:1" json:"user_id"`
	IdempotencyToken string `gorm:"type:varchar(128);not null;uniqueIndex:idx_submissions_user_token,priority:2" json:"idempotency_token"`
	EntryName        string `gorm:"type:varchar(200)" json:"entry"`

	ArtifactRef  string `gorm:"not null" json:"artifact_ref"`
	ArtifactSize int64  `json:"artifact_size"`
	ContentType  string `gorm:"type:varchar(128)" json:"content_type"`

	RunRecord *RunRecord `gorm:"type:jsonb;serializer:json" json:"run_record,omitempty"`

	DrivingScore      float64 `json:"driving_score"`
	RouteCompletion   float64 `json:"route_completion"`
	InfractionPenalty float64 `json:"infraction_penalty"`
	Score             float64 `gorm:"index" json:"score"`
	ScoringPolicy     string  `gorm:"type:varchar(16)" json:"scoring_policy,omitempty"`

	Status        string `gorm:"type:varchar(16);not null;default:'pending';index" json:"status"`
	Stage         string `gorm:"type:varchar(16);not null;default:'received'" json:"stage"`
	FailureKind   string `gorm:"type:varchar(32)" json:"failure_kind,omitempty"`
	FailureReason string `gorm:"type:text" json:"failure_reason,omitempty"`

	CreatedAt time.Time  `gorm:"index" json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	ScoredAt  *time.Time `json:"scored_at,omitempty"`
	DecidedAt *time.Time `json:"decided_at,omitempty"`
}

// Scores returns the stored metrics.
func (s *Submission) Scores() Scores {
	return Scores{
		DrivingScore:      s.DrivingScore,
		RouteCompletion:   s.RouteCompletion,
		InfractionPenalty: s.InfractionPenalty,
		Score:             s.Score,
	}
}

// InFlight reports whether the submission still counts against the per-user limit.
func (s *Submission) InFlight() bool {
	return s.Status == StatusPending || s.Status == StatusScored
}

// Terminal reports whether the submission can no longer change.
func (s *Submission) Terminal() bool {
	return s.Status == StatusAccepted || s.Status == StatusRejected
}
