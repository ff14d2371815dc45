package models

import "time"

// LeaderboardEntry is a derived standings row. It is never stored.
type LeaderboardEntry struct {
	Rank              int       `json:"rank"`
	Entry             string    `json:"entry"`
	Slug              string    `json:"slug"`
	UserID            string    `json:"user_id"`
	SubmissionID      string    `json:"submission_id"`
	Score             float64   `json:"score"`
	DrivingScore      float64   `json:"driving_score"`
	RouteCompletion   float64   `json:"route_completion"`
	InfractionPenalty float64   `json:"infraction_penalty"`
	Submissions       int       `json:"submissions"`
	SubmittedAt       time.Time `json:"submitted_at"`
}
