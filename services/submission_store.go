package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"bench2drive-leaderboard/models"
	"bench2drive-leaderboard/utils"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// openSubmissionIndex backs the one-in-flight-per-user rule at the database level.
const openSubmissionIndex = `CREATE UNIQUE INDEX IF NOT EXISTS idx_submissions_open_user
	ON submissions (user_id) WHERE status IN ('pending', 'scored')`

// Migrate creates the tables and indexes the store relies on.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&models.User{}, &models.Submission{}); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}
	if err := db.Exec(openSubmissionIndex).Error; err != nil {
		return fmt.Errorf("create idx_submissions_open_user: %w", err)
	}
	return nil
}

// NewSubmission carries what the controller knows before anything is parsed.
type NewSubmission struct {
	UserID           string
	IdempotencyToken string
	EntryName        string
	ArtifactRef      string
	ArtifactSize     int64
	ContentType      string
}

// AdvanceParams holds the fields written alongside a status change. Scores, Policy and
// RunRecord go with scored; FailureKind and FailureReason go with rejected.
type AdvanceParams struct {
	RunRecord     *models.RunRecord
	Scores        models.Scores
	Policy        string
	FailureKind   string
	FailureReason string
}

// AcceptedSubmission is an accepted row joined with its owner's username.
type AcceptedSubmission struct {
	models.Submission
	Username string
}

// transitions maps a target status to the statuses it may be reached from.
var transitions = map[string][]string{
	models.StatusScored:   {models.StatusPending},
	models.StatusAccepted: {models.StatusScored},
	models.StatusRejected: {models.StatusPending, models.StatusScored},
}

var inFlightStatuses = []string{models.StatusPending, models.StatusScored}

type SubmissionStore struct {
	DB    *gorm.DB
	locks *utils.KeyedMutex
}

func NewSubmissionStore(db *gorm.DB) *SubmissionStore {
	return &SubmissionStore{DB: db, locks: utils.NewKeyedMutex()}
}

// Create inserts a pending submission. A reused token returns the earlier submission with
// ErrReplay; an open submission for the same user returns that one with ErrInFlight.
func (s *SubmissionStore) Create(ctx context.Context, in NewSubmission) (*models.Submission, error) {
	unlock := s.locks.Lock(in.UserID)
	defer unlock()

	var existing *models.Submission
	var created models.Submission
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var prior models.Submission
		err := tx.Where("user_id = ? AND idempotency_token = ?", in.UserID, in.IdempotencyToken).
			Take(&prior).Error
		if err == nil {
			existing = &prior
			return ErrReplay
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		var open models.Submission
		err = tx.Where("user_id = ? AND status IN ?", in.UserID, inFlightStatuses).
			Order("created_at").Take(&open).Error
		if err == nil {
			existing = &open
			return ErrInFlight
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		created = models.Submission{
			ID:               uuid.NewString(),
			UserID:           in.UserID,
			IdempotencyToken: in.IdempotencyToken,
			EntryName:        in.EntryName,
			ArtifactRef:      in.ArtifactRef,
			ArtifactSize:     in.ArtifactSize,
			ContentType:      in.ContentType,
			Status:           models.StatusPending,
			Stage:            models.StageReceived,
		}
		return tx.Create(&created).Error
	})

	switch {
	case err == nil:
		return &created, nil
	case errors.Is(err, ErrConflict):
		return existing, err
	case isDuplicateKey(err):
		// Another process won the race; report what it inserted.
		return s.classifyConflict(ctx, in)
	case ctx.Err() != nil:
		return nil, ctxError(ctx.Err())
	default:
		return nil, fmt.Errorf("%w: create submission: %v", ErrStorage, err)
	}
}

func (s *SubmissionStore) classifyConflict(ctx context.Context, in NewSubmission) (*models.Submission, error) {
	if prior, err := s.FindByToken(ctx, in.UserID, in.IdempotencyToken); err == nil {
		return prior, ErrReplay
	}
	if open, err := s.FindOpen(ctx, in.UserID); err == nil {
		return open, ErrInFlight
	}
	return nil, fmt.Errorf("%w: concurrent submission for user %s", ErrConflict, in.UserID)
}

// FindByToken returns the submission created with token, or ErrNotFound.
func (s *SubmissionStore) FindByToken(ctx context.Context, userID, token string) (*models.Submission, error) {
	var sub models.Submission
	err := s.DB.WithContext(ctx).
		Where("user_id = ? AND idempotency_token = ?", userID, token).
		Take(&sub).Error
	if err != nil {
		return nil, readError(err, "submission with token")
	}
	return &sub, nil
}

// FindOpen returns the user's pending or scored submission, or ErrNotFound.
func (s *SubmissionStore) FindOpen(ctx context.Context, userID string) (*models.Submission, error) {
	var sub models.Submission
	err := s.DB.WithContext(ctx).
		Where("user_id = ? AND status IN ?", userID, inFlightStatuses).
		Order("created_at").
		Take(&sub).Error
	if err != nil {
		return nil, readError(err, "open submission")
	}
	return &sub, nil
}

// Advance moves a submission to status. The update is conditional on the status it was
// read in, so a concurrent transition makes this one fail instead of overwriting it.
func (s *SubmissionStore) Advance(ctx context.Context, id, status string, p AdvanceParams) (*models.Submission, error) {
	from, ok := transitions[status]
	if !ok {
		return nil, fmt.Errorf("%w: unknown target status %q", ErrInvalidTransition, status)
	}

	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	unlock := s.locks.Lock(current.UserID)
	defer unlock()

	now := time.Now()
	update := models.Submission{Status: status, UpdatedAt: now}
	columns := []string{"status", "updated_at"}

	switch status {
	case models.StatusScored:
		update.RunRecord = p.RunRecord
		update.DrivingScore = p.Scores.DrivingScore
		update.RouteCompletion = p.Scores.RouteCompletion
		update.InfractionPenalty = p.Scores.InfractionPenalty
		update.Score = p.Scores.Score
		update.ScoringPolicy = p.Policy
		update.ScoredAt = &now
		update.Stage = models.StageStoring
		if p.RunRecord != nil && p.RunRecord.Entry != "" && current.EntryName == "" {
			update.EntryName = p.RunRecord.Entry
			columns = append(columns, "entry_name")
		}
		columns = append(columns, "run_record", "driving_score", "route_completion",
			"infraction_penalty", "score", "scoring_policy", "scored_at", "stage")
	case models.StatusAccepted:
		update.DecidedAt = &now
		update.Stage = models.StageAggregating
		columns = append(columns, "decided_at", "stage")
	case models.StatusRejected:
		update.DecidedAt = &now
		update.Stage = models.StageFailed
		update.FailureKind = p.FailureKind
		update.FailureReason = p.FailureReason
		columns = append(columns, "decided_at", "stage", "failure_kind", "failure_reason")
	}

	res := s.DB.WithContext(ctx).Model(&models.Submission{}).
		Where("id = ? AND status IN ?", id, from).
		Select(columns).
		Updates(&update)
	if res.Error != nil {
		if ctx.Err() != nil {
			return nil, ctxError(ctx.Err())
		}
		return nil, fmt.Errorf("%w: advance %s to %s: %v", ErrStorage, id, status, res.Error)
	}
	if res.RowsAffected == 0 {
		latest, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		return latest, fmt.Errorf("%w: %s -> %s for submission %s", ErrInvalidTransition, latest.Status, status, id)
	}

	log.Infof("[STORE] submission %s: %s -> %s", id, current.Status, status)
	return s.Get(ctx, id)
}

// SetStage records the intake step a submission has reached. Terminal rows keep the stage
// they were finished with, apart from the final done marker on accepted ones.
func (s *SubmissionStore) SetStage(ctx context.Context, id, stage string) error {
	q := s.DB.WithContext(ctx).Model(&models.Submission{}).Where("id = ?", id)
	if stage == models.StageDone {
		q = q.Where("status = ?", models.StatusAccepted)
	} else {
		q = q.Where("status IN ?", inFlightStatuses)
	}
	res := q.Updates(map[string]any{"stage": stage, "updated_at": time.Now()})
	if res.Error != nil {
		return fmt.Errorf("%w: set stage %s on %s: %v", ErrStorage, stage, id, res.Error)
	}
	return nil
}

func (s *SubmissionStore) Get(ctx context.Context, id string) (*models.Submission, error) {
	var sub models.Submission
	if err := s.DB.WithContext(ctx).Where("id = ?", id).Take(&sub).Error; err != nil {
		return nil, readError(err, "submission "+id)
	}
	return &sub, nil
}

// ListByUser returns the user's submissions, newest first.
func (s *SubmissionStore) ListByUser(ctx context.Context, userID string) ([]models.Submission, error) {
	var subs []models.Submission
	err := s.DB.WithContext(ctx).
		Omit("run_record").
		Where("user_id = ?", userID).
		Order("created_at DESC, id DESC").
		Find(&subs).Error
	if err != nil {
		return nil, readError(err, "submissions")
	}
	return subs, nil
}

// ListAccepted reads every accepted submission with its owner's username in one query.
func (s *SubmissionStore) ListAccepted(ctx context.Context) ([]AcceptedSubmission, error) {
	var rows []AcceptedSubmission
	err := s.DB.WithContext(ctx).
		Table("submissions").
		Select(`submissions.id, submissions.user_id, submissions.entry_name,
			submissions.driving_score, submissions.route_completion,
			submissions.infraction_penalty, submissions.score, submissions.scoring_policy,
			submissions.status, submissions.created_at, users.username`).
		Joins("JOIN users ON users.id = submissions.user_id").
		Where("submissions.status = ?", models.StatusAccepted).
		Scan(&rows).Error
	if err != nil {
		return nil, readError(err, "accepted submissions")
	}
	return rows, nil
}

// ListStale returns in-flight submissions created before cutoff.
func (s *SubmissionStore) ListStale(ctx context.Context, cutoff time.Time) ([]models.Submission, error) {
	var subs []models.Submission
	err := s.DB.WithContext(ctx).
		Omit("run_record").
		Where("status IN ? AND created_at < ?", inFlightStatuses, cutoff).
		Order("created_at").
		Find(&subs).Error
	if err != nil {
		return nil, readError(err, "stale submissions")
	}
	return subs, nil
}

func readError(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, what)
	}
	return fmt.Errorf("%w: read %s: %v", ErrStorage, what, err)
}

func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "unique constraint")
}
