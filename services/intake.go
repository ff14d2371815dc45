package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"bench2drive-leaderboard/models"
	"bench2drive-leaderboard/utils"
	"bench2drive-leaderboard/workers"

	"github.com/gofiber/fiber/v2/log"
)

const (
	maxTokenLength = 128
	maxEntryLength = 200
	// detachedTimeout bounds the cleanup writes that must outlive a cancelled request or job.
	detachedTimeout = 10 * time.Second
)

// IntakeRequest is one upload as received by the HTTP layer.
type IntakeRequest struct {
	UserID           string
	IdempotencyToken string
	EntryName        string
	Filename         string
	ContentType      string
	Size             int64
	Body             io.Reader
}

type IntakeController struct {
	Store      *SubmissionStore
	Parser     *ResultParser
	Scorer     *Scorer
	Artifacts  utils.ArtifactStore
	Aggregator *LeaderboardAggregator
	Pool       *workers.Pool
	Events     EventPublisher

	UploadTimeout time.Duration
	ParseTimeout  time.Duration
}

// Submit admits an upload and schedules it for scoring. It returns as soon as the
// pending submission is durable. Replays and in-flight duplicates return the existing
// submission together with an ErrConflict-wrapped error.
func (c *IntakeController) Submit(ctx context.Context, req IntakeRequest) (*models.Submission, error) {
	req.IdempotencyToken = strings.TrimSpace(req.IdempotencyToken)
	req.EntryName = strings.TrimSpace(req.EntryName)
	if n := len(req.IdempotencyToken); n == 0 || n > maxTokenLength {
		return nil, validationf("idempotency token must be 1 to %d characters", maxTokenLength)
	}
	if len(req.EntryName) > maxEntryLength {
		return nil, validationf("entry name must be at most %d characters", maxEntryLength)
	}
	if req.Size > c.Parser.MaxBytes {
		return nil, fmt.Errorf("%w: %d bytes, limit is %d", ErrTooLarge, req.Size, c.Parser.MaxBytes)
	}

	// Checked before reading the body so duplicates cost nothing.
	if prior, err := c.Store.FindByToken(ctx, req.UserID, req.IdempotencyToken); err == nil {
		return prior, ErrReplay
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if open, err := c.Store.FindOpen(ctx, req.UserID); err == nil {
		return open, ErrInFlight
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	data, err := c.readUpload(ctx, req.Body)
	if err != nil {
		return nil, err
	}

	ticket, err := c.Pool.Reserve()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBusy, err)
	}

	key := utils.ArtifactKey(req.UserID, req.Filename)
	ref, err := c.Artifacts.Put(ctx, key, data, req.ContentType)
	if err != nil {
		ticket.Release()
		if ctx.Err() != nil {
			return nil, ctxError(ctx.Err())
		}
		return nil, fmt.Errorf("%w: store artifact: %v", ErrStorage, err)
	}

	sub, err := c.Store.Create(ctx, NewSubmission{
		UserID:           req.UserID,
		IdempotencyToken: req.IdempotencyToken,
		EntryName:        req.EntryName,
		ArtifactRef:      ref,
		ArtifactSize:     int64(len(data)),
		ContentType:      req.ContentType,
	})
	if err != nil {
		ticket.Release()
		c.discardArtifact(ctx, ref)
		return sub, err
	}

	if err := ticket.Go(func(jobCtx context.Context) { c.process(jobCtx, sub, data) }); err != nil {
		log.Errorf("[INTAKE] could not schedule %s: %v", sub.ID, err)
		c.fail(ctx, sub, fmt.Errorf("scheduling: %v", err))
		return sub, nil
	}

	log.Infof("[INTAKE] 📥 accepted upload %s for user %s (%d bytes)", sub.ID, sub.UserID, len(data))
	return sub, nil
}

func (c *IntakeController) readUpload(ctx context.Context, body io.Reader) ([]byte, error) {
	if body == nil {
		return nil, validationf("no artifact uploaded")
	}
	if c.UploadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.UploadTimeout)
		defer cancel()
	}

	var buf bytes.Buffer
	limit := c.Parser.MaxBytes
	n, err := io.Copy(&buf, io.LimitReader(&ctxReader{ctx: ctx, r: body}, limit+1))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctxError(ctx.Err())
		}
		return nil, validationf("read upload: %v", err)
	}
	if n > limit {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, limit)
	}
	if n == 0 {
		return nil, validationf("artifact is empty")
	}
	return buf.Bytes(), nil
}

func (c *IntakeController) discardArtifact(ctx context.Context, ref string) {
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), detachedTimeout)
	defer cancel()
	if err := c.Artifacts.Delete(dctx, ref); err != nil {
		log.Warnf("[INTAKE] failed to delete orphaned artifact %s: %v", ref, err)
	}
}

// process runs parse and score under the parse timeout and walks the submission to
// accepted, or rejects it with the failure that stopped it.
func (c *IntakeController) process(ctx context.Context, sub *models.Submission, data []byte) {
	if c.ParseTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.ParseTimeout)
		defer cancel()
	}

	c.stage(ctx, sub.ID, models.StageParsing)
	record, err := c.Parser.Parse(ctx, data, sub.ContentType)
	if err != nil {
		c.fail(ctx, sub, err)
		return
	}

	c.stage(ctx, sub.ID, models.StageScoring)
	scores := c.Scorer.Score(record)
	if err := ctx.Err(); err != nil {
		c.fail(ctx, sub, ctxError(err))
		return
	}

	scored, err := c.Store.Advance(ctx, sub.ID, models.StatusScored, AdvanceParams{
		RunRecord: record,
		Scores:    scores,
		Policy:    c.Scorer.Policy,
	})
	if err != nil {
		c.advanceFailed(ctx, sub, err)
		return
	}

	accepted, err := c.Store.Advance(ctx, sub.ID, models.StatusAccepted, AdvanceParams{})
	if err != nil {
		c.advanceFailed(ctx, scored, err)
		return
	}

	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), detachedTimeout)
	defer cancel()
	if err := c.Aggregator.Invalidate(actx); err != nil {
		log.Warnf("[INTAKE] leaderboard invalidation failed after %s: %v", sub.ID, err)
	}
	if _, err := c.Aggregator.Standings(actx); err != nil {
		log.Warnf("[INTAKE] leaderboard recompute failed after %s: %v", sub.ID, err)
	}
	c.stage(actx, sub.ID, models.StageDone)
	accepted.Stage = models.StageDone

	c.publish(actx, accepted)
	log.Infof("[INTAKE] ✅ submission %s accepted with score %.4f", sub.ID, accepted.Score)
}

// advanceFailed handles an Advance error. Storage failures leave the last good state for
// the reaper; anything else rejects the submission.
func (c *IntakeController) advanceFailed(ctx context.Context, sub *models.Submission, err error) {
	switch {
	case errors.Is(err, ErrStorage):
		log.Errorf("[INTAKE] storage failure advancing %s, left as %s: %v", sub.ID, sub.Status, err)
	case errors.Is(err, ErrInvalidTransition):
		log.Errorf("[INTAKE] ❌ invalid transition for %s: %v", sub.ID, err)
		c.fail(ctx, sub, err)
	default:
		c.fail(ctx, sub, err)
	}
}

// fail rejects sub with the kind derived from err. Runs detached from ctx so a timed out
// job still records why it stopped.
func (c *IntakeController) fail(ctx context.Context, sub *models.Submission, cause error) {
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), detachedTimeout)
	defer cancel()

	kind, reason := failureOf(cause)
	rejected, err := c.Store.Advance(dctx, sub.ID, models.StatusRejected, AdvanceParams{
		FailureKind:   kind,
		FailureReason: reason,
	})
	if err != nil {
		log.Errorf("[INTAKE] failed to reject %s (%s): %v", sub.ID, reason, err)
		return
	}
	log.Warnf("[INTAKE] submission %s rejected: %s: %s", sub.ID, kind, reason)
	c.publish(dctx, rejected)
}

func (c *IntakeController) stage(ctx context.Context, id, stage string) {
	if err := c.Store.SetStage(ctx, id, stage); err != nil {
		log.Warnf("[INTAKE] stage %s not recorded for %s: %v", stage, id, err)
	}
}

func (c *IntakeController) publish(ctx context.Context, sub *models.Submission) {
	if c.Events == nil {
		return
	}
	if err := c.Events.Publish(ctx, NewSubmissionEvent(sub)); err != nil {
		log.Warnf("[EVENTS] failed to publish %s event for %s: %v", sub.Status, sub.ID, err)
	}
}

// failureOf maps an error to the failure kind and the reason shown to the submitter.
// Invalid transitions are internal and never described verbatim.
func failureOf(err error) (kind, reason string) {
	switch {
	case errors.Is(err, ErrValidation):
		return models.FailureValidation, err.Error()
	case errors.Is(err, ErrTimeout):
		return models.FailureTimeout, err.Error()
	case errors.Is(err, ErrStorage):
		return models.FailureStorage, "storage failure, resubmit with a new idempotency token"
	default:
		return models.FailureInternal, "internal error"
	}
}

// RejectStale rejects in-flight submissions created more than staleAfter ago.
func (c *IntakeController) RejectStale(ctx context.Context, staleAfter time.Duration) (int, error) {
	stale, err := c.Store.ListStale(ctx, time.Now().Add(-staleAfter))
	if err != nil {
		return 0, err
	}
	rejected := 0
	for i := range stale {
		sub := &stale[i]
		out, err := c.Store.Advance(ctx, sub.ID, models.StatusRejected, AdvanceParams{
			FailureKind:   models.FailureTimeout,
			FailureReason: fmt.Sprintf("no progress within %s", staleAfter),
		})
		if errors.Is(err, ErrInvalidTransition) {
			continue
		}
		if err != nil {
			return rejected, err
		}
		rejected++
		c.publish(ctx, out)
	}
	return rejected, nil
}

// AuditReport compares stored scores with a fresh re-parse of the stored artifact.
type AuditReport struct {
	SubmissionID  string        `json:"submission_id"`
	ScoringPolicy string        `json:"scoring_policy"`
	Stored        models.Scores `json:"stored"`
	Recomputed    models.Scores `json:"recomputed"`
	Reproduced    bool          `json:"reproduced"`
}

// Audit re-fetches, re-parses and re-scores an accepted submission.
func (c *IntakeController) Audit(ctx context.Context, id string) (*AuditReport, error) {
	sub, err := c.Store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub.Status != models.StatusAccepted {
		return nil, validationf("submission %s is %s; only accepted submissions can be audited", id, sub.Status)
	}

	data, err := c.Artifacts.Fetch(ctx, sub.ArtifactRef)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch artifact %s: %v", ErrStorage, sub.ArtifactRef, err)
	}
	if c.ParseTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.ParseTimeout)
		defer cancel()
	}
	record, err := c.Parser.Parse(ctx, data, sub.ContentType)
	if err != nil {
		return nil, err
	}
	recomputed := c.Scorer.Score(record)

	report := &AuditReport{
		SubmissionID:  sub.ID,
		ScoringPolicy: sub.ScoringPolicy,
		Stored:        sub.Scores(),
		Recomputed:    recomputed,
		Reproduced:    recomputed == sub.Scores() && sub.ScoringPolicy == c.Scorer.Policy,
	}
	if !report.Reproduced {
		log.Warnf("[AUDIT] submission %s not reproduced: stored %+v, recomputed %+v", id, report.Stored, recomputed)
	}
	return report, nil
}
