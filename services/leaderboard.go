package services

import (
	"context"
	"sort"
	"sync"

	"bench2drive-leaderboard/models"

	"github.com/gofiber/fiber/v2/log"
	"github.com/gosimple/slug"
)

// AcceptedLister is the read the aggregator needs from the store.
type AcceptedLister interface {
	ListAccepted(ctx context.Context) ([]AcceptedSubmission, error)
}

type LeaderboardAggregator struct {
	store AcceptedLister
	cache LeaderboardCache

	// mu orders bumps; stale is set while the last bump failed and cached snapshots may
	// predate an accepted submission.
	mu    sync.Mutex
	stale bool
}

// NewLeaderboardAggregator builds an aggregator. cache may be nil, in which case every
// Standings call computes.
func NewLeaderboardAggregator(store AcceptedLister, cache LeaderboardCache) *LeaderboardAggregator {
	return &LeaderboardAggregator{store: store, cache: cache}
}

// Compute ranks the accepted set as read by a single query.
func (a *LeaderboardAggregator) Compute(ctx context.Context) ([]models.LeaderboardEntry, error) {
	rows, err := a.store.ListAccepted(ctx)
	if err != nil {
		return nil, err
	}
	return RankSubmissions(rows), nil
}

// Standings returns the cached snapshot for the current generation, computing and
// storing it on a miss. After a failed invalidation the bump is retried first and the
// cache is bypassed until it succeeds.
func (a *LeaderboardAggregator) Standings(ctx context.Context) ([]models.LeaderboardEntry, error) {
	if a.cache == nil {
		return a.Compute(ctx)
	}
	if a.needsBump() {
		if err := a.Invalidate(ctx); err != nil {
			return a.Compute(ctx)
		}
		log.Info("[LEADERBOARD] cache invalidation recovered")
	}

	gen, err := a.cache.Generation(ctx)
	if err != nil {
		log.Warnf("[LEADERBOARD] cache generation unavailable: %v", err)
		return a.Compute(ctx)
	}
	if entries, ok, err := a.cache.Get(ctx, gen); err != nil {
		log.Warnf("[LEADERBOARD] cache read failed: %v", err)
	} else if ok {
		return entries, nil
	}

	entries, err := a.Compute(ctx)
	if err != nil {
		return nil, err
	}
	// Stored under the generation read before computing, so a snapshot that raced an
	// invalidation is never served.
	if err := a.cache.Set(ctx, gen, entries); err != nil {
		log.Warnf("[LEADERBOARD] cache write failed: %v", err)
	}
	return entries, nil
}

// Invalidate retires every snapshot computed so far.
func (a *LeaderboardAggregator) Invalidate(ctx context.Context) error {
	if a.cache == nil {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, err := a.cache.Bump(ctx); err != nil {
		a.stale = true
		log.Errorf("[LEADERBOARD] invalidate failed, bypassing cache until it succeeds: %v", err)
		return err
	}
	a.stale = false
	return nil
}

func (a *LeaderboardAggregator) needsBump() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stale
}

// Rebuild invalidates and recomputes, leaving a fresh snapshot in the cache.
func (a *LeaderboardAggregator) Rebuild(ctx context.Context) ([]models.LeaderboardEntry, error) {
	if err := a.Invalidate(ctx); err != nil {
		return a.Compute(ctx)
	}
	return a.Standings(ctx)
}

// RankSubmissions keeps each user's best accepted submission and orders the result by
// score desc, then earlier submission, then submission id. Pure.
func RankSubmissions(rows []AcceptedSubmission) []models.LeaderboardEntry {
	best := make(map[string]AcceptedSubmission)
	counts := make(map[string]int)
	for _, row := range rows {
		counts[row.UserID]++
		cur, ok := best[row.UserID]
		if !ok || outranks(row.Submission, cur.Submission) {
			best[row.UserID] = row
		}
	}

	entries := make([]models.LeaderboardEntry, 0, len(best))
	for userID, row := range best {
		name := row.EntryName
		if name == "" {
			name = row.Username
		}
		entries = append(entries, models.LeaderboardEntry{
			Entry:             name,
			Slug:              slug.Make(row.Username),
			UserID:            userID,
			SubmissionID:      row.ID,
			Score:             row.Score,
			DrivingScore:      row.DrivingScore,
			RouteCompletion:   row.RouteCompletion,
			InfractionPenalty: row.InfractionPenalty,
			Submissions:       counts[userID],
			SubmittedAt:       row.CreatedAt,
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if !a.SubmittedAt.Equal(b.SubmittedAt) {
			return a.SubmittedAt.Before(b.SubmittedAt)
		}
		return a.SubmissionID < b.SubmissionID
	})
	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries
}

func outranks(a, b models.Submission) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}
