// Package domain defines the business logic for workout ingestion: identity
// resolution, normalization, aggregate merging, sync reconciliation, and the
// streak/milestone read model.
package domain

import (
	"context"
	"errors"
	"log"
	"time"
)

// IngestOutcome classifies what ingesting one record did.
type IngestOutcome string

const (
	OutcomeCreated   IngestOutcome = "created"
	OutcomeUpdated   IngestOutcome = "updated"   // supplemental metrics filled on an existing record
	OutcomeDuplicate IngestOutcome = "duplicate" // same identity, facts within tolerance, no side effects
	OutcomeConflict  IngestOutcome = "conflict"  // same identity, facts diverged; server record stands
	OutcomeFiltered  IngestOutcome = "filtered"  // not a run, dropped before the resolver
	OutcomeInvalid   IngestOutcome = "invalid"   // failed normalization
)

// IngestResult reports the outcome of ingesting a single raw record.
type IngestResult struct {
	Outcome  IngestOutcome
	Workout  *Workout
	Conflict *Conflict
}

// Service funnels both ingestion paths through the resolver, normalizer, and
// aggregate merger, and fires milestone events when a day count crosses the
// ladder.
type Service struct {
	repo WorkoutRepository
	now  func() time.Time
}

// NewService constructs a Service.
func NewService(repo WorkoutRepository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// Ingest applies one raw workout for the given user. Storage errors are
// returned as-is; every per-record disposition (duplicate, conflict,
// filtered, invalid) is reported in the result instead of as an error so a
// batch can continue past it.
func (s *Service) Ingest(ctx context.Context, userID, source string, raw RawWorkout) (IngestResult, error) {
	w, err := Normalize(userID, source, raw)
	if err != nil {
		if errors.Is(err, ErrNotRunning) {
			return IngestResult{Outcome: OutcomeFiltered}, nil
		}
		return IngestResult{
			Outcome: OutcomeInvalid,
			Conflict: &Conflict{
				ClientID:   raw.ID,
				Reason:     ConflictReasonNormalizationFailed,
				Resolution: ResolutionRejected,
				Detail:     err.Error(),
			},
		}, nil
	}

	w.ID = ResolveWorkoutID(raw.ID, w.StartedAt, w.DurationSeconds)
	w.CreatedAt = s.now().UTC()

	existing, err := s.repo.GetWorkout(ctx, userID, w.ID)
	if err != nil {
		return IngestResult{}, err
	}
	if existing != nil {
		return s.reconcileExisting(ctx, existing, &w)
	}

	res, err := s.repo.CreateWorkout(ctx, w)
	if err != nil {
		if errors.Is(err, ErrDuplicateWorkout) {
			// Lost a race with a concurrent ingest of the same record; the
			// winner's row is authoritative.
			existing, getErr := s.repo.GetWorkout(ctx, userID, w.ID)
			if getErr != nil {
				return IngestResult{}, getErr
			}
			if existing == nil {
				return IngestResult{}, err
			}
			return s.reconcileExisting(ctx, existing, &w)
		}
		return IngestResult{}, err
	}

	s.maybeFireMilestone(ctx, userID, res)

	return IngestResult{Outcome: OutcomeCreated, Workout: &w}, nil
}

// reconcileExisting decides duplicate vs update vs conflict against a stored
// record with the same identity.
func (s *Service) reconcileExisting(ctx context.Context, existing, incoming *Workout) (IngestResult, error) {
	if !FactsMatch(existing, incoming) {
		return IngestResult{
			Outcome: OutcomeConflict,
			Workout: existing,
			Conflict: &Conflict{
				ClientID:   incoming.ID,
				ServerID:   existing.ID,
				Reason:     ConflictReasonFactsDiverged,
				Resolution: ResolutionServerWins,
			},
		}, nil
	}

	if HasSupplemental(existing, incoming) {
		filled, err := s.repo.FillSupplemental(ctx, *incoming)
		if err != nil {
			return IngestResult{}, err
		}
		if filled {
			return IngestResult{Outcome: OutcomeUpdated, Workout: existing}, nil
		}
	}

	return IngestResult{Outcome: OutcomeDuplicate, Workout: existing}, nil
}

// maybeFireMilestone records a milestone event when the post-ingest running
// day total lands exactly on a ladder threshold. Day counts advance by at
// most one per ingest, so equality catches every crossing exactly once.
// Event emission is fire-and-forget from the producer's perspective.
func (s *Service) maybeFireMilestone(ctx context.Context, userID string, res CreateResult) {
	if !res.NewDay {
		return
	}
	threshold, crossed := CrossedMilestone(res.TotalRunDays)
	if !crossed {
		return
	}
	if err := s.repo.RecordMilestone(ctx, userID, threshold, res.TotalRunDays, s.now().UTC()); err != nil {
		log.Printf("milestone event not recorded (user=%s threshold=%d): %v", userID, threshold, err)
	}
}
