package domain

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/acedergren/running-days-sub001/internal/persistence"
)

// Sync modes presented by the client.
const (
	SyncModeIncremental = "incremental"
	SyncModeFull        = "full"
)

// SyncBatch is one client sync call: the client's cursor, a batch of locally
// observed workouts, and an idempotency key covering the whole batch.
type SyncBatch struct {
	IdempotencyKey      string
	Mode                string
	Cursor              string
	ClientSyncTimestamp time.Time
	Workouts            []RawWorkout
}

// SyncManifest is the delivery manifest returned for a batch. A replayed
// batch (same idempotency key) returns the previously computed manifest
// verbatim.
type SyncManifest struct {
	SyncID          string     `json:"syncId"`
	ServerTimestamp time.Time  `json:"serverTimestamp"`
	NextCursor      string     `json:"nextCursor"`
	Created         int        `json:"created"`
	Updated         int        `json:"updated"`
	Unchanged       int        `json:"unchanged"`
	Conflicts       []Conflict `json:"conflicts"`
}

// SyncStatus summarises the server's view of a user's sync state.
type SyncStatus struct {
	LastSyncAt    *time.Time
	ServerCursor  string
	TotalWorkouts int
	PendingSync   int // workouts observed by the server but past the cursor
	OldestWorkout *time.Time
	NewestWorkout *time.Time
}

// SyncRepository captures persistence for batch idempotency and cursors.
type SyncRepository interface {
	FindSyncBatch(ctx context.Context, userID, idempotencyKey string) (*SyncManifest, error)
	SaveSyncBatch(ctx context.Context, userID, idempotencyKey string, manifest SyncManifest) error
	LoadCursor(ctx context.Context, userID string) (time.Time, error)
	AdvanceCursor(ctx context.Context, userID string, ts time.Time) error
	ResetCursor(ctx context.Context, userID string) error
	SyncStatus(ctx context.Context, userID string) (SyncStatus, error)
}

// SyncEngine reconciles a client batch against server state:
// cursor-loaded → diffing → applying → manifest-ready.
type SyncEngine struct {
	svc  *Service
	repo SyncRepository
	now  func() time.Time
}

// NewSyncEngine constructs a SyncEngine.
func NewSyncEngine(svc *Service, repo SyncRepository) *SyncEngine {
	return &SyncEngine{svc: svc, repo: repo, now: time.Now}
}

// Apply processes one sync batch. A record that fails to apply individually
// lands in the conflict list; only storage failures abort the batch, and the
// caller can then safely retry the whole call under the same idempotency key.
func (e *SyncEngine) Apply(ctx context.Context, userID string, batch SyncBatch) (SyncManifest, error) {
	if batch.IdempotencyKey != "" {
		prior, err := e.repo.FindSyncBatch(ctx, userID, batch.IdempotencyKey)
		if err != nil {
			return SyncManifest{}, err
		}
		if prior != nil {
			return *prior, nil
		}
	}

	serverCursor, err := e.repo.LoadCursor(ctx, userID)
	if err != nil {
		return SyncManifest{}, err
	}
	if batch.Mode == SyncModeFull {
		// Explicit full resync is the only path that rewinds the cursor.
		if err := e.repo.ResetCursor(ctx, userID); err != nil {
			return SyncManifest{}, err
		}
		serverCursor = time.Time{}
	}

	manifest := SyncManifest{Conflicts: []Conflict{}}
	maxApplied := serverCursor
	if batch.Mode != SyncModeFull && batch.Cursor != "" {
		// Cursors only originate from server manifests, so a presented cursor
		// ahead of the stored one is a replayed acknowledgment: nextCursor
		// never rewinds behind it. An undecodable token is treated as absent.
		if presented, err := persistence.DecodeCursor(batch.Cursor); err == nil && presented.After(maxApplied) {
			maxApplied = presented
		}
	}

	for _, raw := range batch.Workouts {
		res, err := e.svc.Ingest(ctx, userID, SourceSync, raw)
		if err != nil {
			return SyncManifest{}, err
		}

		applied := false
		switch res.Outcome {
		case OutcomeCreated:
			manifest.Created++
			applied = true
		case OutcomeUpdated:
			manifest.Updated++
			applied = true
		case OutcomeDuplicate:
			manifest.Unchanged++
			applied = true
		case OutcomeConflict, OutcomeInvalid:
			manifest.Conflicts = append(manifest.Conflicts, *res.Conflict)
		case OutcomeFiltered:
			// Non-runs are dropped before the resolver and never counted.
		}

		// The cursor tracks the latest timestamp actually applied, not the
		// latest merely seen: conflicted records stay ahead of the cursor so
		// the client keeps being told about them.
		if applied && res.Workout != nil && res.Workout.StartedAt.After(maxApplied) {
			maxApplied = res.Workout.StartedAt
		}
	}

	if maxApplied.After(serverCursor) {
		if err := e.repo.AdvanceCursor(ctx, userID, maxApplied); err != nil {
			return SyncManifest{}, err
		}
	}

	manifest.SyncID = uuid.NewString()
	manifest.ServerTimestamp = e.now().UTC()
	manifest.NextCursor = persistence.EncodeCursor(maxApplied)

	if batch.IdempotencyKey != "" {
		if err := e.repo.SaveSyncBatch(ctx, userID, batch.IdempotencyKey, manifest); err != nil {
			return SyncManifest{}, err
		}
	}
	return manifest, nil
}

// Status reports the server-side sync state for a user.
func (e *SyncEngine) Status(ctx context.Context, userID string) (SyncStatus, error) {
	return e.repo.SyncStatus(ctx, userID)
}
