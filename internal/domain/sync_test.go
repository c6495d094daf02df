package domain

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/acedergren/running-days-sub001/internal/persistence"
)

func newTestEngine() (*SyncEngine, *fakeRepo, *fakeSyncRepo) {
	repo := newFakeRepo()
	syncRepo := newFakeSyncRepo()
	engine := NewSyncEngine(NewService(repo), syncRepo)
	return engine, repo, syncRepo
}

func TestSyncApplyCountsOutcomes(t *testing.T) {
	engine, repo, _ := newTestEngine()
	ctx := context.Background()

	start := time.Date(2025, time.March, 3, 6, 30, 0, 0, time.UTC)
	_, err := NewService(repo).Ingest(ctx, "user-1", SourceWebhook, runRaw("seen", start, 1800, 5000))
	require.NoError(t, err)

	batch := SyncBatch{
		IdempotencyKey: "batch-1",
		Mode:           SyncModeIncremental,
		Workouts: []RawWorkout{
			runRaw("new", start.Add(24*time.Hour), 2400, 8000),
			runRaw("seen", start, 1800, 5000),
			runRaw("seen", start, 1800, 9000), // same id, facts diverged
			{Name: "Yoga", Start: start, Duration: Quantity{Qty: 600}},
		},
	}

	manifest, err := engine.Apply(ctx, "user-1", batch)
	require.NoError(t, err)
	require.Equal(t, 1, manifest.Created)
	require.Equal(t, 0, manifest.Updated)
	require.Equal(t, 1, manifest.Unchanged)
	require.Len(t, manifest.Conflicts, 1)
	require.Equal(t, ConflictReasonFactsDiverged, manifest.Conflicts[0].Reason)
	require.NotEmpty(t, manifest.SyncID)
	require.NotEmpty(t, manifest.NextCursor)
}

func TestSyncApplyReplaysByIdempotencyKey(t *testing.T) {
	engine, repo, _ := newTestEngine()
	ctx := context.Background()

	start := time.Date(2025, time.March, 3, 6, 30, 0, 0, time.UTC)
	batch := SyncBatch{
		IdempotencyKey: "batch-1",
		Workouts:       []RawWorkout{runRaw("w-1", start, 1800, 5000)},
	}

	first, err := engine.Apply(ctx, "user-1", batch)
	require.NoError(t, err)
	require.Equal(t, 1, first.Created)

	second, err := engine.Apply(ctx, "user-1", batch)
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, 1, repo.createCalls, "replay must not re-apply records")
}

func TestSyncApplyAdvancesCursorMonotonically(t *testing.T) {
	engine, _, syncRepo := newTestEngine()
	ctx := context.Background()

	late := time.Date(2025, time.March, 10, 7, 0, 0, 0, time.UTC)
	early := time.Date(2025, time.March, 1, 7, 0, 0, 0, time.UTC)

	_, err := engine.Apply(ctx, "user-1", SyncBatch{
		IdempotencyKey: "batch-late",
		Workouts:       []RawWorkout{runRaw("late", late, 1800, 5000)},
	})
	require.NoError(t, err)
	require.Equal(t, late, syncRepo.cursors["user-1"])

	// An older record applies but never rewinds the cursor.
	manifest, err := engine.Apply(ctx, "user-1", SyncBatch{
		IdempotencyKey: "batch-early",
		Workouts:       []RawWorkout{runRaw("early", early, 1800, 5000)},
	})
	require.NoError(t, err)
	require.Equal(t, 1, manifest.Created)
	require.Equal(t, late, syncRepo.cursors["user-1"])

	decoded, err := persistence.DecodeCursor(manifest.NextCursor)
	require.NoError(t, err)
	require.Equal(t, late, decoded)
}

func TestSyncApplyConflictDoesNotAdvanceCursor(t *testing.T) {
	engine, repo, syncRepo := newTestEngine()
	ctx := context.Background()

	start := time.Date(2025, time.March, 3, 6, 30, 0, 0, time.UTC)
	_, err := NewService(repo).Ingest(ctx, "user-1", SourceWebhook, runRaw("w-1", start, 1800, 5000))
	require.NoError(t, err)

	conflicting := runRaw("w-1", start.Add(48*time.Hour), 1800, 9000)
	conflicting.ID = "w-1"
	manifest, err := engine.Apply(ctx, "user-1", SyncBatch{
		IdempotencyKey: "batch-1",
		Workouts:       []RawWorkout{conflicting},
	})
	require.NoError(t, err)
	require.Len(t, manifest.Conflicts, 1)
	require.True(t, syncRepo.cursors["user-1"].IsZero(), "conflicted records stay ahead of the cursor")
}

func TestSyncApplyNextCursorNeverBehindPresented(t *testing.T) {
	engine, _, syncRepo := newTestEngine()
	ctx := context.Background()

	presented := time.Date(2025, time.March, 10, 7, 0, 0, 0, time.UTC)
	early := time.Date(2025, time.March, 1, 7, 0, 0, 0, time.UTC)

	// The client presents a cursor ahead of everything in the batch; the
	// returned cursor must not rewind behind it.
	manifest, err := engine.Apply(ctx, "user-1", SyncBatch{
		IdempotencyKey: "batch-1",
		Cursor:         persistence.EncodeCursor(presented),
		Workouts:       []RawWorkout{runRaw("early", early, 1800, 5000)},
	})
	require.NoError(t, err)
	require.Equal(t, 1, manifest.Created)

	decoded, err := persistence.DecodeCursor(manifest.NextCursor)
	require.NoError(t, err)
	require.Equal(t, presented, decoded)
	require.Equal(t, presented, syncRepo.cursors["user-1"])

	// An undecodable token is treated as absent, not a batch failure.
	manifest, err = engine.Apply(ctx, "user-1", SyncBatch{
		IdempotencyKey: "batch-2",
		Cursor:         "not-a-cursor",
	})
	require.NoError(t, err)
	decoded, err = persistence.DecodeCursor(manifest.NextCursor)
	require.NoError(t, err)
	require.Equal(t, presented, decoded)
}

func TestSyncApplyFullModeResetsCursor(t *testing.T) {
	engine, _, syncRepo := newTestEngine()
	ctx := context.Background()

	start := time.Date(2025, time.March, 10, 7, 0, 0, 0, time.UTC)
	_, err := engine.Apply(ctx, "user-1", SyncBatch{
		IdempotencyKey: "batch-1",
		Workouts:       []RawWorkout{runRaw("w-1", start, 1800, 5000)},
	})
	require.NoError(t, err)
	require.False(t, syncRepo.cursors["user-1"].IsZero())

	_, err = engine.Apply(ctx, "user-1", SyncBatch{
		IdempotencyKey: "batch-2",
		Mode:           SyncModeFull,
	})
	require.NoError(t, err)
	require.Equal(t, 1, syncRepo.resetCalls)
}

// fakeSyncRepo is an in-memory SyncRepository.
type fakeSyncRepo struct {
	manifests  map[string]SyncManifest
	cursors    map[string]time.Time
	resetCalls int
}

func newFakeSyncRepo() *fakeSyncRepo {
	return &fakeSyncRepo{manifests: map[string]SyncManifest{}, cursors: map[string]time.Time{}}
}

func (f *fakeSyncRepo) FindSyncBatch(_ context.Context, userID, key string) (*SyncManifest, error) {
	m, ok := f.manifests[userID+"/"+key]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

func (f *fakeSyncRepo) SaveSyncBatch(_ context.Context, userID, key string, manifest SyncManifest) error {
	f.manifests[userID+"/"+key] = manifest
	return nil
}

func (f *fakeSyncRepo) LoadCursor(_ context.Context, userID string) (time.Time, error) {
	return f.cursors[userID], nil
}

func (f *fakeSyncRepo) AdvanceCursor(_ context.Context, userID string, ts time.Time) error {
	if ts.After(f.cursors[userID]) {
		f.cursors[userID] = ts
	}
	return nil
}

func (f *fakeSyncRepo) ResetCursor(_ context.Context, userID string) error {
	f.resetCalls++
	f.cursors[userID] = time.Time{}
	return nil
}

func (f *fakeSyncRepo) SyncStatus(_ context.Context, userID string) (SyncStatus, error) {
	return SyncStatus{ServerCursor: persistence.EncodeCursor(f.cursors[userID])}, nil
}
