// Package postgres provides pgx-backed persistence for workouts, aggregates,
// sync state, and outbound event rows.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/acedergren/running-days-sub001/internal/domain"
	"github.com/acedergren/running-days-sub001/internal/events"
	"github.com/acedergren/running-days-sub001/internal/observability"
	"github.com/acedergren/running-days-sub001/internal/persistence"
)

// Repository provides Postgres-backed persistence for the ingestion core.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const workoutColumns = `workout_id, user_id, day, started_at, ended_at, duration_s, distance_m,
        pace_s_per_km, avg_heart_rate, max_heart_rate, energy_kcal, elevation_gain_m, source, raw_payload, created_at`

// GetWorkout fetches one workout by canonical id. Returns nil when absent.
func (r *Repository) GetWorkout(ctx context.Context, userID, workoutID string) (*domain.Workout, error) {
	query := `SELECT ` + workoutColumns + ` FROM workouts WHERE user_id=$1 AND workout_id=$2`

	row := r.pool.QueryRow(ctx, query, userID, workoutID)
	w, err := scanWorkout(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return w, nil
}

// CreateWorkout persists the workout, folds it into the daily aggregate, and
// records the run.ingested event (webhook deliveries plus the Kafka outbox
// row) inside a single transaction. The aggregate merge is one atomic upsert
// expression so concurrent writers for the same (user, day) never lose
// updates.
func (r *Repository) CreateWorkout(ctx context.Context, w domain.Workout) (domain.CreateResult, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.CreateResult{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	const insertWorkout = `INSERT INTO workouts (` + workoutColumns + `)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`

	_, err = tx.Exec(ctx, insertWorkout,
		w.ID,
		w.UserID,
		w.Day,
		w.StartedAt,
		w.EndedAt,
		w.DurationSeconds,
		w.DistanceMeters,
		w.PaceSecondsPerKm,
		w.AvgHeartRate,
		w.MaxHeartRate,
		w.EnergyKcal,
		w.ElevationGainMeters,
		w.Source,
		w.RawPayload,
		w.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			err = domain.ErrDuplicateWorkout
		}
		return domain.CreateResult{}, err
	}

	// Count and sums are additive, extremes monotonic; avg pace is never
	// stored, it is derived from the totals at read time.
	const mergeAggregate = `INSERT INTO daily_aggregates
            (user_id, day, run_count, total_distance_m, total_duration_s, longest_run_m, fastest_pace_s_per_km, updated_at)
        VALUES ($1,$2,1,$3,$4,$3,$5,NOW())
        ON CONFLICT (user_id, day) DO UPDATE SET
            run_count             = daily_aggregates.run_count + 1,
            total_distance_m      = daily_aggregates.total_distance_m + EXCLUDED.total_distance_m,
            total_duration_s      = daily_aggregates.total_duration_s + EXCLUDED.total_duration_s,
            longest_run_m         = GREATEST(daily_aggregates.longest_run_m, EXCLUDED.longest_run_m),
            fastest_pace_s_per_km = LEAST(
                COALESCE(daily_aggregates.fastest_pace_s_per_km, EXCLUDED.fastest_pace_s_per_km),
                COALESCE(EXCLUDED.fastest_pace_s_per_km, daily_aggregates.fastest_pace_s_per_km)),
            updated_at            = NOW()
        RETURNING run_count`

	var runCount int
	if err = tx.QueryRow(ctx, mergeAggregate, w.UserID, w.Day, w.DistanceMeters, w.DurationSeconds, w.PaceSecondsPerKm).Scan(&runCount); err != nil {
		return domain.CreateResult{}, err
	}

	result := domain.CreateResult{NewDay: runCount == 1}
	if result.NewDay {
		// Serialize the count per user: two first-runs-of-different-days
		// committing together must not both read the same day total, or a
		// ladder crossing fires twice or not at all. The lock is held to
		// commit, so the loser counts the winner's committed day row.
		if _, err = tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, w.UserID); err != nil {
			return domain.CreateResult{}, err
		}
		yearStart := time.Date(w.Day.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
		if err = tx.QueryRow(ctx,
			`SELECT COUNT(*) FROM daily_aggregates WHERE user_id=$1 AND day >= $2 AND day < $3`,
			w.UserID, yearStart, yearStart.AddDate(1, 0, 0),
		).Scan(&result.TotalRunDays); err != nil {
			return domain.CreateResult{}, err
		}
	}

	event := events.RunIngested{
		EventID:         uuid.NewString(),
		WorkoutID:       w.ID,
		UserID:          w.UserID,
		Day:             w.Day.Format("2006-01-02"),
		StartedAt:       w.StartedAt,
		DurationSeconds: w.DurationSeconds,
		DistanceMeters:  w.DistanceMeters,
		Source:          w.Source,
	}
	body, err := json.Marshal(event)
	if err != nil {
		return domain.CreateResult{}, err
	}
	if err = fanOutDeliveries(ctx, tx, event.EventID, w.UserID, events.TypeRunIngested, body, w.CreatedAt); err != nil {
		return domain.CreateResult{}, err
	}
	if err = insertOutbox(ctx, tx, "workout", w.ID, events.TypeRunIngested, w.UserID, event); err != nil {
		return domain.CreateResult{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return domain.CreateResult{}, err
	}
	observability.RecordWorkoutPersisted(w.CreatedAt)
	return result, nil
}

// FillSupplemental writes optional metrics onto an existing workout, but only
// into fields that are currently null. Reports whether anything changed.
func (r *Repository) FillSupplemental(ctx context.Context, w domain.Workout) (bool, error) {
	const stmt = `UPDATE workouts SET
            avg_heart_rate   = COALESCE(avg_heart_rate, $3),
            max_heart_rate   = COALESCE(max_heart_rate, $4),
            energy_kcal      = COALESCE(energy_kcal, $5),
            elevation_gain_m = COALESCE(elevation_gain_m, $6)
        WHERE user_id=$1 AND workout_id=$2 AND (
            (avg_heart_rate IS NULL AND $3::float8 IS NOT NULL) OR
            (max_heart_rate IS NULL AND $4::float8 IS NOT NULL) OR
            (energy_kcal IS NULL AND $5::float8 IS NOT NULL) OR
            (elevation_gain_m IS NULL AND $6::float8 IS NOT NULL))`

	tag, err := r.pool.Exec(ctx, stmt, w.UserID, w.ID, w.AvgHeartRate, w.MaxHeartRate, w.EnergyKcal, w.ElevationGainMeters)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// RecordMilestone creates the milestone event, one pending delivery per
// active subscriber registered for it, and the Kafka outbox row, atomically.
func (r *Repository) RecordMilestone(ctx context.Context, userID string, threshold, totalRunDays int, occurredAt time.Time) error {
	payload := events.MilestoneReached{
		EventID:      uuid.NewString(),
		UserID:       userID,
		Threshold:    threshold,
		TotalRunDays: totalRunDays,
		OccurredAt:   occurredAt,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	if err = fanOutDeliveries(ctx, tx, payload.EventID, userID, events.TypeMilestoneReached, body, occurredAt); err != nil {
		return err
	}

	if err = insertOutbox(ctx, tx, "milestone", payload.EventID, events.TypeMilestoneReached, userID, payload); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// FindSyncBatch returns the stored manifest for an idempotency key, or nil.
func (r *Repository) FindSyncBatch(ctx context.Context, userID, idempotencyKey string) (*domain.SyncManifest, error) {
	var raw []byte
	err := r.pool.QueryRow(ctx,
		`SELECT manifest FROM sync_batches WHERE user_id=$1 AND idempotency_key=$2`,
		userID, idempotencyKey,
	).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	var manifest domain.SyncManifest
	if err := json.Unmarshal(raw, &manifest); err != nil {
		return nil, fmt.Errorf("corrupt sync manifest for key %s: %w", idempotencyKey, err)
	}
	return &manifest, nil
}

// SaveSyncBatch stores the manifest under the batch idempotency key. A replay
// racing the original keeps the first manifest.
func (r *Repository) SaveSyncBatch(ctx context.Context, userID, idempotencyKey string, manifest domain.SyncManifest) error {
	body, err := json.Marshal(manifest)
	if err != nil {
		return err
	}
	if _, err := r.pool.Exec(ctx,
		`INSERT INTO sync_batches (user_id, idempotency_key, sync_id, manifest)
         VALUES ($1,$2,$3,$4)
         ON CONFLICT (user_id, idempotency_key) DO NOTHING`,
		userID, idempotencyKey, manifest.SyncID, body,
	); err != nil {
		return err
	}

	_, err = r.pool.Exec(ctx,
		`INSERT INTO sync_cursors (user_id, last_sync_at, updated_at) VALUES ($1, NOW(), NOW())
         ON CONFLICT (user_id) DO UPDATE SET last_sync_at = NOW(), updated_at = NOW()`,
		userID,
	)
	return err
}

// LoadCursor returns the user's cursor position; zero time when none exists.
func (r *Repository) LoadCursor(ctx context.Context, userID string) (time.Time, error) {
	var position time.Time
	err := r.pool.QueryRow(ctx, `SELECT position FROM sync_cursors WHERE user_id=$1`, userID).Scan(&position)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return time.Time{}, nil
		}
		return time.Time{}, err
	}
	if position.Unix() <= 0 {
		return time.Time{}, nil
	}
	return position.UTC(), nil
}

// AdvanceCursor moves the cursor forward, never backward: GREATEST keeps the
// advance monotonic under concurrent syncs.
func (r *Repository) AdvanceCursor(ctx context.Context, userID string, ts time.Time) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO sync_cursors (user_id, position, last_sync_at, updated_at) VALUES ($1,$2,NOW(),NOW())
         ON CONFLICT (user_id) DO UPDATE SET
            position = GREATEST(sync_cursors.position, EXCLUDED.position),
            last_sync_at = NOW(),
            updated_at = NOW()`,
		userID, ts.UTC(),
	)
	return err
}

// ResetCursor rewinds the cursor for an explicit full resync.
func (r *Repository) ResetCursor(ctx context.Context, userID string) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO sync_cursors (user_id, position, updated_at) VALUES ($1,'epoch',NOW())
         ON CONFLICT (user_id) DO UPDATE SET position = 'epoch', updated_at = NOW()`,
		userID,
	)
	return err
}

// SyncStatus reports the server-side view of a user's sync state.
func (r *Repository) SyncStatus(ctx context.Context, userID string) (domain.SyncStatus, error) {
	var status domain.SyncStatus

	var position time.Time
	var lastSyncAt *time.Time
	err := r.pool.QueryRow(ctx,
		`SELECT position, last_sync_at FROM sync_cursors WHERE user_id=$1`, userID,
	).Scan(&position, &lastSyncAt)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return domain.SyncStatus{}, err
	}
	status.LastSyncAt = lastSyncAt
	if position.Unix() > 0 {
		status.ServerCursor = persistence.EncodeCursor(position)
	}

	err = r.pool.QueryRow(ctx,
		`SELECT COUNT(*),
                COUNT(*) FILTER (WHERE started_at > $2),
                MIN(started_at), MAX(started_at)
           FROM workouts WHERE user_id=$1`,
		userID, position,
	).Scan(&status.TotalWorkouts, &status.PendingSync, &status.OldestWorkout, &status.NewestWorkout)
	if err != nil {
		return domain.SyncStatus{}, err
	}
	return status, nil
}

// ListRunDays returns the distinct days with at least one run in a year.
func (r *Repository) ListRunDays(ctx context.Context, userID string, year int) ([]time.Time, error) {
	yearStart := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	rows, err := r.pool.Query(ctx,
		`SELECT day FROM daily_aggregates WHERE user_id=$1 AND day >= $2 AND day < $3 ORDER BY day`,
		userID, yearStart, yearStart.AddDate(1, 0, 0),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	days := make([]time.Time, 0)
	for rows.Next() {
		var day time.Time
		if err := rows.Scan(&day); err != nil {
			return nil, err
		}
		days = append(days, day.UTC())
	}
	return days, rows.Err()
}

// ListAggregates returns daily aggregates in [from, to) ordered by day.
func (r *Repository) ListAggregates(ctx context.Context, userID string, from, to time.Time) ([]domain.DailyAggregate, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT user_id, day, run_count, total_distance_m, total_duration_s, longest_run_m, fastest_pace_s_per_km, updated_at
           FROM daily_aggregates
          WHERE user_id=$1 AND day >= $2 AND day < $3
          ORDER BY day`,
		userID, from, to,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	aggregates := make([]domain.DailyAggregate, 0)
	for rows.Next() {
		var agg domain.DailyAggregate
		if err := rows.Scan(&agg.UserID, &agg.Day, &agg.RunCount, &agg.TotalDistanceMeters,
			&agg.TotalDurationSeconds, &agg.LongestRunMeters, &agg.FastestPaceSecPerKm, &agg.UpdatedAt); err != nil {
			return nil, err
		}
		agg.Day = agg.Day.UTC()
		aggregates = append(aggregates, agg)
	}
	return aggregates, rows.Err()
}

// ResolveWebhookToken maps an export token to its owning user.
func (r *Repository) ResolveWebhookToken(ctx context.Context, token string) (string, error) {
	var userID string
	err := r.pool.QueryRow(ctx, `SELECT user_id FROM webhook_tokens WHERE token=$1`, token).Scan(&userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", domain.ErrUnknownWebhookToken
		}
		return "", err
	}
	return userID, nil
}

func scanWorkout(row pgx.Row) (*domain.Workout, error) {
	var w domain.Workout
	if err := row.Scan(&w.ID, &w.UserID, &w.Day, &w.StartedAt, &w.EndedAt, &w.DurationSeconds, &w.DistanceMeters,
		&w.PaceSecondsPerKm, &w.AvgHeartRate, &w.MaxHeartRate, &w.EnergyKcal, &w.ElevationGainMeters,
		&w.Source, &w.RawPayload, &w.CreatedAt); err != nil {
		return nil, err
	}
	w.Day = w.Day.UTC()
	return &w, nil
}

// fanOutDeliveries records the delivery event plus one pending delivery row
// per active subscriber registered for the event type. The signed body is
// frozen here; redeliveries always carry it unchanged.
func fanOutDeliveries(ctx context.Context, tx pgx.Tx, eventID, userID, eventType string, body []byte, occurredAt time.Time) error {
	if _, err := tx.Exec(ctx,
		`INSERT INTO delivery_events (event_id, user_id, event_type, payload, created_at) VALUES ($1,$2,$3,$4,$5)`,
		eventID, userID, eventType, body, occurredAt,
	); err != nil {
		return err
	}

	_, err := tx.Exec(ctx,
		`INSERT INTO deliveries (event_id, subscriber_id, event_type, payload, status, next_retry_at)
         SELECT $1, s.subscriber_id, $2, $3, 'pending', NOW()
           FROM subscribers s
          WHERE s.active AND $2 = ANY(s.events)
         ON CONFLICT (event_id, subscriber_id) DO NOTHING`,
		eventID, eventType, body,
	)
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// EventMetadata describes how to route an outbox event to Kafka.
type EventMetadata struct {
	Topic         string
	SchemaSubject string
}

var eventCatalog = map[string]EventMetadata{
	events.TypeRunIngested: {
		Topic:         "run_events",
		SchemaSubject: "run_events-value",
	},
	events.TypeMilestoneReached: {
		Topic:         "milestone_events",
		SchemaSubject: "milestone_events-value",
	},
}

func insertOutbox(ctx context.Context, tx pgx.Tx, aggregateType, aggregateID, eventType, partitionKey string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	meta := eventCatalog[eventType]
	if meta.Topic == "" {
		return fmt.Errorf("unknown event type: %s", eventType)
	}

	dedupeKey := fmt.Sprintf("%s:%s", aggregateID, eventType)

	const stmt = `INSERT INTO outbox (aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload, dedupe_key)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
        ON CONFLICT (dedupe_key) DO NOTHING`

	_, err = tx.Exec(ctx, stmt,
		aggregateType,
		aggregateID,
		eventType,
		meta.Topic,
		meta.SchemaSubject,
		partitionKey,
		body,
		dedupeKey,
	)
	return err
}
