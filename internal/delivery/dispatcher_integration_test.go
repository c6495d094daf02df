//go:build integration

package delivery_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	postgrescontainer "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/acedergren/running-days-sub001/internal/delivery"
	"github.com/acedergren/running-days-sub001/internal/events"
	persistence "github.com/acedergren/running-days-sub001/internal/persistence/postgres"
)

func setupPostgres(t *testing.T, ctx context.Context) *pgxpool.Pool {
	t.Helper()

	pg, err := postgrescontainer.RunContainer(ctx,
		postgrescontainer.WithDatabase("runningdays"),
		postgrescontainer.WithUsername("running"),
		postgrescontainer.WithPassword("running"),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pg.Terminate(ctx) })

	connStr, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	require.NoError(t, waitForDatabase(ctx, connStr))

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	require.NoError(t, persistence.Migrate(ctx, pool))
	return pool
}

func waitForDatabase(ctx context.Context, connStr string) error {
	deadline := time.Now().Add(30 * time.Second)
	for {
		pool, err := pgxpool.New(ctx, connStr)
		if err == nil {
			err = pool.Ping(ctx)
			pool.Close()
			if err == nil {
				return nil
			}
		}
		if time.Now().After(deadline) {
			return err
		}
		time.Sleep(time.Second)
	}
}

func seedDelivery(t *testing.T, ctx context.Context, pool *pgxpool.Pool, url, secret string, maxRetries int) (subscriberID, eventID string, payload []byte) {
	t.Helper()

	subscriberID = uuid.NewString()
	eventID = uuid.NewString()

	_, err := pool.Exec(ctx,
		`INSERT INTO subscribers (subscriber_id, url, secret, events, max_retries, timeout_ms, active)
         VALUES ($1,$2,$3,$4,$5,2000,TRUE)`,
		subscriberID, url, secret, []string{events.TypeMilestoneReached}, maxRetries,
	)
	require.NoError(t, err)

	payload, err = json.Marshal(events.MilestoneReached{
		EventID:      eventID,
		UserID:       uuid.NewString(),
		Threshold:    50,
		TotalRunDays: 50,
		OccurredAt:   time.Now().UTC(),
	})
	require.NoError(t, err)

	_, err = pool.Exec(ctx,
		`INSERT INTO delivery_events (event_id, user_id, event_type, payload) VALUES ($1,$2,$3,$4)`,
		eventID, "user-1", events.TypeMilestoneReached, payload,
	)
	require.NoError(t, err)

	_, err = pool.Exec(ctx,
		`INSERT INTO deliveries (event_id, subscriber_id, event_type, payload, status, next_retry_at)
         VALUES ($1,$2,$3,$4,'pending',NOW())`,
		eventID, subscriberID, events.TypeMilestoneReached, payload,
	)
	require.NoError(t, err)
	return subscriberID, eventID, payload
}

func waitForStatus(t *testing.T, ctx context.Context, pool *pgxpool.Pool, eventID, want string) {
	t.Helper()
	deadline := time.Now().Add(20 * time.Second)
	for {
		var status string
		err := pool.QueryRow(ctx, `SELECT status FROM deliveries WHERE event_id=$1`, eventID).Scan(&status)
		require.NoError(t, err)
		if status == want {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("delivery never reached %s, last status %s", want, status)
		}
		time.Sleep(100 * time.Millisecond)
	}
}

func TestDispatcherDeliversSignedPayload(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool := setupPostgres(t, ctx)

	var mu sync.Mutex
	var gotSignature, gotAttempt, gotEventType string
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		gotSignature = r.Header.Get("X-Signature")
		gotAttempt = r.Header.Get("X-Delivery-Attempt")
		gotEventType = r.Header.Get("X-Event-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	_, eventID, payload := seedDelivery(t, ctx, pool, server.URL, "topsecret", 3)

	dispatcher := delivery.NewDispatcher(pool, delivery.Config{
		PollInterval: 50 * time.Millisecond,
		BaseDelay:    10 * time.Millisecond,
	})
	go dispatcher.Start(ctx)

	waitForStatus(t, ctx, pool, eventID, delivery.StatusSuccess)
	cancel()
	dispatcher.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, "1", gotAttempt)
	require.Equal(t, events.TypeMilestoneReached, gotEventType)
	require.JSONEq(t, string(payload), string(gotBody))
	require.True(t, delivery.VerifySignature("topsecret", gotBody, gotSignature))
}

func TestDispatcherExhaustsAndTripsBreaker(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool := setupPostgres(t, ctx)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer server.Close()

	subscriberID, eventID, _ := seedDelivery(t, ctx, pool, server.URL, "topsecret", 2)

	dispatcher := delivery.NewDispatcher(pool, delivery.Config{
		PollInterval:     50 * time.Millisecond,
		BaseDelay:        10 * time.Millisecond,
		MaxDelay:         50 * time.Millisecond,
		FailureThreshold: 1,
	})
	go dispatcher.Start(ctx)

	waitForStatus(t, ctx, pool, eventID, delivery.StatusExhausted)
	cancel()
	dispatcher.Wait()

	var attempts, lastStatus int
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT attempt_count, last_status FROM deliveries WHERE event_id=$1`, eventID,
	).Scan(&attempts, &lastStatus))
	require.Equal(t, 2, attempts, "exhaustion happens exactly at the retry budget")
	require.Equal(t, http.StatusInternalServerError, lastStatus)

	var active bool
	var failures int
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT active, consecutive_failures FROM subscribers WHERE subscriber_id=$1`, subscriberID,
	).Scan(&active, &failures))
	require.False(t, active, "breaker must deactivate the subscriber")
	require.Equal(t, 1, failures)
}
