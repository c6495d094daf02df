// Package delivery sends milestone events to registered subscriber endpoints
// with signed payloads, retries on exponential backoff, and a per-subscriber
// circuit breaker.
package delivery

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	defaultTimeoutMs    = 10000
	responseExcerptSize = 512
	staleClaimAge       = 5 * time.Minute
)

// Config holds dispatcher tunables.
type Config struct {
	PollInterval     time.Duration
	BatchSize        int
	Concurrency      int
	BaseDelay        time.Duration
	MaxDelay         time.Duration
	FailureThreshold int // consecutive exhausted deliveries before deactivation
}

// Dispatcher drains due delivery rows and attempts HTTP delivery. Rows are
// claimed with FOR UPDATE SKIP LOCKED and flipped to in_flight, so no two
// dispatcher instances ever attempt the same delivery concurrently.
type Dispatcher struct {
	pool             *pgxpool.Pool
	client           *http.Client
	cfg              Config
	logger           *log.Logger
	shutdownComplete chan struct{}
}

// NewDispatcher constructs a Dispatcher, applying defaults for zero values.
func NewDispatcher(pool *pgxpool.Pool, cfg Config) *Dispatcher {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 30 * time.Second
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = time.Hour
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}
	return &Dispatcher{
		pool: pool,
		// Per-attempt deadlines come from the subscriber's timeout_ms via
		// request contexts; the client itself stays unbounded.
		client:           &http.Client{},
		cfg:              cfg,
		logger:           log.New(log.Writer(), "[delivery] ", log.LstdFlags|log.Lshortfile),
		shutdownComplete: make(chan struct{}),
	}
}

// Start launches the polling loop. It should be called in a goroutine.
func (d *Dispatcher) Start(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer func() {
		ticker.Stop()
		close(d.shutdownComplete)
	}()

	for {
		if err := d.processBatch(ctx); err != nil && !errors.Is(err, context.Canceled) {
			d.logger.Printf("batch error: %v", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Wait blocks until the dispatcher has stopped.
func (d *Dispatcher) Wait() {
	<-d.shutdownComplete
}

func (d *Dispatcher) processBatch(ctx context.Context) error {
	if err := d.requeueStale(ctx); err != nil {
		return err
	}

	tasks, err := d.claimDue(ctx)
	if err != nil {
		return err
	}
	if len(tasks) == 0 {
		return nil
	}

	sem := make(chan struct{}, d.cfg.Concurrency)
	var wg sync.WaitGroup
	for _, task := range tasks {
		wg.Add(1)
		sem <- struct{}{}
		go func(t deliveryTask) {
			defer wg.Done()
			defer func() { <-sem }()
			d.attempt(ctx, t)
		}(task)
	}
	wg.Wait()
	return nil
}

// requeueStale returns in_flight rows abandoned by a crashed dispatcher to
// the pending pool.
func (d *Dispatcher) requeueStale(ctx context.Context) error {
	_, err := d.pool.Exec(ctx,
		`UPDATE deliveries SET status='pending', updated_at=NOW()
          WHERE status='in_flight' AND claimed_at < NOW() - $1::interval`,
		staleClaimAge,
	)
	return err
}

type deliveryTask struct {
	DeliveryID   int64
	EventID      string
	EventType    string
	Payload      []byte
	AttemptCount int
	SubscriberID string
	URL          string
	Secret       string
	MaxRetries   int
	TimeoutMs    int
}

func (d *Dispatcher) claimDue(ctx context.Context) ([]deliveryTask, error) {
	rows, err := d.pool.Query(ctx,
		`WITH due AS (
            SELECT delivery_id FROM deliveries
             WHERE status='pending' AND next_retry_at <= NOW()
             ORDER BY next_retry_at
             LIMIT $1
             FOR UPDATE SKIP LOCKED
         )
         UPDATE deliveries d
            SET status='in_flight', claimed_at=NOW(), updated_at=NOW()
           FROM due, subscribers s
          WHERE d.delivery_id = due.delivery_id AND s.subscriber_id = d.subscriber_id
         RETURNING d.delivery_id, d.event_id, d.event_type, d.payload, d.attempt_count,
                   s.subscriber_id, s.url, s.secret, s.max_retries, s.timeout_ms`,
		d.cfg.BatchSize,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tasks := make([]deliveryTask, 0)
	for rows.Next() {
		var t deliveryTask
		if err := rows.Scan(&t.DeliveryID, &t.EventID, &t.EventType, &t.Payload, &t.AttemptCount,
			&t.SubscriberID, &t.URL, &t.Secret, &t.MaxRetries, &t.TimeoutMs); err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (d *Dispatcher) attempt(ctx context.Context, t deliveryTask) {
	timeout := time.Duration(t.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = defaultTimeoutMs * time.Millisecond
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	status, excerpt, err := d.post(reqCtx, t)
	attemptDuration.Observe(time.Since(start).Seconds())

	if err == nil && status >= 200 && status < 300 {
		attemptCounter.WithLabelValues("success").Inc()
		if settleErr := d.settleSuccess(ctx, t, status, excerpt); settleErr != nil {
			d.logger.Printf("settle success failed (delivery=%d): %v", t.DeliveryID, settleErr)
		}
		return
	}

	attemptCounter.WithLabelValues("failure").Inc()
	if err != nil {
		excerpt = err.Error()
	}
	if settleErr := d.settleFailure(ctx, t, status, excerpt); settleErr != nil {
		d.logger.Printf("settle failure failed (delivery=%d): %v", t.DeliveryID, settleErr)
	}
}

// post performs one signed HTTP delivery attempt. The payload body is the
// frozen event body; the attempt number rides in a header so subscribers can
// deduplicate redeliveries of the same event id.
func (d *Dispatcher) post(ctx context.Context, t deliveryTask) (int, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.URL, bytes.NewReader(t.Payload))
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event-Id", t.EventID)
	req.Header.Set("X-Event-Type", t.EventType)
	req.Header.Set("X-Delivery-Attempt", strconv.Itoa(t.AttemptCount+1))
	req.Header.Set("X-Signature", SignatureHeader(t.Secret, t.Payload))

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, responseExcerptSize))
	return resp.StatusCode, string(body), nil
}

func (d *Dispatcher) settleSuccess(ctx context.Context, t deliveryTask, status int, excerpt string) error {
	if _, err := d.pool.Exec(ctx,
		`UPDATE deliveries SET status='success', attempt_count=$2, last_status=$3, last_response=$4, updated_at=NOW()
          WHERE delivery_id=$1`,
		t.DeliveryID, t.AttemptCount+1, status, excerpt,
	); err != nil {
		return err
	}

	_, err := d.pool.Exec(ctx,
		`UPDATE subscribers SET consecutive_failures=0, updated_at=NOW()
          WHERE subscriber_id=$1 AND consecutive_failures <> 0`,
		t.SubscriberID,
	)
	return err
}

func (d *Dispatcher) settleFailure(ctx context.Context, t deliveryTask, status int, excerpt string) error {
	attempts := t.AttemptCount + 1

	var lastStatus interface{}
	if status > 0 {
		lastStatus = status
	}

	if attempts < t.MaxRetries {
		delay := withJitter(backoffDelay(d.cfg.BaseDelay, d.cfg.MaxDelay, attempts))
		_, err := d.pool.Exec(ctx,
			`UPDATE deliveries SET status='pending', attempt_count=$2, last_status=$3, last_response=$4,
                    next_retry_at = NOW() + $5::interval, updated_at=NOW()
              WHERE delivery_id=$1`,
			t.DeliveryID, attempts, lastStatus, excerpt, delay,
		)
		return err
	}

	// Retry budget spent: terminal state, and one strike against the
	// subscriber's breaker.
	exhaustedCounter.Inc()
	if _, err := d.pool.Exec(ctx,
		`UPDATE deliveries SET status='exhausted', attempt_count=$2, last_status=$3, last_response=$4, updated_at=NOW()
          WHERE delivery_id=$1`,
		t.DeliveryID, attempts, lastStatus, excerpt,
	); err != nil {
		return err
	}

	var failures int
	var active bool
	if err := d.pool.QueryRow(ctx,
		`UPDATE subscribers
            SET consecutive_failures = consecutive_failures + 1,
                active = CASE WHEN consecutive_failures + 1 >= $2 THEN FALSE ELSE active END,
                updated_at = NOW()
          WHERE subscriber_id=$1
         RETURNING consecutive_failures, active`,
		t.SubscriberID, d.cfg.FailureThreshold,
	).Scan(&failures, &active); err != nil {
		return err
	}
	if !active {
		breakerCounter.Inc()
		d.logger.Printf("subscriber %s deactivated after %d consecutive exhausted deliveries", t.SubscriberID, failures)
	}
	return nil
}
