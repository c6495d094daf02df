package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/acedergren/running-days-sub001/internal/delivery"
)

// CreateSubscriber registers an outbound endpoint.
func (r *Repository) CreateSubscriber(ctx context.Context, sub delivery.Subscriber) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO subscribers (subscriber_id, url, secret, events, max_retries, timeout_ms, active)
         VALUES ($1,$2,$3,$4,$5,$6,TRUE)`,
		sub.ID, sub.URL, sub.Secret, sub.Events, sub.MaxRetries, sub.TimeoutMs,
	)
	return err
}

// GetSubscriber fetches one subscriber by id.
func (r *Repository) GetSubscriber(ctx context.Context, subscriberID string) (*delivery.Subscriber, error) {
	var sub delivery.Subscriber
	err := r.pool.QueryRow(ctx,
		`SELECT subscriber_id, url, secret, events, max_retries, timeout_ms, active, consecutive_failures, created_at, updated_at
           FROM subscribers WHERE subscriber_id=$1`,
		subscriberID,
	).Scan(&sub.ID, &sub.URL, &sub.Secret, &sub.Events, &sub.MaxRetries, &sub.TimeoutMs,
		&sub.Active, &sub.ConsecutiveFailures, &sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, delivery.ErrSubscriberNotFound
		}
		return nil, err
	}
	return &sub, nil
}

// SetSubscriberActive flips the circuit-breaker state. Reactivation also
// clears the consecutive-failure counter so the breaker starts fresh.
func (r *Repository) SetSubscriberActive(ctx context.Context, subscriberID string, active bool) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE subscribers SET active=$2,
                consecutive_failures = CASE WHEN $2 THEN 0 ELSE consecutive_failures END,
                updated_at = NOW()
          WHERE subscriber_id=$1`,
		subscriberID, active,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return delivery.ErrSubscriberNotFound
	}
	return nil
}

// ListDeliveries returns the delivery history for a subscriber, newest first.
func (r *Repository) ListDeliveries(ctx context.Context, subscriberID string, limit int) ([]delivery.Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx,
		`SELECT delivery_id, event_id, subscriber_id, event_type, status, attempt_count, next_retry_at,
                last_status, last_response, created_at, updated_at
           FROM deliveries WHERE subscriber_id=$1
          ORDER BY delivery_id DESC LIMIT $2`,
		subscriberID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]delivery.Record, 0, limit)
	for rows.Next() {
		var rec delivery.Record
		if err := rows.Scan(&rec.ID, &rec.EventID, &rec.SubscriberID, &rec.EventType, &rec.Status,
			&rec.AttemptCount, &rec.NextRetryAt, &rec.LastStatus, &rec.LastResponse,
			&rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
