package delivery

import (
	"errors"
	"time"
)

// ErrSubscriberNotFound is returned when a subscriber id resolves to no row.
var ErrSubscriberNotFound = errors.New("subscriber not found")

// Delivery statuses. A delivery is created pending, moves to in_flight while
// an attempt runs, and terminates as success or exhausted. Rows are never
// deleted; they are the delivery history.
const (
	StatusPending   = "pending"
	StatusInFlight  = "in_flight"
	StatusSuccess   = "success"
	StatusExhausted = "exhausted"
)

// Subscriber is a registered outbound endpoint. Registration is owned by an
// external collaborator; the dispatcher consumes these records.
type Subscriber struct {
	ID                  string    `json:"id"`
	URL                 string    `json:"url"`
	Secret              string    `json:"-"`
	Events              []string  `json:"events"`
	MaxRetries          int       `json:"maxRetries"`
	TimeoutMs           int       `json:"timeoutMs"`
	Active              bool      `json:"active"`
	ConsecutiveFailures int       `json:"consecutiveFailures"`
	CreatedAt           time.Time `json:"createdAt"`
	UpdatedAt           time.Time `json:"updatedAt"`
}

// Record is one delivery attempt lineage: one event to one subscriber.
type Record struct {
	ID           int64     `json:"id"`
	EventID      string    `json:"eventId"`
	SubscriberID string    `json:"subscriberId"`
	EventType    string    `json:"eventType"`
	Status       string    `json:"status"`
	AttemptCount int       `json:"attemptCount"`
	NextRetryAt  time.Time `json:"nextRetryAt"`
	LastStatus   *int      `json:"lastStatus,omitempty"`
	LastResponse *string   `json:"lastResponse,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}
