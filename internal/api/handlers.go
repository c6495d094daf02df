// Package api exposes HTTP handlers for the running-days service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/acedergren/running-days-sub001/internal/auth"
	"github.com/acedergren/running-days-sub001/internal/delivery"
	"github.com/acedergren/running-days-sub001/internal/domain"
	"github.com/acedergren/running-days-sub001/internal/events"
	"github.com/acedergren/running-days-sub001/internal/observability"
)

// maxBatchRecords bounds how many workouts a single request may carry.
const maxBatchRecords = 5000

// SubscriberStore captures subscriber administration against storage.
type SubscriberStore interface {
	CreateSubscriber(ctx context.Context, sub delivery.Subscriber) error
	GetSubscriber(ctx context.Context, subscriberID string) (*delivery.Subscriber, error)
	SetSubscriberActive(ctx context.Context, subscriberID string, active bool) error
	ListDeliveries(ctx context.Context, subscriberID string, limit int) ([]delivery.Record, error)
}

// Handler coordinates HTTP requests with the domain service and sync engine.
type Handler struct {
	service *domain.Service
	engine  *domain.SyncEngine
	stats   domain.StatsRepository
	tokens  domain.TokenResolver
	subs    SubscriberStore
	now     func() time.Time
}

// NewHandler builds a Handler.
func NewHandler(service *domain.Service, engine *domain.SyncEngine, stats domain.StatsRepository, tokens domain.TokenResolver, subs SubscriberStore) *Handler {
	return &Handler{
		service: service,
		engine:  engine,
		stats:   stats,
		tokens:  tokens,
		subs:    subs,
		now:     time.Now,
	}
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/webhook", h.webhook)
	mux.HandleFunc("/v1/sync", h.sync)
	mux.HandleFunc("/v1/sync/status", h.syncStatus)
	mux.HandleFunc("/v1/stats/streaks", h.streaks)
	mux.HandleFunc("/v1/aggregates", h.aggregates)
	mux.HandleFunc("/v1/subscribers", h.subscribers)
	mux.HandleFunc("/v1/subscribers/", h.subscriberByID)
	mux.HandleFunc("/healthz", healthz)
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) webhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	token := r.URL.Query().Get("token")
	if token == "" {
		token = r.Header.Get("X-Webhook-Token")
	}
	if token == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing webhook token")
		return
	}

	userID, err := h.tokens.ResolveWebhookToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, domain.ErrUnknownWebhookToken) {
			writeError(w, http.StatusUnauthorized, "unauthorized", "unknown webhook token")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	var req WebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	if len(req.Data.Workouts) > maxBatchRecords {
		writeError(w, http.StatusBadRequest, "validation_failed", "too many workouts in one batch")
		return
	}

	var processed, skipped int
	for _, raw := range req.Data.Workouts {
		res, err := h.service.Ingest(r.Context(), userID, domain.SourceWebhook, decodeRaw(raw))
		if err != nil {
			writeError(w, http.StatusInternalServerError, "server_error", err.Error())
			return
		}
		observability.RecordIngestOutcome(domain.SourceWebhook, string(res.Outcome))
		switch res.Outcome {
		case domain.OutcomeCreated, domain.OutcomeUpdated:
			processed++
		default:
			skipped++
		}
	}

	writeJSON(w, http.StatusOK, WebhookResponse{
		Success:   true,
		Processed: processed,
		Skipped:   skipped,
	})
}

func (h *Handler) sync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}
	if !claims.HasScope(auth.ScopeWorkoutsWrite) {
		writeError(w, http.StatusForbidden, "forbidden", "scope workouts:write required")
		return
	}

	var req SyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	batch := domain.SyncBatch{
		IdempotencyKey:      req.IdempotencyKey,
		Mode:                req.Mode,
		Cursor:              req.Cursor,
		ClientSyncTimestamp: req.ClientSyncTimestamp,
		Workouts:            make([]domain.RawWorkout, 0, len(req.Workouts)),
	}
	for _, raw := range req.Workouts {
		batch.Workouts = append(batch.Workouts, decodeRaw(raw))
	}

	manifest, err := h.engine.Apply(r.Context(), claims.Subject, batch)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	observability.AddIngestOutcomes(domain.SourceSync, string(domain.OutcomeCreated), manifest.Created)
	observability.AddIngestOutcomes(domain.SourceSync, string(domain.OutcomeUpdated), manifest.Updated)
	observability.AddIngestOutcomes(domain.SourceSync, string(domain.OutcomeDuplicate), manifest.Unchanged)
	observability.AddIngestOutcomes(domain.SourceSync, string(domain.OutcomeConflict), len(manifest.Conflicts))

	writeJSON(w, http.StatusOK, SyncResponse{
		Success:         true,
		SyncID:          manifest.SyncID,
		ServerTimestamp: manifest.ServerTimestamp,
		NextCursor:      manifest.NextCursor,
		Created:         manifest.Created,
		Updated:         manifest.Updated,
		Unchanged:       manifest.Unchanged,
		Conflicts:       manifest.Conflicts,
	})
}

func (h *Handler) syncStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}
	if !claims.HasScope(auth.ScopeWorkoutsRead) && !claims.HasScope(auth.ScopeWorkoutsWrite) {
		writeError(w, http.StatusForbidden, "forbidden", "scope workouts:read required")
		return
	}

	status, err := h.engine.Status(r.Context(), claims.Subject)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, SyncStatusResponse{
		LastSyncAt:    status.LastSyncAt,
		ServerCursor:  status.ServerCursor,
		TotalWorkouts: status.TotalWorkouts,
		PendingSync:   status.PendingSync,
		OldestWorkout: status.OldestWorkout,
		NewestWorkout: status.NewestWorkout,
	})
}

func (h *Handler) streaks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}
	if !claims.HasScope(auth.ScopeWorkoutsRead) && !claims.HasScope(auth.ScopeWorkoutsWrite) {
		writeError(w, http.StatusForbidden, "forbidden", "scope workouts:read required")
		return
	}

	today := h.now().UTC()
	year := today.Year()
	if raw := r.URL.Query().Get("year"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1970 || parsed > 9999 {
			writeError(w, http.StatusBadRequest, "validation_failed", "invalid year")
			return
		}
		year = parsed
	}

	days, err := h.stats.ListRunDays(r.Context(), claims.Subject, year)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	summary := domain.EvaluateStreaks(days, today)
	writeJSON(w, http.StatusOK, StreaksResponse{Year: year, Summary: summary})
}

func (h *Handler) aggregates(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}
	if !claims.HasScope(auth.ScopeWorkoutsRead) && !claims.HasScope(auth.ScopeWorkoutsWrite) {
		writeError(w, http.StatusForbidden, "forbidden", "scope workouts:read required")
		return
	}

	to := h.now().UTC().Truncate(24 * time.Hour).Add(24 * time.Hour)
	from := to.AddDate(0, 0, -30)
	if raw := r.URL.Query().Get("from"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "validation_failed", "invalid from date, expected YYYY-MM-DD")
			return
		}
		from = parsed
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "validation_failed", "invalid to date, expected YYYY-MM-DD")
			return
		}
		to = parsed
	}
	if to.Before(from) {
		writeError(w, http.StatusBadRequest, "validation_failed", "to precedes from")
		return
	}

	aggregates, err := h.stats.ListAggregates(r.Context(), claims.Subject, from, to)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	items := make([]AggregateView, 0, len(aggregates))
	for _, agg := range aggregates {
		items = append(items, toAggregateView(agg))
	}
	writeJSON(w, http.StatusOK, AggregatesResponse{Items: items})
}

func (h *Handler) subscribers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}
	if !claims.HasScope(auth.ScopeSubscribersManage) {
		writeError(w, http.StatusForbidden, "forbidden", "scope subscribers:manage required")
		return
	}

	var req CreateSubscriberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	sub := delivery.Subscriber{
		ID:         uuid.NewString(),
		URL:        req.URL,
		Secret:     req.Secret,
		Events:     req.Events,
		MaxRetries: req.MaxRetries,
		TimeoutMs:  req.TimeoutMs,
		Active:     true,
	}
	if sub.MaxRetries <= 0 {
		sub.MaxRetries = 5
	}
	if sub.TimeoutMs <= 0 {
		sub.TimeoutMs = 10000
	}

	if err := h.subs.CreateSubscriber(r.Context(), sub); err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, toSubscriberView(sub))
}

func (h *Handler) subscriberByID(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}
	if !claims.HasScope(auth.ScopeSubscribersManage) {
		writeError(w, http.StatusForbidden, "forbidden", "scope subscribers:manage required")
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/v1/subscribers/")
	id, tail, _ := strings.Cut(rest, "/")
	if id == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "missing subscriber id")
		return
	}

	switch {
	case tail == "" && r.Method == http.MethodGet:
		h.getSubscriber(w, r, id)
	case tail == "" && r.Method == http.MethodPatch:
		h.patchSubscriber(w, r, id)
	case tail == "deliveries" && r.Method == http.MethodGet:
		h.listSubscriberDeliveries(w, r, id)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

func (h *Handler) getSubscriber(w http.ResponseWriter, r *http.Request, id string) {
	sub, err := h.subs.GetSubscriber(r.Context(), id)
	if err != nil {
		writeSubscriberError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSubscriberView(*sub))
}

func (h *Handler) patchSubscriber(w http.ResponseWriter, r *http.Request, id string) {
	var req UpdateSubscriberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	if req.Active == nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "active is required")
		return
	}

	if err := h.subs.SetSubscriberActive(r.Context(), id, *req.Active); err != nil {
		writeSubscriberError(w, err)
		return
	}

	sub, err := h.subs.GetSubscriber(r.Context(), id)
	if err != nil {
		writeSubscriberError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSubscriberView(*sub))
}

func (h *Handler) listSubscriberDeliveries(w http.ResponseWriter, r *http.Request, id string) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			if parsed > 500 {
				parsed = 500
			}
			limit = parsed
		}
	}

	records, err := h.subs.ListDeliveries(r.Context(), id, limit)
	if err != nil {
		writeSubscriberError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, DeliveriesResponse{Items: records})
}

func writeSubscriberError(w http.ResponseWriter, err error) {
	if errors.Is(err, delivery.ErrSubscriberNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "subscriber not found")
		return
	}
	writeError(w, http.StatusInternalServerError, "server_error", err.Error())
}

// decodeRaw converts one boundary record. Undecodable JSON yields a zero raw
// workout that fails normalization downstream, so a malformed record becomes a
// rejection in the manifest instead of aborting the batch.
func decodeRaw(data json.RawMessage) domain.RawWorkout {
	var raw domain.RawWorkout
	_ = json.Unmarshal(data, &raw)
	raw.Payload = data
	return raw
}

// WebhookRequest mirrors the export-tool push payload.
type WebhookRequest struct {
	Data struct {
		Workouts []json.RawMessage `json:"workouts"`
	} `json:"data"`
}

// WebhookResponse acknowledges a webhook push.
type WebhookResponse struct {
	Success   bool `json:"success"`
	Processed int  `json:"processed"`
	Skipped   int  `json:"skipped"`
}

// SyncRequest is the payload for POST /v1/sync.
type SyncRequest struct {
	Workouts            []json.RawMessage `json:"workouts"`
	Mode                string            `json:"mode"`
	Cursor              string            `json:"cursor,omitempty"`
	IdempotencyKey      string            `json:"idempotencyKey"`
	ClientSyncTimestamp time.Time         `json:"clientSyncTimestamp"`
}

// Validate ensures request correctness.
func (r *SyncRequest) Validate() error {
	if r.Mode == "" {
		r.Mode = domain.SyncModeIncremental
	}
	if r.Mode != domain.SyncModeIncremental && r.Mode != domain.SyncModeFull {
		return errors.New("mode must be incremental or full")
	}
	if strings.TrimSpace(r.IdempotencyKey) == "" {
		return errors.New("idempotencyKey is required")
	}
	if len(r.Workouts) > maxBatchRecords {
		return errors.New("too many workouts in one batch")
	}
	return nil
}

// SyncResponse reports the batch manifest.
type SyncResponse struct {
	Success         bool              `json:"success"`
	SyncID          string            `json:"syncId"`
	ServerTimestamp time.Time         `json:"serverTimestamp"`
	NextCursor      string            `json:"nextCursor"`
	Created         int               `json:"created"`
	Updated         int               `json:"updated"`
	Unchanged       int               `json:"unchanged"`
	Conflicts       []domain.Conflict `json:"conflicts"`
}

// SyncStatusResponse summarises server-side sync state.
type SyncStatusResponse struct {
	LastSyncAt    *time.Time `json:"lastSyncAt,omitempty"`
	ServerCursor  string     `json:"serverCursor"`
	TotalWorkouts int        `json:"totalWorkouts"`
	PendingSync   int        `json:"pendingSync"`
	OldestWorkout *time.Time `json:"oldestWorkout,omitempty"`
	NewestWorkout *time.Time `json:"newestWorkout,omitempty"`
}

// StreaksResponse packages the streak and milestone read model for one year.
type StreaksResponse struct {
	Year    int                  `json:"year"`
	Summary domain.StreakSummary `json:"summary"`
}

// AggregateView exposes one daily rollup, with average pace derived.
type AggregateView struct {
	Day                  string   `json:"day"`
	RunCount             int      `json:"runCount"`
	TotalDistanceMeters  float64  `json:"totalDistanceMeters"`
	TotalDurationSeconds int      `json:"totalDurationSeconds"`
	LongestRunMeters     float64  `json:"longestRunMeters"`
	FastestPaceSecPerKm  *float64 `json:"fastestPaceSecPerKm,omitempty"`
	AvgPaceSecPerKm      *float64 `json:"avgPaceSecPerKm,omitempty"`
}

// AggregatesResponse packages a date-range read of daily rollups.
type AggregatesResponse struct {
	Items []AggregateView `json:"items"`
}

// CreateSubscriberRequest is the payload for POST /v1/subscribers.
type CreateSubscriberRequest struct {
	URL        string   `json:"url"`
	Secret     string   `json:"secret"`
	Events     []string `json:"events"`
	MaxRetries int      `json:"maxRetries"`
	TimeoutMs  int      `json:"timeoutMs"`
}

// Validate ensures request correctness.
func (r CreateSubscriberRequest) Validate() error {
	parsed, err := url.Parse(r.URL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return errors.New("url must be a valid http(s) endpoint")
	}
	if strings.TrimSpace(r.Secret) == "" {
		return errors.New("secret is required")
	}
	if len(r.Events) == 0 {
		return errors.New("at least one event type is required")
	}
	for _, ev := range r.Events {
		if ev != events.TypeRunIngested && ev != events.TypeMilestoneReached {
			return errors.New("unknown event type " + ev)
		}
	}
	if r.MaxRetries < 0 || r.MaxRetries > 20 {
		return errors.New("maxRetries must be between 0 and 20")
	}
	if r.TimeoutMs < 0 || r.TimeoutMs > 60000 {
		return errors.New("timeoutMs must be between 0 and 60000")
	}
	return nil
}

// UpdateSubscriberRequest is the payload for PATCH /v1/subscribers/{id}.
type UpdateSubscriberRequest struct {
	Active *bool `json:"active"`
}

// SubscriberView exposes a subscriber without its signing secret.
type SubscriberView struct {
	ID                  string    `json:"id"`
	URL                 string    `json:"url"`
	Events              []string  `json:"events"`
	MaxRetries          int       `json:"maxRetries"`
	TimeoutMs           int       `json:"timeoutMs"`
	Active              bool      `json:"active"`
	ConsecutiveFailures int       `json:"consecutiveFailures"`
	CreatedAt           time.Time `json:"createdAt"`
	UpdatedAt           time.Time `json:"updatedAt"`
}

// DeliveriesResponse packages delivery history for a subscriber.
type DeliveriesResponse struct {
	Items []delivery.Record `json:"items"`
}

func toSubscriberView(sub delivery.Subscriber) SubscriberView {
	return SubscriberView{
		ID:                  sub.ID,
		URL:                 sub.URL,
		Events:              sub.Events,
		MaxRetries:          sub.MaxRetries,
		TimeoutMs:           sub.TimeoutMs,
		Active:              sub.Active,
		ConsecutiveFailures: sub.ConsecutiveFailures,
		CreatedAt:           sub.CreatedAt,
		UpdatedAt:           sub.UpdatedAt,
	}
}

func toAggregateView(agg domain.DailyAggregate) AggregateView {
	return AggregateView{
		Day:                  agg.Day.Format("2006-01-02"),
		RunCount:             agg.RunCount,
		TotalDistanceMeters:  agg.TotalDistanceMeters,
		TotalDurationSeconds: agg.TotalDurationSeconds,
		LongestRunMeters:     agg.LongestRunMeters,
		FastestPaceSecPerKm:  agg.FastestPaceSecPerKm,
		AvgPaceSecPerKm:      agg.AvgPaceSecondsPerKm(),
	}
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
