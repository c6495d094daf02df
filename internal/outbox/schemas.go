package outbox

import "github.com/acedergren/running-days-sub001/internal/events"

const runIngestedSchema = `{
  "type": "object",
  "title": "RunIngested",
  "properties": {
    "event_id": {"type": "string"},
    "workout_id": {"type": "string"},
    "user_id": {"type": "string"},
    "day": {"type": "string", "format": "date"},
    "started_at": {"type": "string", "format": "date-time"},
    "duration_seconds": {"type": "integer"},
    "distance_meters": {"type": "number"},
    "source": {"type": "string"}
  },
  "required": ["event_id", "workout_id", "user_id", "day", "started_at", "duration_seconds", "distance_meters", "source"],
  "additionalProperties": false
}`

const milestoneReachedSchema = `{
  "type": "object",
  "title": "MilestoneReached",
  "properties": {
    "event_id": {"type": "string"},
    "user_id": {"type": "string"},
    "threshold": {"type": "integer"},
    "total_run_days": {"type": "integer"},
    "occurred_at": {"type": "string", "format": "date-time"}
  },
  "required": ["event_id", "user_id", "threshold", "total_run_days", "occurred_at"],
  "additionalProperties": false
}`

// SchemaCatalogEntry maps event type to schema definition.
type SchemaCatalogEntry struct {
	Schema string
}

var schemaCatalog = map[string]SchemaCatalogEntry{
	events.TypeRunIngested: {
		Schema: runIngestedSchema,
	},
	events.TypeMilestoneReached: {
		Schema: milestoneReachedSchema,
	},
}
