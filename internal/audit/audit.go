// Package audit writes the append-only audit trail. Every repository
// mutation and security-relevant service action lands here; entries are
// persisted to Mongo, mirrored to the structured log, and optionally fanned
// out to a message exchange.
package audit

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/iamkash/intellispec/internal/apperror"
)

// Event types.
const (
	EventCreate     = "CREATE"
	EventUpdate     = "UPDATE"
	EventDelete     = "DELETE"
	EventHardDelete = "HARD_DELETE"
	EventBulkCreate = "BULK_CREATE"
	EventLogin      = "LOGIN"
	EventLoginFail  = "LOGIN_FAILED"
	EventExecute    = "WORKFLOW_EXECUTE"
	EventCancel     = "WORKFLOW_CANCEL"
)

// Event is one append-only audit record.
type Event struct {
	ID           string                 `bson:"id" json:"id"`
	EventType    string                 `bson:"eventType" json:"eventType"`
	ActorUserID  string                 `bson:"actorUserId" json:"actorUserId"`
	TenantID     string                 `bson:"tenantId" json:"tenantId"`
	ResourceType string                 `bson:"resourceType" json:"resourceType"`
	ResourceID   string                 `bson:"resourceId" json:"resourceId"`
	Before       map[string]interface{} `bson:"before,omitempty" json:"before,omitempty"`
	After        map[string]interface{} `bson:"after,omitempty" json:"after,omitempty"`
	Reason       string                 `bson:"reason,omitempty" json:"reason,omitempty"`
	Timestamp    time.Time              `bson:"timestamp" json:"timestamp"`
}

// Publisher fans an event out to an external bus. Implementations must not
// block the request path on broker failures.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Recorder is the narrow interface services and repositories depend on.
type Recorder interface {
	Record(ctx context.Context, event Event)
}

// Counter increments a per-event-type metric. Satisfied by the prometheus
// CounterVec wrapper in cmd/server.
type Counter interface {
	Inc(eventType string)
}

// Trail persists audit events. Writes are synchronous: losing an audit entry
// is worse than adding one round trip to a mutation.
type Trail struct {
	coll      *mongo.Collection
	logger    zerolog.Logger
	publisher Publisher
	counter   Counter
}

// NewTrail builds the trail. publisher and counter may be nil.
func NewTrail(coll *mongo.Collection, logger zerolog.Logger, publisher Publisher, counter Counter) *Trail {
	return &Trail{
		coll:      coll,
		logger:    logger.With().Str("component", "audit").Logger(),
		publisher: publisher,
		counter:   counter,
	}
}

// Record appends an event. Persistence failures are logged, not returned:
// the mutation that triggered the event has already committed.
func (t *Trail) Record(ctx context.Context, event Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	event.Before = redact(event.Before)
	event.After = redact(event.After)

	t.logger.Info().
		Str("event_type", event.EventType).
		Str("actor_user_id", event.ActorUserID).
		Str("tenant_id", event.TenantID).
		Str("resource_type", event.ResourceType).
		Str("resource_id", event.ResourceID).
		Msg("audit event")

	if _, err := t.coll.InsertOne(ctx, event); err != nil {
		t.logger.Error().Err(err).Str("event_type", event.EventType).Msg("failed to persist audit event")
		return
	}
	if t.counter != nil {
		t.counter.Inc(event.EventType)
	}
	if t.publisher != nil {
		if err := t.publisher.Publish(ctx, event); err != nil {
			t.logger.Warn().Err(err).Msg("failed to publish audit event")
		}
	}
}

// Filter selects events for the platform listing.
type Filter struct {
	TenantID     string
	ActorUserID  string
	EventType    string
	ResourceType string
	ResourceID   string
	Since        *time.Time
	Until        *time.Time
	Limit        int64
	Skip         int64
}

// List returns events newest first with the matching total.
func (t *Trail) List(ctx context.Context, filter Filter) ([]Event, int64, error) {
	query := bson.M{}
	if filter.TenantID != "" {
		query["tenantId"] = filter.TenantID
	}
	if filter.ActorUserID != "" {
		query["actorUserId"] = filter.ActorUserID
	}
	if filter.EventType != "" {
		query["eventType"] = filter.EventType
	}
	if filter.ResourceType != "" {
		query["resourceType"] = filter.ResourceType
	}
	if filter.ResourceID != "" {
		query["resourceId"] = filter.ResourceID
	}
	if filter.Since != nil || filter.Until != nil {
		span := bson.M{}
		if filter.Since != nil {
			span["$gte"] = *filter.Since
		}
		if filter.Until != nil {
			span["$lte"] = *filter.Until
		}
		query["timestamp"] = span
	}

	total, err := t.coll.CountDocuments(ctx, query)
	if err != nil {
		return nil, 0, apperror.ErrDatabase("failed to count audit events", err)
	}

	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "timestamp", Value: -1}}).
		SetLimit(limit).
		SetSkip(filter.Skip)

	cursor, err := t.coll.Find(ctx, query, opts)
	if err != nil {
		return nil, 0, apperror.ErrDatabase("failed to list audit events", err)
	}
	defer cursor.Close(ctx)

	var events []Event
	if err := cursor.All(ctx, &events); err != nil {
		return nil, 0, apperror.ErrDatabase("failed to decode audit events", err)
	}
	return events, total, nil
}

var secretKeywords = []string{"password", "secret", "token", "apikey", "api_key", "credential", "hash", "authorization"}

// redact masks values whose keys look sensitive before they reach storage.
func redact(values map[string]interface{}) map[string]interface{} {
	if len(values) == 0 {
		return values
	}
	out := make(map[string]interface{}, len(values))
	for k, v := range values {
		if isSecret(k) {
			out[k] = "[REDACTED]"
			continue
		}
		out[k] = v
	}
	return out
}

func isSecret(key string) bool {
	k := strings.ToLower(key)
	for _, s := range secretKeywords {
		if strings.Contains(k, s) {
			return true
		}
	}
	return false
}
