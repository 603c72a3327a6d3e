// Package database owns the Mongo client, the collection handles, index
// bootstrap, and pool health. It is the only place a connection is opened.
package database

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/event"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// Collection names per the persisted state layout.
const (
	CollDocuments   = "documents"
	CollTenants     = "tenants"
	CollUsers       = "users"
	CollMemberships = "memberships"
	CollWorkflows   = "workflows"
	CollExecutions  = "executions"
	CollVectors     = "vectors"
	CollAuditEvents = "audit_events"
	CollVectorState = "vector_state"
)

// Manager wraps the Mongo client and exposes health and pool stats.
type Manager struct {
	client *mongo.Client
	db     *mongo.Database
	logger zerolog.Logger

	checkedOut atomic.Int64
}

// PoolStats is the snapshot surfaced by the health endpoint.
type PoolStats struct {
	CheckedOut int64 `json:"checkedOut"`
}

// Connect opens the client, verifies the connection, and returns the manager.
func Connect(ctx context.Context, uri, dbName string, maxPoolSize uint64, logger zerolog.Logger) (*Manager, error) {
	m := &Manager{logger: logger.With().Str("component", "database").Logger()}

	monitor := &event.PoolMonitor{
		Event: func(evt *event.PoolEvent) {
			switch evt.Type {
			case event.GetSucceeded:
				m.checkedOut.Add(1)
			case event.ConnectionReturned:
				m.checkedOut.Add(-1)
			}
		},
	}

	opts := options.Client().
		ApplyURI(uri).
		SetMaxPoolSize(maxPoolSize).
		SetPoolMonitor(monitor)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("database: connect: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("database: ping: %w", err)
	}

	m.client = client
	m.db = client.Database(dbName)
	m.logger.Info().Str("database", dbName).Uint64("max_pool_size", maxPoolSize).Msg("mongo connection established")
	return m, nil
}

// Database returns the handle repositories are built on.
func (m *Manager) Database() *mongo.Database { return m.db }

// Collection returns a named collection handle.
func (m *Manager) Collection(name string) *mongo.Collection { return m.db.Collection(name) }

// Ping verifies the connection for the health endpoint.
func (m *Manager) Ping(ctx context.Context) error {
	return m.client.Ping(ctx, readpref.Primary())
}

// Stats returns the current pool snapshot.
func (m *Manager) Stats() PoolStats {
	return PoolStats{CheckedOut: m.checkedOut.Load()}
}

// CountCollection returns the document count of a collection, for the
// platform stats endpoint.
func (m *Manager) CountCollection(ctx context.Context, name string) (int64, error) {
	return m.db.Collection(name).CountDocuments(ctx, bson.M{})
}

// Close disconnects the client.
func (m *Manager) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

// EnsureIndexes creates the indexes the persisted state layout relies on.
// Safe to call on every startup.
func (m *Manager) EnsureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	specs := map[string][]mongo.IndexModel{
		CollDocuments: {
			{Keys: bson.D{{Key: "id", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "tenantId", Value: 1}, {Key: "type", Value: 1}, {Key: "deleted", Value: 1}}},
			{Keys: bson.D{{Key: "updatedAt", Value: -1}}},
		},
		CollTenants: {
			{Keys: bson.D{{Key: "slug", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
		CollUsers: {
			{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
		CollMemberships: {
			{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "tenantId", Value: 1}, {Key: "role", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "tenantId", Value: 1}}},
		},
		CollExecutions: {
			{Keys: bson.D{{Key: "executionId", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "tenantId", Value: 1}, {Key: "workflowId", Value: 1}, {Key: "status", Value: 1}, {Key: "startedAt", Value: -1}}},
		},
		CollVectors: {
			{Keys: bson.D{{Key: "documentId", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "tenantId", Value: 1}, {Key: "type", Value: 1}}},
		},
		CollAuditEvents: {
			{Keys: bson.D{{Key: "timestamp", Value: -1}}},
			{Keys: bson.D{{Key: "tenantId", Value: 1}, {Key: "resourceId", Value: 1}}},
		},
	}

	for coll, models := range specs {
		if _, err := m.db.Collection(coll).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("database: ensure indexes on %s: %w", coll, err)
		}
	}
	m.logger.Info().Int("collections", len(specs)).Msg("indexes ensured")
	return nil
}
