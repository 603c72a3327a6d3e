// Package featureflag serves tenant-scoped feature flags. Flags live in the
// document collection as ordinary documents of type "feature_flag", so they
// inherit tenant scoping, auditing, and soft delete for free; reads are
// cached per tenant.
package featureflag

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/iamkash/intellispec/internal/apperror"
	"github.com/iamkash/intellispec/internal/cache"
	"github.com/iamkash/intellispec/internal/database"
)

// DocumentType is the repository type under which flags are stored.
const DocumentType = "feature_flag"

// Service resolves the flag map for a tenant.
type Service struct {
	docs  *mongo.Collection
	cache *cache.Cache[map[string]bool]
}

// New builds the service. Flag reads are cached for ttl.
func New(db *mongo.Database, ttl time.Duration) (*Service, error) {
	c, err := cache.New[map[string]bool](1024, ttl)
	if err != nil {
		return nil, err
	}
	return &Service{docs: db.Collection(database.CollDocuments), cache: c}, nil
}

// Flags returns the tenant's flag map, flag key to enabled.
func (s *Service) Flags(ctx context.Context, tenantID string) (map[string]bool, error) {
	if flags, ok := s.cache.Get(tenantID); ok {
		return flags, nil
	}

	cursor, err := s.docs.Find(ctx, bson.M{
		"tenantId": tenantID,
		"type":     DocumentType,
		"deleted":  bson.M{"$ne": true},
	})
	if err != nil {
		return nil, apperror.ErrDatabase("failed to load feature flags", err)
	}
	defer cursor.Close(ctx)

	flags := map[string]bool{}
	for cursor.Next(ctx) {
		var doc struct {
			Key     string `bson:"key"`
			Enabled bool   `bson:"enabled"`
		}
		if err := cursor.Decode(&doc); err != nil || doc.Key == "" {
			continue
		}
		flags[doc.Key] = doc.Enabled
	}
	if err := cursor.Err(); err != nil {
		return nil, apperror.ErrDatabase("failed to read feature flags", err)
	}

	s.cache.Set(tenantID, flags)
	return flags, nil
}

// IsEnabled reports one flag, false when absent.
func (s *Service) IsEnabled(ctx context.Context, tenantID, key string) (bool, error) {
	flags, err := s.Flags(ctx, tenantID)
	if err != nil {
		return false, err
	}
	return flags[key], nil
}

// Invalidate drops the tenant's cached flags after a flag mutation.
func (s *Service) Invalidate(tenantID string) {
	s.cache.Delete(tenantID)
}

// Close releases the cache.
func (s *Service) Close() {
	s.cache.Close()
}
