// Package vector maintains semantic embeddings for monitored document types.
// A change-stream watcher feeds a debouncer, which feeds a bounded worker
// pool; workers embed the semantic projection of each document and upsert a
// vector record.
package vector

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/iamkash/intellispec/internal/apperror"
	"github.com/iamkash/intellispec/internal/database"
)

// VectorRecord is the stored embedding for one document. sourceId mirrors
// the Mongo _id of the source document so delete events, which carry only
// the document key, can still reach the record.
type VectorRecord struct {
	DocumentID   string      `bson:"documentId" json:"documentId"`
	TenantID     string      `bson:"tenantId" json:"tenantId"`
	Type         string      `bson:"type" json:"type"`
	SourceID     interface{} `bson:"sourceId,omitempty" json:"-"`
	Embedding    []float32   `bson:"embedding" json:"-"`
	SemanticHash string      `bson:"semanticHash" json:"semanticHash"`
	UpdatedAt    time.Time   `bson:"updatedAt" json:"updatedAt"`
	LastError    string      `bson:"lastError,omitempty" json:"lastError,omitempty"`
}

// Store persists vector records and the watcher's resume token.
type Store struct {
	vectors *mongo.Collection
	state   *mongo.Collection
}

// NewStore builds the store over the vector collections.
func NewStore(db *mongo.Database) *Store {
	return &Store{
		vectors: db.Collection(database.CollVectors),
		state:   db.Collection(database.CollVectorState),
	}
}

// Upsert writes the record keyed by documentId.
func (s *Store) Upsert(ctx context.Context, record *VectorRecord) error {
	record.UpdatedAt = time.Now().UTC()
	_, err := s.vectors.ReplaceOne(ctx,
		bson.M{"documentId": record.DocumentID},
		record,
		options.Replace().SetUpsert(true))
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return apperror.ErrConflict("concurrent vector upsert")
		}
		return apperror.ErrDatabase("failed to upsert vector record", err)
	}
	return nil
}

// Find returns the record for a document, or nil.
func (s *Store) Find(ctx context.Context, documentID string) (*VectorRecord, error) {
	var record VectorRecord
	err := s.vectors.FindOne(ctx, bson.M{"documentId": documentID}).Decode(&record)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, apperror.ErrDatabase("failed to query vector record", err)
	}
	return &record, nil
}

// Delete removes the record for a document. Missing records are not an
// error; deletes are idempotent.
func (s *Store) Delete(ctx context.Context, documentID string) error {
	if _, err := s.vectors.DeleteOne(ctx, bson.M{"documentId": documentID}); err != nil {
		return apperror.ErrDatabase("failed to delete vector record", err)
	}
	return nil
}

// DeleteBySourceID removes the record reached through the Mongo _id of the
// source document, the only key a delete event carries.
func (s *Store) DeleteBySourceID(ctx context.Context, sourceID interface{}) error {
	if _, err := s.vectors.DeleteOne(ctx, bson.M{"sourceId": sourceID}); err != nil {
		return apperror.ErrDatabase("failed to delete vector record", err)
	}
	return nil
}

// MarkError records a permanent embedding failure on the record without
// touching any stored embedding.
func (s *Store) MarkError(ctx context.Context, record *VectorRecord, cause string) error {
	record.LastError = cause
	_, err := s.vectors.UpdateOne(ctx,
		bson.M{"documentId": record.DocumentID},
		bson.M{"$set": bson.M{
			"tenantId":  record.TenantID,
			"type":      record.Type,
			"lastError": cause,
			"updatedAt": time.Now().UTC(),
		}},
		options.Update().SetUpsert(true))
	if err != nil {
		return apperror.ErrDatabase("failed to mark vector error", err)
	}
	return nil
}

// Count returns the number of stored vectors, optionally for one tenant.
func (s *Store) Count(ctx context.Context, tenantID string) (int64, error) {
	filter := bson.M{}
	if tenantID != "" {
		filter["tenantId"] = tenantID
	}
	n, err := s.vectors.CountDocuments(ctx, filter)
	if err != nil {
		return 0, apperror.ErrDatabase("failed to count vectors", err)
	}
	return n, nil
}

const resumeStateID = "documents-watcher"

type resumeState struct {
	ID        string    `bson:"_id"`
	Token     bson.Raw  `bson:"token"`
	UpdatedAt time.Time `bson:"updatedAt"`
}

// SaveResumeToken persists the change stream position so a restart loses
// no events.
func (s *Store) SaveResumeToken(ctx context.Context, token bson.Raw) error {
	_, err := s.state.ReplaceOne(ctx,
		bson.M{"_id": resumeStateID},
		resumeState{ID: resumeStateID, Token: token, UpdatedAt: time.Now().UTC()},
		options.Replace().SetUpsert(true))
	if err != nil {
		return apperror.ErrDatabase("failed to save resume token", err)
	}
	return nil
}

// LoadResumeToken returns the saved stream position and when it was saved,
// or a nil token when none exists.
func (s *Store) LoadResumeToken(ctx context.Context) (bson.Raw, time.Time, error) {
	var state resumeState
	err := s.state.FindOne(ctx, bson.M{"_id": resumeStateID}).Decode(&state)
	if err == mongo.ErrNoDocuments {
		return nil, time.Time{}, nil
	}
	if err != nil {
		return nil, time.Time{}, apperror.ErrDatabase("failed to load resume token", err)
	}
	return state.Token, state.UpdatedAt, nil
}

// ClearResumeToken drops a token the server refused, forcing the catch-up
// scan path.
func (s *Store) ClearResumeToken(ctx context.Context) error {
	if _, err := s.state.DeleteOne(ctx, bson.M{"_id": resumeStateID}); err != nil {
		return apperror.ErrDatabase("failed to clear resume token", err)
	}
	return nil
}
