package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/iamkash/intellispec/internal/apperror"
	"github.com/iamkash/intellispec/internal/audit"
	"github.com/iamkash/intellispec/internal/tenancy"
)

// MaxPageLimit bounds findWithPagination.
const MaxPageLimit = 200

// defaultSearchFields is the declared set of text fields search ranks over.
var defaultSearchFields = []string{"name", "code", "description", "tags"}

// Repository is a generic document store scoped to one tenant context and
// one document type.
type Repository struct {
	coll         *mongo.Collection
	typ          string
	req          *tenancy.RequestContext
	trail        audit.Recorder
	searchFields []string
}

// New constructs a repository for the given type, scoped to the request's
// tenant context.
func New(db *mongo.Database, typ string, req *tenancy.RequestContext, trail audit.Recorder) *Repository {
	return &Repository{
		coll:         db.Collection("documents"),
		typ:          typ,
		req:          req,
		trail:        trail,
		searchFields: defaultSearchFields,
	}
}

// Type returns the repository's document type discriminator.
func (r *Repository) Type() string { return r.typ }

// FindOptions tunes read queries.
type FindOptions struct {
	Sort  bson.D
	Limit int64
	Skip  int64
	// IncludeDeleted lifts the automatic soft-delete filter.
	IncludeDeleted bool
}

// PageOptions tunes findWithPagination.
type PageOptions struct {
	Page  int64
	Limit int64
	Sort  bson.D
}

// Page is the pagination envelope with an exact total.
type Page struct {
	Data  []*Document `json:"data"`
	Total int64       `json:"total"`
	Page  int64       `json:"page"`
	Limit int64       `json:"limit"`
	Pages int64       `json:"pages"`
}

// Option is a {label, value} pair for select inputs.
type Option struct {
	Label string      `json:"label"`
	Value interface{} `json:"value"`
}

// BulkResult reports one document of a bulkCreate.
type BulkResult struct {
	Index int       `json:"index"`
	ID    string    `json:"id,omitempty"`
	Error string    `json:"error,omitempty"`
	Doc   *Document `json:"-"`
}

// scopedFilter merges the caller filter with the mandatory tenant, type, and
// soft-delete filters. Caller-supplied values for the guarded keys are
// overwritten, never honored.
func (r *Repository) scopedFilter(filter bson.M, includeDeleted bool) bson.M {
	out := bson.M{}
	for k, v := range filter {
		out[k] = v
	}
	out[FieldType] = r.typ
	if !r.req.Tenant.ScopesAllTenants() {
		out[FieldTenantID] = r.req.Tenant.TenantID
	}
	if !includeDeleted {
		out[FieldDeleted] = bson.M{"$ne": true}
	}
	return out
}

// Find returns matching non-deleted documents of the repository type within
// tenant scope.
func (r *Repository) Find(ctx context.Context, filter bson.M, opts FindOptions) ([]*Document, error) {
	findOpts := options.Find()
	if opts.Sort != nil {
		findOpts.SetSort(opts.Sort)
	}
	if opts.Limit > 0 {
		findOpts.SetLimit(opts.Limit)
	}
	if opts.Skip > 0 {
		findOpts.SetSkip(opts.Skip)
	}

	cursor, err := r.coll.Find(ctx, r.scopedFilter(filter, opts.IncludeDeleted), findOpts)
	if err != nil {
		return nil, apperror.ErrDatabase("failed to query documents", err)
	}
	defer cursor.Close(ctx)

	docs := []*Document{}
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, apperror.ErrDatabase("failed to decode documents", err)
	}
	return docs, nil
}

// FindByID returns the document or nil when absent or out of scope.
func (r *Repository) FindByID(ctx context.Context, id string) (*Document, error) {
	return r.FindOne(ctx, bson.M{FieldID: id})
}

// FindOne returns the first match or nil.
func (r *Repository) FindOne(ctx context.Context, filter bson.M) (*Document, error) {
	var doc Document
	err := r.coll.FindOne(ctx, r.scopedFilter(filter, false)).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, apperror.ErrDatabase("failed to query document", err)
	}
	return &doc, nil
}

// FindWithPagination returns one page with an exact total. Limit 0 yields an
// empty page with the correct total; limits above MaxPageLimit are rejected.
func (r *Repository) FindWithPagination(ctx context.Context, filter bson.M, opts PageOptions) (*Page, error) {
	if opts.Limit < 0 || opts.Limit > MaxPageLimit {
		return nil, apperror.ErrValidation("limit must be between 0 and 200", map[string]interface{}{
			"limit": opts.Limit,
		})
	}
	if opts.Page < 1 {
		opts.Page = 1
	}

	scoped := r.scopedFilter(filter, false)
	total, err := r.coll.CountDocuments(ctx, scoped)
	if err != nil {
		return nil, apperror.ErrDatabase("failed to count documents", err)
	}

	page := &Page{Data: []*Document{}, Total: total, Page: opts.Page, Limit: opts.Limit}
	if opts.Limit == 0 {
		return page, nil
	}
	page.Pages = (total + opts.Limit - 1) / opts.Limit

	sort := opts.Sort
	if sort == nil {
		sort = bson.D{{Key: FieldCreatedAt, Value: -1}}
	}
	findOpts := options.Find().
		SetSort(sort).
		SetLimit(opts.Limit).
		SetSkip((opts.Page - 1) * opts.Limit)

	cursor, err := r.coll.Find(ctx, scoped, findOpts)
	if err != nil {
		return nil, apperror.ErrDatabase("failed to query page", err)
	}
	defer cursor.Close(ctx)
	if err := cursor.All(ctx, &page.Data); err != nil {
		return nil, apperror.ErrDatabase("failed to decode page", err)
	}
	return page, nil
}

// Create inserts a new document, assigning id, tenant, type, and envelope
// timestamps, and writes an audit CREATE entry.
func (r *Repository) Create(ctx context.Context, data map[string]interface{}) (*Document, error) {
	now := time.Now().UTC()
	doc := &Document{
		ID:        uuid.NewString(),
		Type:      r.typ,
		Deleted:   false,
		CreatedAt: now,
		UpdatedAt: now,
		CreatedBy: r.req.Tenant.UserID,
		Fields:    make(map[string]interface{}, len(data)),
	}

	doc.TenantID = r.req.Tenant.TenantID
	if r.req.Tenant.ScopesAllTenants() {
		// Platform-admin creates must name the target tenant explicitly.
		target, _ := data[FieldTenantID].(string)
		if target == "" || target == tenancy.AllTenants {
			return nil, apperror.ErrValidation("tenantId is required when creating across tenants", nil)
		}
		doc.TenantID = target
	}

	for k, v := range data {
		if reservedFields[k] {
			continue
		}
		doc.Fields[k] = v
	}

	if _, err := r.coll.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, apperror.ErrConflict("document id already exists")
		}
		return nil, apperror.ErrDatabase("failed to insert document", err)
	}

	r.trail.Record(ctx, audit.Event{
		EventType:    audit.EventCreate,
		ActorUserID:  r.req.Tenant.UserID,
		TenantID:     doc.TenantID,
		ResourceType: r.typ,
		ResourceID:   doc.ID,
		After:        doc.AsMap(),
	})
	return doc, nil
}

// Update applies a patch, bumps updatedAt, and writes an audit UPDATE entry
// with before/after snapshots. Patches naming immutable fields are rejected.
func (r *Repository) Update(ctx context.Context, id string, patch map[string]interface{}) (*Document, error) {
	for _, f := range immutableFields {
		if _, present := patch[f]; present {
			return nil, apperror.ErrValidation(fmt.Sprintf("field %q is immutable", f), nil)
		}
	}

	before, err := r.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if before == nil {
		return nil, apperror.ErrNotFound(r.typ, id)
	}

	set := bson.M{FieldUpdatedAt: time.Now().UTC()}
	if r.req.Tenant.UserID != "" {
		set[FieldUpdatedBy] = r.req.Tenant.UserID
	}
	for k, v := range patch {
		if reservedFields[k] {
			continue
		}
		set[k] = v
	}

	res, err := r.coll.UpdateOne(ctx, r.scopedFilter(bson.M{FieldID: id}, false), bson.M{"$set": set})
	if err != nil {
		return nil, apperror.ErrDatabase("failed to update document", err)
	}
	if res.MatchedCount == 0 {
		return nil, apperror.ErrNotFound(r.typ, id)
	}

	after, err := r.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if after == nil {
		// Soft-deleted between the update and the re-read.
		return nil, apperror.ErrNotFound(r.typ, id)
	}

	r.trail.Record(ctx, audit.Event{
		EventType:    audit.EventUpdate,
		ActorUserID:  r.req.Tenant.UserID,
		TenantID:     before.TenantID,
		ResourceType: r.typ,
		ResourceID:   id,
		Before:       before.AsMap(),
		After:        after.AsMap(),
	})
	return after, nil
}

// Delete soft-deletes the document and writes an audit DELETE entry. A
// second delete of the same id yields NotFound.
func (r *Repository) Delete(ctx context.Context, id string) error {
	before, err := r.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if before == nil {
		return apperror.ErrNotFound(r.typ, id)
	}

	now := time.Now().UTC()
	update := bson.M{"$set": bson.M{
		FieldDeleted:   true,
		FieldDeletedAt: now,
		FieldDeletedBy: r.req.Tenant.UserID,
		FieldUpdatedAt: now,
	}}
	res, err := r.coll.UpdateOne(ctx, r.scopedFilter(bson.M{FieldID: id}, false), update)
	if err != nil {
		return apperror.ErrDatabase("failed to delete document", err)
	}
	if res.MatchedCount == 0 {
		return apperror.ErrNotFound(r.typ, id)
	}

	r.trail.Record(ctx, audit.Event{
		EventType:    audit.EventDelete,
		ActorUserID:  r.req.Tenant.UserID,
		TenantID:     before.TenantID,
		ResourceType: r.typ,
		ResourceID:   id,
		Before:       before.AsMap(),
	})
	return nil
}

// HardDelete removes the record irreversibly. The administrative escape
// hatch; soft-deleted documents remain visible to it.
func (r *Repository) HardDelete(ctx context.Context, id string) error {
	var before Document
	err := r.coll.FindOne(ctx, r.scopedFilter(bson.M{FieldID: id}, true)).Decode(&before)
	if err == mongo.ErrNoDocuments {
		return apperror.ErrNotFound(r.typ, id)
	}
	if err != nil {
		return apperror.ErrDatabase("failed to load document", err)
	}

	res, err := r.coll.DeleteOne(ctx, r.scopedFilter(bson.M{FieldID: id}, true))
	if err != nil {
		return apperror.ErrDatabase("failed to hard-delete document", err)
	}
	if res.DeletedCount == 0 {
		return apperror.ErrNotFound(r.typ, id)
	}

	r.trail.Record(ctx, audit.Event{
		EventType:    audit.EventHardDelete,
		ActorUserID:  r.req.Tenant.UserID,
		TenantID:     before.TenantID,
		ResourceType: r.typ,
		ResourceID:   id,
		Before:       before.AsMap(),
	})
	return nil
}

// GetOptions returns {label, value} pairs for select inputs.
func (r *Repository) GetOptions(ctx context.Context, filter bson.M, labelField, valueField string) ([]Option, error) {
	docs, err := r.Find(ctx, filter, FindOptions{Sort: bson.D{{Key: labelField, Value: 1}}})
	if err != nil {
		return nil, err
	}
	opts := make([]Option, 0, len(docs))
	for _, doc := range docs {
		m := doc.AsMap()
		label, _ := m[labelField].(string)
		opts = append(opts, Option{Label: label, Value: m[valueField]})
	}
	return opts, nil
}

// GetDistinctValues returns the distinct scalar values of a field in scope.
func (r *Repository) GetDistinctValues(ctx context.Context, field string, filter bson.M) ([]interface{}, error) {
	values, err := r.coll.Distinct(ctx, field, r.scopedFilter(filter, false))
	if err != nil {
		return nil, apperror.ErrDatabase("failed to query distinct values", err)
	}
	return values, nil
}

// FindByRelation returns documents whose field equals value.
func (r *Repository) FindByRelation(ctx context.Context, field string, value interface{}, opts FindOptions) ([]*Document, error) {
	return r.Find(ctx, bson.M{field: value}, opts)
}

// Stats is the aggregate count report.
type Stats struct {
	Total    int64            `json:"total"`
	ByStatus map[string]int64 `json:"byStatus"`
}

// GetStats returns counts grouped by the given field (default "status").
func (r *Repository) GetStats(ctx context.Context, filter bson.M, groupField string) (*Stats, error) {
	if groupField == "" {
		groupField = "status"
	}
	pipeline := []bson.M{
		{"$match": r.scopedFilter(filter, false)},
		{"$group": bson.M{"_id": "$" + groupField, "count": bson.M{"$sum": 1}}},
	}
	cursor, err := r.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, apperror.ErrDatabase("failed to aggregate stats", err)
	}
	defer cursor.Close(ctx)

	stats := &Stats{ByStatus: map[string]int64{}}
	var rows []struct {
		ID    interface{} `bson:"_id"`
		Count int64       `bson:"count"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, apperror.ErrDatabase("failed to decode stats", err)
	}
	for _, row := range rows {
		key := "unknown"
		if s, ok := row.ID.(string); ok && s != "" {
			key = s
		}
		stats.ByStatus[key] += row.Count
		stats.Total += row.Count
	}
	return stats, nil
}

// BulkCreate inserts each document independently and reports per-document
// success or failure. Partial success is allowed.
func (r *Repository) BulkCreate(ctx context.Context, docs []map[string]interface{}) ([]BulkResult, error) {
	if len(docs) == 0 {
		return nil, apperror.ErrValidation("bulkCreate requires at least one document", nil)
	}
	results := make([]BulkResult, 0, len(docs))
	for i, data := range docs {
		doc, err := r.Create(ctx, data)
		if err != nil {
			results = append(results, BulkResult{Index: i, Error: err.Error()})
			continue
		}
		results = append(results, BulkResult{Index: i, ID: doc.ID, Doc: doc})
	}
	return results, nil
}
