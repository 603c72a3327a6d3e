package repository

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/iamkash/intellispec/internal/apperror"
	"github.com/iamkash/intellispec/internal/tenancy"
)

func testRepo(t *testing.T, tenant tenancy.TenantContext) *Repository {
	t.Helper()
	req := tenancy.NewRequestContext(zerolog.Nop(), tenant)
	return &Repository{typ: "asset", req: req, searchFields: defaultSearchFields}
}

func TestScopedFilterAddsTenantTypeAndDeleted(t *testing.T) {
	repo := testRepo(t, tenancy.NewTenantContext("t1", "u1", tenancy.PlatformRoleUser))

	filter := repo.scopedFilter(bson.M{"status": "open"}, false)

	assert.Equal(t, "t1", filter[FieldTenantID])
	assert.Equal(t, "asset", filter[FieldType])
	assert.Equal(t, bson.M{"$ne": true}, filter[FieldDeleted])
	assert.Equal(t, "open", filter["status"])
}

func TestScopedFilterOverwritesGuardedKeys(t *testing.T) {
	repo := testRepo(t, tenancy.NewTenantContext("t1", "u1", tenancy.PlatformRoleUser))

	filter := repo.scopedFilter(bson.M{FieldTenantID: "t2", FieldType: "user"}, false)

	assert.Equal(t, "t1", filter[FieldTenantID])
	assert.Equal(t, "asset", filter[FieldType])
}

func TestScopedFilterPlatformAdminOmitsTenant(t *testing.T) {
	repo := testRepo(t, tenancy.NewPlatformContext("admin"))

	filter := repo.scopedFilter(nil, false)

	_, hasTenant := filter[FieldTenantID]
	assert.False(t, hasTenant)
	assert.Equal(t, "asset", filter[FieldType])
}

func TestScopedFilterIncludeDeleted(t *testing.T) {
	repo := testRepo(t, tenancy.NewTenantContext("t1", "u1", tenancy.PlatformRoleUser))

	filter := repo.scopedFilter(nil, true)

	_, hasDeleted := filter[FieldDeleted]
	assert.False(t, hasDeleted)
}

func TestFindWithPaginationRejectsOversizedLimit(t *testing.T) {
	repo := testRepo(t, tenancy.NewTenantContext("t1", "u1", tenancy.PlatformRoleUser))

	_, err := repo.FindWithPagination(context.Background(), nil, PageOptions{Limit: MaxPageLimit + 1})

	require.Error(t, err)
	assert.True(t, apperror.IsKind(err, apperror.KindValidation))
}

func TestUpdateRejectsImmutableFields(t *testing.T) {
	repo := testRepo(t, tenancy.NewTenantContext("t1", "u1", tenancy.PlatformRoleUser))

	for _, field := range []string{FieldID, FieldTenantID, FieldType, FieldCreatedAt} {
		_, err := repo.Update(context.Background(), "d1", map[string]interface{}{field: "x"})
		require.Error(t, err, field)
		assert.True(t, apperror.IsKind(err, apperror.KindValidation), field)
	}
}

func TestBulkCreateRejectsEmptyInput(t *testing.T) {
	repo := testRepo(t, tenancy.NewTenantContext("t1", "u1", tenancy.PlatformRoleUser))

	_, err := repo.BulkCreate(context.Background(), nil)

	require.Error(t, err)
	assert.True(t, apperror.IsKind(err, apperror.KindValidation))
}

func TestDocumentJSONRoundTrip(t *testing.T) {
	doc := &Document{
		ID:       "d1",
		TenantID: "t1",
		Type:     "asset",
		Fields: map[string]interface{}{
			"name": "Pump",
			"code": "P-100",
		},
	}

	raw, err := json.Marshal(doc)
	require.NoError(t, err)

	var flat map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &flat))
	assert.Equal(t, "d1", flat["id"])
	assert.Equal(t, "Pump", flat["name"])

	var back Document
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, "d1", back.ID)
	assert.Equal(t, "t1", back.TenantID)
	assert.Equal(t, "asset", back.Type)
	assert.Equal(t, "Pump", back.Fields["name"])
	_, leaked := back.Fields["id"]
	assert.False(t, leaked, "envelope fields must not leak into the payload map")
}

func TestAsMapOnNilDocument(t *testing.T) {
	// Audit snapshots flatten re-read documents that may have vanished
	// under a concurrent soft delete.
	var doc *Document
	assert.Nil(t, doc.AsMap())
}

func TestRankMatches(t *testing.T) {
	doc := &Document{
		Fields: map[string]interface{}{
			"name":        "Main Pump",
			"code":        "PUMP-01",
			"description": "backup unit",
			"tags":        []interface{}{"pump", "critical"},
		},
	}

	assert.Equal(t, 3, rankMatches(doc, defaultSearchFields, "pump"))
	assert.Equal(t, 1, rankMatches(doc, defaultSearchFields, "backup"))
	assert.Equal(t, 0, rankMatches(doc, defaultSearchFields, "valve"))
}
