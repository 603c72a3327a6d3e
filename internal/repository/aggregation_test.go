package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/iamkash/intellispec/internal/apperror"
	"github.com/iamkash/intellispec/internal/tenancy"
)

func TestCompileConfigPrependsMandatoryFilters(t *testing.T) {
	repo := testRepo(t, tenancy.NewTenantContext("t1", "u1", tenancy.PlatformRoleUser))

	pipeline, err := repo.compileConfig(AggregateConfig{
		BaseFilter: bson.M{"status": "open"},
		GroupBy:    &GroupBy{ID: "$status", Fields: map[string]bson.M{"count": {"$sum": 1}}},
		Sort:       bson.M{"count": -1},
		Limit:      10,
	})
	require.NoError(t, err)

	match, ok := pipeline[0]["$match"].(bson.M)
	require.True(t, ok, "first stage must be the mandatory scope match")
	assert.Equal(t, "t1", match[FieldTenantID])
	assert.Equal(t, "asset", match[FieldType])
	assert.Equal(t, bson.M{"$ne": true}, match[FieldDeleted])

	base := pipeline[1]["$match"].(bson.M)
	assert.Equal(t, bson.M{"status": "open"}, base)
}

func TestCompileConfigStageOrder(t *testing.T) {
	repo := testRepo(t, tenancy.NewTenantContext("t1", "u1", tenancy.PlatformRoleUser))

	pipeline, err := repo.compileConfig(AggregateConfig{
		BaseFilter: bson.M{"status": "open"},
		GroupBy:    &GroupBy{ID: "$status"},
		Sort:       bson.M{"count": -1},
		Limit:      5,
		Project:    bson.M{"count": 1},
	})
	require.NoError(t, err)
	require.Len(t, pipeline, 6)

	stages := make([]string, 0, len(pipeline))
	for _, stage := range pipeline {
		for name := range stage {
			stages = append(stages, name)
		}
	}
	assert.Equal(t, []string{"$match", "$match", "$group", "$sort", "$limit", "$project"}, stages)
}

func TestCompileConfigCoercesISODatesOnDateFields(t *testing.T) {
	repo := testRepo(t, tenancy.NewTenantContext("t1", "u1", tenancy.PlatformRoleUser))

	pipeline, err := repo.compileConfig(AggregateConfig{
		BaseFilter: bson.M{"createdAt": bson.M{"$gte": "2025-01-01T00:00:00Z"}},
	})
	require.NoError(t, err)

	addFields, ok := pipeline[1]["$addFields"].(bson.M)
	require.True(t, ok, "coercion stage expected before the base match")
	assert.Equal(t, bson.M{"$toDate": "$createdAt"}, addFields["createdAt"])

	match := pipeline[2]["$match"].(bson.M)
	cond := match["createdAt"].(bson.M)
	ts, isTime := cond["$gte"].(time.Time)
	require.True(t, isTime, "ISO string must be parsed to a real date")
	assert.Equal(t, 2025, ts.Year())
}

func TestCompileConfigRejectsDateOperatorOnNonDateField(t *testing.T) {
	repo := testRepo(t, tenancy.NewTenantContext("t1", "u1", tenancy.PlatformRoleUser))

	_, err := repo.compileConfig(AggregateConfig{
		BaseFilter: bson.M{"name": bson.M{"$gte": "2025-01-01T00:00:00Z"}},
	})

	require.Error(t, err)
	assert.True(t, apperror.IsKind(err, apperror.KindValidation))
}

func TestCompileConfigHonorsDeclaredDateFields(t *testing.T) {
	repo := testRepo(t, tenancy.NewTenantContext("t1", "u1", tenancy.PlatformRoleUser))

	pipeline, err := repo.compileConfig(AggregateConfig{
		BaseFilter: bson.M{"inspectedAt": bson.M{"$lt": "2025-06-01"}},
		DateFields: []string{"inspectedAt"},
	})
	require.NoError(t, err)

	addFields := pipeline[1]["$addFields"].(bson.M)
	assert.Contains(t, addFields, "inspectedAt")
}

func TestAggregateRejectsCollectionReadingStages(t *testing.T) {
	repo := testRepo(t, tenancy.NewTenantContext("t1", "u1", tenancy.PlatformRoleUser))

	for _, stage := range []bson.M{
		{"$unionWith": bson.M{"coll": "users"}},
		{"$lookup": bson.M{"from": "documents", "as": "joined", "localField": "id", "foreignField": "parentId"}},
		{"$graphLookup": bson.M{"from": "documents", "as": "tree", "startWith": "$id", "connectFromField": "id", "connectToField": "parentId"}},
		{"$facet": bson.M{"all": []bson.M{{"$count": "n"}}}},
	} {
		_, err := repo.Aggregate(context.Background(), []bson.M{stage})
		require.Error(t, err, "stage %v must be refused", stage)
		assert.True(t, apperror.IsKind(err, apperror.KindValidation))
	}
}

func TestAggregateRejectsWriteStages(t *testing.T) {
	repo := testRepo(t, tenancy.NewTenantContext("t1", "u1", tenancy.PlatformRoleUser))

	for _, stage := range []bson.M{
		{"$out": "documents"},
		{"$merge": bson.M{"into": "documents"}},
	} {
		_, err := repo.Aggregate(context.Background(), []bson.M{stage})
		require.Error(t, err, "stage %v must be refused", stage)
		assert.True(t, apperror.IsKind(err, apperror.KindValidation))
	}
}

func TestAggregateRejectsMultiOperatorStage(t *testing.T) {
	repo := testRepo(t, tenancy.NewTenantContext("t1", "u1", tenancy.PlatformRoleUser))

	_, err := repo.Aggregate(context.Background(), []bson.M{
		{"$match": bson.M{"status": "open"}, "$out": "documents"},
	})

	require.Error(t, err)
	assert.True(t, apperror.IsKind(err, apperror.KindValidation))
}

func TestAggregateRejectsEmptyPipeline(t *testing.T) {
	repo := testRepo(t, tenancy.NewTenantContext("t1", "u1", tenancy.PlatformRoleUser))

	_, err := repo.Aggregate(context.Background(), nil)

	require.Error(t, err)
	assert.True(t, apperror.IsKind(err, apperror.KindValidation))
}

func TestCompileConfigLeavesNonDateOperandsAlone(t *testing.T) {
	repo := testRepo(t, tenancy.NewTenantContext("t1", "u1", tenancy.PlatformRoleUser))

	pipeline, err := repo.compileConfig(AggregateConfig{
		BaseFilter: bson.M{"score": bson.M{"$gte": 10}},
	})
	require.NoError(t, err)
	require.Len(t, pipeline, 2)

	match := pipeline[1]["$match"].(bson.M)
	assert.Equal(t, bson.M{"$gte": 10}, match["score"])
}
