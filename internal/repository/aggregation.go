package repository

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/iamkash/intellispec/internal/apperror"
)

// envelopeDateFields are always safe targets for date operators.
var envelopeDateFields = map[string]bool{
	FieldCreatedAt: true,
	FieldUpdatedAt: true,
	FieldDeletedAt: true,
}

// dateOperators are the comparison operators that may carry a date operand.
var dateOperators = map[string]bool{"$gt": true, "$gte": true, "$lt": true, "$lte": true, "$eq": true, "$ne": true}

// AggregateConfig is the declarative alternative to a raw pipeline.
type AggregateConfig struct {
	BaseFilter bson.M   `json:"baseFilter"`
	GroupBy    *GroupBy `json:"groupBy,omitempty"`
	Sort       bson.M   `json:"sort,omitempty"`
	Limit      int64    `json:"limit,omitempty"`
	Project    bson.M   `json:"project,omitempty"`
	// DateFields declares additional payload fields that hold dates and may
	// therefore appear under date operators.
	DateFields []string `json:"dateFields,omitempty"`
}

// GroupBy declares the $group stage.
type GroupBy struct {
	ID     interface{}       `json:"_id"`
	Fields map[string]bson.M `json:"fields,omitempty"`
}

// rawPipelineStages are the operators a caller-supplied pipeline may use.
// Stages that read other collections ($lookup, $unionWith, $graphLookup,
// $facet) or write results ($out, $merge) would escape the tenant scope
// prepended below, so anything outside this set is refused.
var rawPipelineStages = map[string]bool{
	"$match": true, "$group": true, "$sort": true, "$limit": true,
	"$skip": true, "$project": true, "$unwind": true, "$count": true,
	"$addFields": true,
}

// Aggregate runs a raw pipeline with the repository's mandatory filters
// prepended. Every stage must come from the allowlist; results are returned
// verbatim.
func (r *Repository) Aggregate(ctx context.Context, pipeline []bson.M) ([]bson.M, error) {
	if len(pipeline) == 0 {
		return nil, apperror.ErrValidation("aggregation pipeline is empty", nil)
	}
	for i, stage := range pipeline {
		if len(stage) != 1 {
			return nil, apperror.ErrValidation("pipeline stage must hold exactly one operator", map[string]interface{}{
				"stage": i,
			})
		}
		for op := range stage {
			if !rawPipelineStages[op] {
				return nil, apperror.ErrValidation("pipeline stage is not allowed", map[string]interface{}{
					"stage":    i,
					"operator": op,
				})
			}
		}
	}
	full := append([]bson.M{{"$match": r.scopedFilter(nil, false)}}, pipeline...)
	return r.runPipeline(ctx, full)
}

// AggregateWithConfig compiles the declarative config into a pipeline and
// runs it. Date-operator validation happens before any database call.
func (r *Repository) AggregateWithConfig(ctx context.Context, cfg AggregateConfig) ([]bson.M, error) {
	pipeline, err := r.compileConfig(cfg)
	if err != nil {
		return nil, err
	}
	return r.runPipeline(ctx, pipeline)
}

// compileConfig builds the pipeline: mandatory filters, date coercion,
// baseFilter match, then the declared stages.
func (r *Repository) compileConfig(cfg AggregateConfig) ([]bson.M, error) {
	dateFields := make(map[string]bool, len(envelopeDateFields)+len(cfg.DateFields))
	for f := range envelopeDateFields {
		dateFields[f] = true
	}
	for _, f := range cfg.DateFields {
		dateFields[f] = true
	}

	baseFilter, coerce, err := normalizeDateFilter(cfg.BaseFilter, dateFields)
	if err != nil {
		return nil, err
	}

	pipeline := []bson.M{{"$match": r.scopedFilter(nil, false)}}
	if len(coerce) > 0 {
		pipeline = append(pipeline, bson.M{"$addFields": coerce})
	}
	if len(baseFilter) > 0 {
		pipeline = append(pipeline, bson.M{"$match": baseFilter})
	}
	if cfg.GroupBy != nil {
		group := bson.M{"_id": cfg.GroupBy.ID}
		for name, expr := range cfg.GroupBy.Fields {
			group[name] = expr
		}
		pipeline = append(pipeline, bson.M{"$group": group})
	}
	if len(cfg.Sort) > 0 {
		pipeline = append(pipeline, bson.M{"$sort": cfg.Sort})
	}
	if cfg.Limit > 0 {
		pipeline = append(pipeline, bson.M{"$limit": cfg.Limit})
	}
	if len(cfg.Project) > 0 {
		pipeline = append(pipeline, bson.M{"$project": cfg.Project})
	}
	return pipeline, nil
}

// normalizeDateFilter walks the base filter. ISO strings under date
// operators on declared date fields are parsed, and the field is routed
// through a $toDate coercion so string-stored dates still compare; a date
// operand on an undeclared field is a validation error.
func normalizeDateFilter(filter bson.M, dateFields map[string]bool) (bson.M, bson.M, error) {
	out := bson.M{}
	coerce := bson.M{}
	for field, cond := range filter {
		ops, isOps := cond.(bson.M)
		if !isOps {
			if asMap, ok := cond.(map[string]interface{}); ok {
				ops, isOps = bson.M(asMap), true
			}
		}
		if !isOps {
			out[field] = cond
			continue
		}

		normalized := bson.M{}
		for op, operand := range ops {
			if !dateOperators[op] {
				normalized[op] = operand
				continue
			}
			ts, isDate := asDate(operand)
			if !isDate {
				normalized[op] = operand
				continue
			}
			if !dateFields[field] {
				return nil, nil, apperror.ErrValidation("date operator applied to a non-date field", map[string]interface{}{
					"field":    field,
					"operator": op,
				})
			}
			normalized[op] = ts
			coerce[field] = bson.M{"$toDate": "$" + field}
		}
		out[field] = normalized
	}
	return out, coerce, nil
}

// asDate recognizes real date values and ISO-formatted strings.
func asDate(v interface{}) (time.Time, bool) {
	switch val := v.(type) {
	case time.Time:
		return val, true
	case string:
		if ts, err := time.Parse(time.RFC3339, val); err == nil {
			return ts, true
		}
		if ts, err := time.Parse("2006-01-02", val); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

func (r *Repository) runPipeline(ctx context.Context, pipeline []bson.M) ([]bson.M, error) {
	cursor, err := r.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, apperror.ErrDatabase("failed to run aggregation", err)
	}
	defer cursor.Close(ctx)

	results := []bson.M{}
	if err := cursor.All(ctx, &results); err != nil {
		return nil, apperror.ErrDatabase("failed to decode aggregation results", err)
	}
	return results, nil
}
