package repository

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// SearchResult pairs a document with its rank: the number of declared text
// fields the term matched.
type SearchResult struct {
	Doc  *Document `json:"doc"`
	Rank int       `json:"rank"`
}

// Search runs a case-insensitive substring match over the declared text
// fields and returns results ordered by descending rank. An empty term
// yields an empty result set.
func (r *Repository) Search(ctx context.Context, term string, opts FindOptions) ([]SearchResult, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return []SearchResult{}, nil
	}

	pattern := primitive.Regex{Pattern: regexp.QuoteMeta(term), Options: "i"}
	or := make([]bson.M, 0, len(r.searchFields))
	for _, field := range r.searchFields {
		or = append(or, bson.M{field: pattern})
	}

	docs, err := r.Find(ctx, bson.M{"$or": or}, FindOptions{Limit: opts.Limit, Skip: opts.Skip, Sort: opts.Sort})
	if err != nil {
		return nil, err
	}

	lowered := strings.ToLower(term)
	results := make([]SearchResult, 0, len(docs))
	for _, doc := range docs {
		rank := rankMatches(doc, r.searchFields, lowered)
		if rank > 0 {
			results = append(results, SearchResult{Doc: doc, Rank: rank})
		}
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Rank > results[j].Rank })
	return results, nil
}

// rankMatches counts how many of the fields contain the lowered term. Tag
// arrays count once when any element matches.
func rankMatches(doc *Document, fields []string, lowered string) int {
	rank := 0
	for _, field := range fields {
		v, ok := doc.Field(field)
		if !ok {
			continue
		}
		switch val := v.(type) {
		case string:
			if strings.Contains(strings.ToLower(val), lowered) {
				rank++
			}
		case []interface{}:
			for _, elem := range val {
				if s, ok := elem.(string); ok && strings.Contains(strings.ToLower(s), lowered) {
					rank++
					break
				}
			}
		case []string:
			for _, s := range val {
				if strings.Contains(strings.ToLower(s), lowered) {
					rank++
					break
				}
			}
		}
	}
	return rank
}
