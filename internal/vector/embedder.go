package vector

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/cenkalti/backoff/v4"
	"github.com/tmc/langchaingo/embeddings"

	"github.com/iamkash/intellispec/internal/apperror"
)

// defaultTextFields is the semantic projection used for types with no
// declared field list.
var defaultTextFields = []string{"name", "title", "description", "notes", "findings", "summary", "tags"}

// Embedder turns a document into an embedding vector. Transient model
// failures retry with exponential backoff up to maxRetries attempts.
type Embedder struct {
	client     embeddings.Embedder
	fields     map[string][]string
	maxInput   int
	maxRetries int
}

// NewEmbedder builds the embedder. fields maps a document type to its
// declared text fields; types missing from the map use the default set.
func NewEmbedder(client embeddings.Embedder, fields map[string][]string, maxInput, maxRetries int) *Embedder {
	if maxInput < 1 {
		maxInput = 8000
	}
	if maxRetries < 1 {
		maxRetries = 3
	}
	return &Embedder{client: client, fields: fields, maxInput: maxInput, maxRetries: maxRetries}
}

// Projection concatenates the document's declared text fields, truncated to
// the model's input limit. Field order is fixed so equal content always
// produces an equal projection.
func (e *Embedder) Projection(docType string, doc map[string]interface{}) string {
	fields := e.fields[docType]
	if len(fields) == 0 {
		fields = defaultTextFields
	}

	var parts []string
	for _, field := range fields {
		switch v := doc[field].(type) {
		case string:
			if v != "" {
				parts = append(parts, v)
			}
		case []interface{}:
			for _, item := range v {
				if s, ok := item.(string); ok && s != "" {
					parts = append(parts, s)
				}
			}
		case []string:
			parts = append(parts, v...)
		}
	}

	text := strings.Join(parts, "\n")
	if len(text) > e.maxInput {
		text = text[:e.maxInput]
	}
	return text
}

// SemanticHash fingerprints a projection. Equal hashes mean the embedding
// call can be skipped.
func SemanticHash(projection string) string {
	sum := sha256.Sum256([]byte(projection))
	return hex.EncodeToString(sum[:])
}

// Embed calls the model with backoff on transient failures.
func (e *Embedder) Embed(ctx context.Context, projection string) ([]float32, error) {
	var vector []float32
	op := func() error {
		v, err := e.client.EmbedQuery(ctx, projection)
		if err != nil {
			return err
		}
		vector = v
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(e.maxRetries-1)), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return nil, apperror.ErrExternal("embedding model call failed", err)
	}
	return vector, nil
}
