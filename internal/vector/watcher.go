package vector

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type changeEvent struct {
	OperationType string                 `bson:"operationType"`
	FullDocument  map[string]interface{} `bson:"fullDocument"`
	DocumentKey   map[string]interface{} `bson:"documentKey"`
}

var watchedOperations = []string{"insert", "update", "replace", "delete"}

// openStream opens the change stream, resuming from the saved token when
// one exists. It also returns when that token was saved, which bounds the
// catch-up scan if the server refuses the token.
func (p *Pipeline) openStream(ctx context.Context) (*mongo.ChangeStream, time.Time, error) {
	token, savedAt, err := p.store.LoadResumeToken(ctx)
	if err != nil {
		return nil, time.Time{}, err
	}

	opts := options.ChangeStream().SetFullDocument(options.UpdateLookup)
	if token != nil {
		opts.SetResumeAfter(token)
	}
	pipeline := mongo.Pipeline{
		bson.D{{Key: "$match", Value: bson.M{"operationType": bson.M{"$in": watchedOperations}}}},
	}
	stream, err := p.docs.Watch(ctx, pipeline, opts)
	if err != nil && token != nil {
		// The saved position fell off the oplog. Catch up by scan instead.
		p.logger.Warn().Err(err).Msg("resume token rejected, falling back to scan")
		if err := p.store.ClearResumeToken(ctx); err != nil {
			p.logger.Error().Err(err).Msg("failed to clear resume token")
		}
		p.catchUpScan(ctx, savedAt)
		stream, err = p.docs.Watch(ctx, pipeline, options.ChangeStream().SetFullDocument(options.UpdateLookup))
	}
	if err != nil {
		return nil, time.Time{}, err
	}
	return stream, savedAt, nil
}

// watchLoop consumes the change stream, re-establishing it on errors until
// the pipeline stops.
func (p *Pipeline) watchLoop(ctx context.Context, stream *mongo.ChangeStream, savedAt time.Time) error {
	for {
		p.consume(ctx, stream)
		stream.Close(context.Background())
		if ctx.Err() != nil {
			return nil
		}

		p.logger.Warn().Msg("change stream interrupted, reconnecting")
		var err error
		stream, savedAt, err = p.openStream(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			p.logger.Error().Err(err).Msg("failed to reopen change stream, retrying")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(5 * time.Second):
			}
			continue
		}
	}
}

func (p *Pipeline) consume(ctx context.Context, stream *mongo.ChangeStream) {
	for stream.Next(ctx) {
		var event changeEvent
		if err := stream.Decode(&event); err != nil {
			p.logger.Error().Err(err).Msg("failed to decode change event")
			continue
		}
		p.handleEvent(event)
		if err := p.store.SaveResumeToken(ctx, stream.ResumeToken()); err != nil {
			p.logger.Error().Err(err).Msg("failed to save resume token")
		}
		p.waitWhilePaused(ctx)
	}
	if err := stream.Err(); err != nil && ctx.Err() == nil {
		p.logger.Error().Err(err).Msg("change stream error")
	}
}

// handleEvent translates a change event into a job for the debouncer.
// Events for unmonitored types are dropped; soft deletes become removal
// jobs like hard deletes.
func (p *Pipeline) handleEvent(event changeEvent) {
	if event.OperationType == "delete" {
		p.deb.Add(Job{Delete: true, SourceID: event.DocumentKey["_id"]})
		return
	}

	doc := event.FullDocument
	if doc == nil {
		return
	}
	docType, _ := doc["type"].(string)
	if !p.monitored[docType] {
		return
	}
	id, _ := doc["id"].(string)
	if id == "" {
		return
	}
	tenantID, _ := doc["tenantId"].(string)

	job := Job{
		DocumentID: id,
		TenantID:   tenantID,
		Type:       docType,
		SourceID:   doc["_id"],
	}
	if deleted, _ := doc["deleted"].(bool); deleted {
		job.Delete = true
	} else {
		job.Doc = doc
	}
	p.deb.Add(job)
}

// waitWhilePaused blocks stream consumption above the high-water mark and
// resumes below the low-water mark. The resume token keeps the position, so
// nothing is lost while paused.
func (p *Pipeline) waitWhilePaused(ctx context.Context) {
	if p.queueDepth.Load() < int64(p.cfg.QueueHighWater) {
		return
	}
	p.paused.Store(true)
	p.logger.Warn().Int64("queueDepth", p.queueDepth.Load()).Msg("queue above high water, pausing watcher")

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			p.paused.Store(false)
			return
		case <-ticker.C:
			if p.queueDepth.Load() <= int64(p.cfg.QueueLowWater) {
				p.paused.Store(false)
				p.logger.Info().Msg("queue drained, resuming watcher")
				return
			}
		}
	}
}

// catchUpScan re-enqueues monitored documents updated since the given time.
// It is the degraded path when the change stream position is lost.
func (p *Pipeline) catchUpScan(ctx context.Context, since time.Time) {
	filter := bson.M{
		"type":    bson.M{"$in": p.cfg.MonitoredTypes},
		"deleted": bson.M{"$ne": true},
	}
	if !since.IsZero() {
		// Slop absorbs clock skew between the token save and the writes.
		filter["updatedAt"] = bson.M{"$gte": since.Add(-time.Minute)}
	}

	cursor, err := p.docs.Find(ctx, filter)
	if err != nil {
		p.logger.Error().Err(err).Msg("catch-up scan failed")
		return
	}
	defer cursor.Close(ctx)

	count := 0
	for cursor.Next(ctx) {
		var doc map[string]interface{}
		if err := cursor.Decode(&doc); err != nil {
			continue
		}
		p.handleEvent(changeEvent{OperationType: "replace", FullDocument: doc})
		count++
	}
	p.logger.Info().Int("documents", count).Time("since", since).Msg("catch-up scan enqueued")
}
