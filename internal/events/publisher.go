// Package events publishes committed activity log entries to JetStream
// so dashboard and reporting consumers can follow changes without
// polling the store.
package events

import (
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/t77yq/tracklet/internal/model"
)

const (
	activityStreamName    = "ACTIVITY"
	activitySubjectPrefix = "activity."

	streamMaxAge  = 7 * 24 * time.Hour
	streamMaxMsgs = -1
)

// ActivityPublisher pushes activity entries onto the ACTIVITY stream,
// one subject per entity type (activity.task, activity.epic, ...).
type ActivityPublisher struct {
	js     nats.JetStreamContext
	logger *zap.Logger
}

// NewActivityPublisher creates a publisher and ensures the stream
// exists.
func NewActivityPublisher(js nats.JetStreamContext, logger *zap.Logger) (*ActivityPublisher, error) {
	p := &ActivityPublisher{
		js:     js,
		logger: logger.Named("events"),
	}

	_, err := js.AddStream(&nats.StreamConfig{
		Name:     activityStreamName,
		Subjects: []string{activitySubjectPrefix + "*"},
		Storage:  nats.FileStorage,
		MaxAge:   streamMaxAge,
		MaxMsgs:  streamMaxMsgs,
	})
	if err != nil {
		if err == nats.ErrStreamNameAlreadyInUse {
			p.logger.Info("Stream already exists", zap.String("stream", activityStreamName))
			return p, nil
		}
		return nil, err
	}

	p.logger.Info("Stream created successfully", zap.String("stream", activityStreamName))
	return p, nil
}

// ActivityRecorded publishes one committed entry. Publication is
// best effort: the entry is already durable in the store, so a publish
// failure is logged and dropped rather than surfaced.
func (p *ActivityPublisher) ActivityRecorded(entry model.ActivityEntry) {
	data, err := json.Marshal(entry)
	if err != nil {
		p.logger.Error("Failed to marshal activity entry",
			zap.Int64("entry_id", entry.ID),
			zap.Error(err))
		return
	}

	subject := activitySubjectPrefix + string(entry.EntityType)
	if _, err := p.js.Publish(subject, data); err != nil {
		p.logger.Error("Failed to publish activity entry",
			zap.String("subject", subject),
			zap.Int64("entry_id", entry.ID),
			zap.Error(err))
		return
	}

	p.logger.Debug("Published activity entry",
		zap.String("subject", subject),
		zap.Int64("entry_id", entry.ID))
}
