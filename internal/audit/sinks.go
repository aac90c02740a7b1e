package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/crm-core/internal/infrastructure/mqtt"
)

// RepositorySink persists entries through a Repository.
type RepositorySink struct {
	Repo Repository
}

// Write stores the entry.
func (s RepositorySink) Write(ctx context.Context, entry *Entry) error {
	return s.Repo.Create(ctx, entry)
}

// Publisher is the subset of the MQTT client used for audit events.
type Publisher interface {
	Topics() mqtt.Topics
	PublishJSON(topic string, v any, retained bool) error
}

// MQTTSink publishes each entry to <prefix>/audit/<action>.
type MQTTSink struct {
	Client Publisher
}

// Write publishes the entry as JSON, not retained.
func (s MQTTSink) Write(_ context.Context, entry *Entry) error {
	return s.Client.PublishJSON(s.Client.Topics().Audit(entry.Action), entry, false)
}

// PointWriter is the subset of the InfluxDB client used for audit events.
type PointWriter interface {
	WriteAuthEvent(action, outcome, role, mode, subjectID string, at time.Time)
}

// InfluxSink writes each entry as an auth_events point.
type InfluxSink struct {
	Client PointWriter
}

// Write queues the point; the InfluxDB client batches asynchronously.
func (s InfluxSink) Write(_ context.Context, entry *Entry) error {
	subject := entry.UserID
	if subject == "" {
		subject = entry.EntityID
	}
	s.Client.WriteAuthEvent(entry.Action, entry.Outcome(), entry.Role(), entry.Mode, subject, entry.CreatedAt)
	return nil
}

func sinkName(s Sink) string {
	switch s.(type) {
	case RepositorySink:
		return "sql"
	case MQTTSink:
		return "mqtt"
	case InfluxSink:
		return "influxdb"
	default:
		return fmt.Sprintf("%T", s)
	}
}
