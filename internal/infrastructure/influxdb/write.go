package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by CRM Core.
const (
	MeasurementAuthEvents = "auth_events"
	MeasurementStoreMode  = "store_mode"
)

// WriteAuthEvent records one authentication or administration event.
//
// The write is non-blocking; points are batched and sent asynchronously.
// Tags are low-cardinality (action, outcome, role, mode); the subject id
// is a field so it does not explode series cardinality.
//
// Parameters:
//   - action: The audit action (e.g., "login", "refresh", "user_create")
//   - outcome: "success" or "failure"
//   - role: Role of the acting identity, empty if unknown
//   - mode: Persistence backend that served the request
//   - subjectID: Identity id, empty if unknown
//   - at: When the event happened
func (c *Client) WriteAuthEvent(action, outcome, role, mode, subjectID string, at time.Time) {
	if !c.IsConnected() {
		return
	}

	tags := map[string]string{
		"action":  action,
		"outcome": outcome,
	}
	if role != "" {
		tags["role"] = role
	}
	if mode != "" {
		tags["mode"] = mode
	}

	fields := map[string]interface{}{
		"count": 1,
	}
	if subjectID != "" {
		fields["subject_id"] = subjectID
	}

	c.writer.WritePoint(write.NewPoint(MeasurementAuthEvents, tags, fields, at))
}

// WriteStoreMode records a persistence backend transition.
//
// durable is 1 when the durable store serves requests, 0 on fallback,
// so the series can be graphed directly.
func (c *Client) WriteStoreMode(mode string, at time.Time) {
	if !c.IsConnected() {
		return
	}

	durable := 0
	if mode == "durable" {
		durable = 1
	}

	point := write.NewPoint(
		MeasurementStoreMode,
		map[string]string{"mode": mode},
		map[string]interface{}{"durable": durable},
		at,
	)
	c.writer.WritePoint(point)
}
