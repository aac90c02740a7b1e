// Package influxdb provides InfluxDB connectivity for CRM Core.
//
// It wraps the official influxdb-client-go v2 library for connection
// management, batched writes and health monitoring.
//
// # Purpose
//
// CRM Core writes authentication telemetry:
//   - auth_events: logins, refreshes, logouts and user administration,
//     tagged by action, outcome, role and persistence mode
//   - store_mode: durable/fallback transitions of the persistence layer
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.WriteAuthEvent("login", "success", "admin", "durable", "usr-1a2b3c4d", time.Now())
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// The underlying write API uses non-blocking batched writes.
//
// # Error Handling
//
// Writes never return errors. A batch the server rejects is counted in
// Failures and passed, wrapped in ErrWriteFailed, to the SetOnError
// handler. Connection and health check errors are returned directly.
package influxdb
