// Package audit records who did what to which record.
//
// Entries are produced by the HTTP layer (logins, refreshes, logouts,
// user administration and record writes), queued on a bounded channel
// and fanned out asynchronously to every configured sink: the
// audit_logs table, the MQTT event bus and InfluxDB. Delivery is best
// effort. A full queue drops the entry rather than slowing a request.
package audit
