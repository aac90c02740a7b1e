// Package store provides persistence for identities and CRM records.
//
// Two adapters implement the same Adapter contract:
//   - SQL, the durable store over SQLite or Postgres
//   - Memory, the in-process fallback seeded from fixtures.toml
//
// Both produce identical JSON for the same record: ids are
// <prefix>-<uuid8>, timestamps are UTC truncated to microseconds, lists
// are ordered by creation time then id, and search folds ASCII case only.
//
// The Selector picks one adapter per unit of work (one HTTP request) and
// the choice is carried in the context with WithAdapter. A unit of work
// never switches adapters part-way through; when the durable store fails
// mid-request the request fails with ErrUnavailable and the next one is
// served from the fallback. Writes accepted by the fallback are not
// copied to the durable store when it comes back.
package store
