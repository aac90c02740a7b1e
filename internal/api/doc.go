// Package api implements the HTTP REST API for CRM Core.
//
// This package provides:
//   - The authentication endpoints (/auth/login, /auth/refresh, /auth/logout, /auth/me)
//   - Administrative user management (/users)
//   - CRUD routes for contacts, companies, deals, campaigns and tickets
//   - The audit trail listing (/audit), /health and Prometheus /metrics
//   - Middleware stack (request ID, logging, recovery, metrics, CORS, body limit)
//
// # Request Pipeline
//
// Every request except /metrics is one unit of work: the unitOfWork
// middleware asks the store.Selector for a backend once, and every
// handler downstream uses that adapter for the rest of the request.
// Protected routes then pass authenticate, which verifies the bearer
// access token and loads the active identity, and requirePermission,
// which checks the route's declaration in the auth.Matrix.
//
// # Errors
//
// Errors are JSON bodies of the form {"status","code","message"}.
// Authentication failures always read "not authorized" and login failures
// "invalid email or password", whatever the underlying cause. A durable
// store failure in the middle of a request is a 503; the next request is
// served from the fallback store.
package api
