// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/sync to start a run, GET /v1/sync/last for the last summary.
//   - GET /v1/diagnose?url= for a dry run against one page.
package api
