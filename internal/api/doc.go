// Package api hosts the HTTP server, middleware, and REST handlers. Notable
// routes:
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/jobs/{text,images} for job submission.
//   - GET /v1/jobs/{id}/events for progress via server-sent events.
//   - GET /v1/jobs/{id}/artifact for the finished PDF or archive.
//   - GET /v1/history for past runs when a database is configured.
package api
