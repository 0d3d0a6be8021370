// Package api hosts the HTTP server, middleware, and REST handlers for
// requesters and operators. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/messages and /v1/callbacks for inbound requester events.
//   - GET /v1/jobs and /v1/jobs/{job_id} for the live job registry.
//   - POST /v1/jobs/{job_id}/cancel to interrupt a running job.
package api
