// Package api hosts the HTTP server, middleware, and REST handlers that front
// the job pipeline. Routes:
//   - POST /api/start submits a job and returns its id (rate limited).
//   - GET /api/progress/{job_id} reports status, phase and result.
//   - POST /api/cancel/{job_id} requests cooperative cancellation.
//   - GET /api/download/{job_id}?index= returns presigned document links.
//   - GET /healthz, /readyz for probes and /metrics for Prometheus.
package api
