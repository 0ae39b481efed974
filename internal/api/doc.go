// Package api hosts the HTTP server, middleware, and REST handlers for the
// scanner service. Notable routes:
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/scans for synchronous scans; the response is always HTTP 200
//     and failures are reported inside the body.
//   - POST /v1/jobs and GET /v1/jobs/{job_id} for async scans.
package api
