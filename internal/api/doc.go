// Package api hosts the HTTP control plane for the harvester. Notable routes:
//   - GET /healthz and /readyz for health checks.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/runs to start a harvest, and /v1/runs/{pause,resume,cancel,retry}
//     to steer it.
//   - GET /v1/runs/status, /v1/runs/logs and /v1/failures for progress.
package api
