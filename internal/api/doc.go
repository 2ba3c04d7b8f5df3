// Package api hosts the HTTP server, middleware, and REST handlers. Notable
// routes:
//   - POST /v1/predict runs a sales forecast for a postcode.
//   - GET /healthz and /readyz for Kubernetes probes; readyz fails until a
//     model bundle is loaded.
//   - GET /metrics for Prometheus scraping.
package api
