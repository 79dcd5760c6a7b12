// Package api hosts the HTTP server, middleware, and REST handlers. Notable
// routes:
//   - POST /html and /screenshot run a fetch through the orchestrator.
//   - POST /captcha, GET|DELETE /captcha/{executionId} and GET /captchas
//     manage stored challenge artifacts.
//   - GET /health reports liveness with the artifact count and uptime.
//   - GET /healthz, /readyz for Kubernetes probes and GET /metrics for
//     Prometheus scraping.
package api
