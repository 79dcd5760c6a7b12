// Package main hosts the stealthfetch service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes /html and /screenshot for fetches, the /captcha routes for stored
//     challenge artifacts, plus /health, /healthz, /readyz and /metrics. Auth, body ceiling and request timeout are
//     applied to the API group only.
//   - Orchestrator: each request runs up to retries+1 attempts. Every attempt builds a fresh session profile
//     (viewport, user agent, launch flags, next proxy from the pool), launches one isolated browser, waits a human
//     delay, navigates, checks for an anti-bot challenge, simulates mouse and scroll activity, and extracts markup.
//   - Browser engines: chromedp (default) or go-rod with the stealth plugin, selected by browser.engine.
//   - Challenges: a detected challenge ends the attempt loop at once. The markup and screenshot are stored in the
//     in-memory captcha store under the caller's executionId and optionally announced on Pub/Sub.
//   - Configuration & plumbing: Viper populates config from file and env; zap provides structured logging;
//     Prometheus metrics are exported via the metrics middleware and /metrics handler.
//
// Operational notes:
//   - Concurrency: sessions are capped by browser.max_sessions and optionally throttled per host.
//   - Retention: a cron sweep evicts captcha artifacts older than captcha.retention_hours.
//   - Shutdown: SIGINT/SIGTERM drains the HTTP server and stops the sweeper and notifier.
//
// Run locally: go run ./cmd/stealthfetch -config config.yaml (or rely solely on env overrides such as PORT, PROXY,
// BROWSER_EXEC_PATH, DEFAULT_HEADLESS and AUTH_TOKEN).
package main
