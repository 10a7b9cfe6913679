// Package api hosts the HTTP server, middleware, and REST handlers of the
// avatar service. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/avatars to queue a single avatar request.
//   - POST /v1/webhooks/evolution to queue every contact avatar in a provider message.
//   - GET /v1/owners/{owner_type}/{owner_id}/avatar for the current attachment.
package api
