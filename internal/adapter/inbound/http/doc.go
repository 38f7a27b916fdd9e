// Package http provides the local observer dashboard for the bridge.
//
// The dashboard is an HTTP server bound to localhost by default. It never
// carries protocol traffic; it only exposes what the bridge has observed.
//
// # Usage
//
//	reg := http.NewRegistry()
//	metrics := http.NewMetrics(reg)
//	dash := http.NewDashboard(eventStore,
//	    http.WithAddr("127.0.0.1:9090"),
//	    http.WithRegistry(reg),
//	    http.WithMetrics(metrics),
//	    http.WithTokenHash(cfg.Observer.TokenHash),
//	)
//	if err := dash.Listen(); err != nil {
//	    // continue without a dashboard
//	}
//	go dash.Serve(ctx)
//
// # Endpoints
//
//	GET /events?limit=N  - Most recent events, oldest first (default 100, max 1000)
//	GET /health          - Observer queue depth, drops, breaker and bridge state
//	GET /metrics         - Prometheus exposition
//
// # Authentication
//
// When a token hash is configured, /events requires
// "Authorization: Bearer <token>". The hash is Argon2id in PHC format, as
// printed by "sentinel-bridge hash-token". /health and /metrics stay open for
// local probes and scrapers.
//
// # Middleware Chain
//
// Requests pass through middleware in this order:
//
//  1. MetricsMiddleware - Records duration and status class per route
//  2. RequestIDMiddleware - Generates a request ID and enriches the logger
//  3. DNSRebindingProtection - Rejects unknown browser origins
//  4. TokenAuth - Guards /events only
package http
