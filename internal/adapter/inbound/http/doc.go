// Package http exposes BloodConnect sessions over HTTP.
//
// Every browser client is bound to one session.Manager through the
// bloodconnect_session cookie. The package serves a JSON session API, a
// server-sent event stream of session snapshots, the admin profile API and
// a page guard for every other path.
//
// # Endpoints
//
//	GET   /healthz                  - Liveness and component checks
//	GET   /metrics                  - Prometheus exposition
//	GET   /api/session              - Current session snapshot
//	GET   /api/session/events       - SSE stream of session snapshots
//	POST  /api/session/login        - Password or handoff token login
//	POST  /api/session/fixture      - Fixture login by id (fixture mode only)
//	POST  /api/session/logout       - Logout, always returns the guest snapshot
//	GET   /api/navigation           - Navigation items for the current role
//	GET   /api/authorize?path=      - Guard decision for a path
//	GET   /api/admin/profiles       - List profiles (admin)
//	PATCH /api/admin/profiles/{id}  - Change role or account status (admin)
//
// Any other path is a page: the guard waits for the session to be ready,
// then either redirects to /login?redirect=<path> or forwards the request
// to the configured view upstream.
//
// # Middleware Chain
//
//  1. MetricsMiddleware - Request count and duration
//  2. RequestIDMiddleware - request_id on the context logger
//  3. RealIP, Recoverer - chi middleware
//  4. CORS - go-chi/cors with the configured origins
package http
