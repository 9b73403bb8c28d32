// Package api hosts the HTTP server, middleware and REST handlers. Routes:
//   - GET /healthz and /readyz for probes; readyz pings the session store.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/searches to start a search, GET /v1/searches/{search_id} for its
//     queries and POST /v1/searches/{search_id}/stop to stop it.
//   - GET /v1/searches/{search_id}/messages to poll progress and
//     GET /v1/searches/{search_id}/result for the final store set.
//   - GET /v1/searches/{search_id}/run for the run ledger when one is wired.
//
// Callers identify themselves with the X-Owner-ID header; searches are only
// visible to the owner that started them.
package api
