// Package sinks implements progress consumers: Prometheus collectors, the
// search run ledger, and structured logging.
package sinks
