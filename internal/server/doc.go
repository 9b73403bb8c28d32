// Package server assembles the storefinder service from configuration and
// runs it.
//
// Build wires the session store (memory or Redis), the report blob store
// (memory, local disk or GCS), the optional Postgres run ledger, the
// completion notice publisher (Pub/Sub or in-memory), the progress hub and
// its sinks, the crawl pipeline and the HTTP API. Run serves the API while the
// dispatcher drains the search queue and the reaper sweeps abandoned
// sessions; Search drives one crawl to completion in-process for the CLI.
package server
