// Package crawler implements the intersection search: the term crawler that
// paginates one query, the orchestrator that runs every query group and
// intersects their stores, and the types and collaborator interfaces they share.
package crawler
