// Package api exposes the HTTP boundary of the daemon: the /chat conversation
// endpoint, the /query/ RAG endpoint, health reporting, setup job management,
// archived transcripts and the Prometheus exposition.
package api
