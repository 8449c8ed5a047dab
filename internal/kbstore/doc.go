// Package kbstore is the gateway to the external document and RAG knowledge
// store. The Gateway validates uploads against the size ceiling before any
// network traffic and otherwise forwards to a Backend. HTTPBackend speaks the
// store's REST API with bearer authentication.
package kbstore
