// Package agent contains the multi-agent orchestrator: immutable agents built
// in one step by a registry builder, per-conversation sessions, and the
// dispatcher that asks an llm.Oracle which tools to call, executes them in
// order and applies handoffs at turn boundaries.
package agent
