// Package session owns the live conversations served by the HTTP boundary.
// It creates sessions on first use with the service-wide default knowledge
// base, drives each message through the agent dispatcher, archives the new
// messages and evicts conversations that stay idle past a TTL.
package session
