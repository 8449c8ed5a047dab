// Package redis provides the Redis-backed response cache used by the network
// search tool. Keys are namespaced with a configurable prefix.
package redis
