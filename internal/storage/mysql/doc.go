// Package mysql archives conversation transcripts. The SQL repository keeps
// one row per message in MySQL and applies the embedded schema migrations on
// start; the file repository appends JSON lines to a local log for
// single-node deployments.
package mysql
