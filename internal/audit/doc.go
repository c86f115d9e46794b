// Package audit is the durable sink for custody workflows: instance
// snapshots, the append-only signed event chain, and finalized reports,
// backed by SQLite.
package audit
