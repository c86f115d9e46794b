// Command custodia is the operator CLI for the custody workflow engine. Each
// invocation loads the shared workflow database under a file lock, applies
// one command, and persists the result, so concurrent invocations never race
// on the audit trail.
package main
