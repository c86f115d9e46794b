// Package engine drives custody workflow instances through their lifecycle:
// intake, verification, analysis, collaboration, transfers, the optional
// approval gate, and finalization. Commands mutate one instance at a time
// under its workflow handle's lock, every stage outcome is recorded as a
// signed audit event, and the instance snapshot plus event chain persist in
// the audit store after each mutation.
package engine
