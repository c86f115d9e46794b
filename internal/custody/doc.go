// Package custody defines the data contracts shared across the workflow
// engine: lifecycle stages, integrity verdicts, the workflow instance, and
// the signed custody event records that form the audit trail.
package custody
