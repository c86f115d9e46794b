package engine

import (
	"encoding/json"
	"fmt"
	"sync"

	"custodia/internal/collab"
	"custodia/internal/custody"
)

// Workflow is the handle for one custody workflow instance. All commands and
// queries go through it; the handle's lock is the single-writer discipline
// for the instance and its collaboration session.
type Workflow struct {
	engine *Engine

	mu      sync.Mutex
	inst    *custody.Instance
	session *collab.Session
}

// ID returns the workflow identifier.
func (w *Workflow) ID() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.inst.ID
}

// EvidenceID returns the evidence item under custody.
func (w *Workflow) EvidenceID() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.inst.EvidenceID
}

// Stage returns the current lifecycle stage.
func (w *Workflow) Stage() custody.Stage {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.inst.Stage
}

// Progress returns the current progress percentage.
func (w *Workflow) Progress() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.inst.Progress
}

// IntegrityStatus returns the current integrity verdict.
func (w *Workflow) IntegrityStatus() custody.IntegrityStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.inst.IntegrityStatus
}

// ApprovalStatus returns the approval gate state.
func (w *Workflow) ApprovalStatus() custody.ApprovalStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.inst.ApprovalStatus
}

// IsActive reports whether the workflow still accepts commands.
func (w *Workflow) IsActive() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.inst.IsActive()
}

// RetryCount returns the number of recorded stage failures.
func (w *Workflow) RetryCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.inst.RetryCount
}

// Collaborators returns the active session participants in join order.
func (w *Workflow) Collaborators() []custody.Participant {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.session.Participants()
}

// Events returns a copy of the audit event chain.
func (w *Workflow) Events() []custody.Event {
	w.mu.Lock()
	defer w.mu.Unlock()
	events := make([]custody.Event, len(w.inst.Events))
	copy(events, w.inst.Events)
	return events
}

// Snapshot returns a deep copy of the instance state.
func (w *Workflow) Snapshot() (*custody.Instance, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	data, err := json.Marshal(w.inst)
	if err != nil {
		return nil, fmt.Errorf("snapshot workflow %s: %w", w.inst.ID, err)
	}
	var copied custody.Instance
	if err := json.Unmarshal(data, &copied); err != nil {
		return nil, fmt.Errorf("snapshot workflow %s: %w", w.inst.ID, err)
	}
	return &copied, nil
}

// syncCollaboration copies the session state into the instance before it is
// persisted. Callers hold the workflow lock.
func (w *Workflow) syncCollaboration() {
	w.inst.Collaboration = w.session.Snapshot()
}
