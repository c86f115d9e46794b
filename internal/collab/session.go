// Package collab tracks the reviewers, annotations, and messages attached to
// one workflow instance's collaboration session. A session is owned by its
// workflow and is never registered in any process-wide table.
package collab

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"custodia/internal/custody"
)

// Session is the in-memory registry of active participants and annotations
// for a single workflow instance.
type Session struct {
	mu           sync.Mutex
	id           string
	startedAt    time.Time
	participants map[string]custody.Participant
	joinOrder    []string
	annotations  []custody.Annotation
	messages     []custody.Message
	closed       bool
}

// NewSession creates an empty session. When id is empty a new one is assigned.
func NewSession(id string) *Session {
	if strings.TrimSpace(id) == "" {
		id = uuid.NewString()
	}
	return &Session{
		id:           id,
		participants: make(map[string]custody.Participant),
	}
}

// Restore rebuilds a session from a persisted snapshot.
func Restore(state custody.CollaborationState) *Session {
	s := NewSession(state.SessionID)
	s.startedAt = state.StartedAt
	for _, p := range state.Participants {
		s.participants[p.UserID] = p
		s.joinOrder = append(s.joinOrder, p.UserID)
	}
	s.annotations = append(s.annotations, state.Annotations...)
	s.messages = append(s.messages, state.Messages...)
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Join registers a participant. Joining twice for the same user replaces the
// existing entry (latest role wins) without duplicating it.
func (s *Session) Join(userID, role string, now time.Time) (custody.Participant, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return custody.Participant{}, fmt.Errorf("participant user id must not be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return custody.Participant{}, fmt.Errorf("session %s is closed", s.id)
	}

	if s.startedAt.IsZero() {
		s.startedAt = now.UTC()
	}
	participant := custody.Participant{UserID: userID, Role: strings.TrimSpace(role), JoinedAt: now.UTC()}
	if existing, ok := s.participants[userID]; ok {
		participant.JoinedAt = existing.JoinedAt
	} else {
		s.joinOrder = append(s.joinOrder, userID)
	}
	s.participants[userID] = participant
	return participant, nil
}

// Leave removes a participant. It reports whether the user was present.
func (s *Session) Leave(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.participants[userID]; !ok {
		return false
	}
	delete(s.participants, userID)
	for i, id := range s.joinOrder {
		if id == userID {
			s.joinOrder = append(s.joinOrder[:i], s.joinOrder[i+1:]...)
			break
		}
	}
	return true
}

// Annotate appends a note to the ordered annotation list.
func (s *Session) Annotate(userID, content, position string, now time.Time) (custody.Annotation, error) {
	userID = strings.TrimSpace(userID)
	content = strings.TrimSpace(content)
	if userID == "" {
		return custody.Annotation{}, fmt.Errorf("annotation user id must not be empty")
	}
	if content == "" {
		return custody.Annotation{}, fmt.Errorf("annotation content must not be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return custody.Annotation{}, fmt.Errorf("session %s is closed", s.id)
	}

	annotation := custody.Annotation{
		ID:        uuid.NewString(),
		UserID:    userID,
		Content:   content,
		Position:  strings.TrimSpace(position),
		CreatedAt: now.UTC(),
	}
	s.annotations = append(s.annotations, annotation)
	return annotation, nil
}

// PostMessage appends a chat entry to the ordered message list.
func (s *Session) PostMessage(userID, body string, now time.Time) (custody.Message, error) {
	userID = strings.TrimSpace(userID)
	body = strings.TrimSpace(body)
	if userID == "" || body == "" {
		return custody.Message{}, fmt.Errorf("message user id and body must not be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return custody.Message{}, fmt.Errorf("session %s is closed", s.id)
	}

	message := custody.Message{ID: uuid.NewString(), UserID: userID, Body: body, SentAt: now.UTC()}
	s.messages = append(s.messages, message)
	return message, nil
}

// Participants returns active participants in join order.
func (s *Session) Participants() []custody.Participant {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]custody.Participant, 0, len(s.participants))
	for _, id := range s.joinOrder {
		if p, ok := s.participants[id]; ok {
			out = append(out, p)
		}
	}
	return out
}

// AnnotationCount returns the number of recorded annotations.
func (s *Session) AnnotationCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.annotations)
}

// Duration returns the elapsed time since the first join, or zero when the
// session never had a participant.
func (s *Session) Duration(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.startedAt.IsZero() {
		return 0
	}
	return now.UTC().Sub(s.startedAt)
}

// Close marks the session finished. Further joins and annotations fail.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

// Snapshot exports the session state for persistence and audit summaries.
func (s *Session) Snapshot() custody.CollaborationState {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := custody.CollaborationState{
		SessionID: s.id,
		StartedAt: s.startedAt,
	}
	for _, id := range s.joinOrder {
		if p, ok := s.participants[id]; ok {
			state.Participants = append(state.Participants, p)
		}
	}
	state.Annotations = append(state.Annotations, s.annotations...)
	state.Messages = append(state.Messages, s.messages...)
	return state
}
