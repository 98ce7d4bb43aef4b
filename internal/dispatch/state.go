package dispatch

import (
	"sync"

	"ltlive/internal/domain"
)

// ListenerState is the process-wide state shared by the chat listener and
// the dispatcher.
type ListenerState struct {
	mu        sync.RWMutex
	listening string
	self      domain.Identity
	current   *domain.Presentation
}

func NewListenerState() *ListenerState {
	return &ListenerState{}
}

// Listening returns the channel whose messages go to the timeline.
func (s *ListenerState) Listening() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listening, s.listening != ""
}

func (s *ListenerState) Listen(channelID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listening = channelID
}

// StopListening clears the listening channel and reports whether one was set.
func (s *ListenerState) StopListening() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	was := s.listening != ""
	s.listening = ""
	return was
}

// Self is the bot's own account, known after the gateway handshake.
func (s *ListenerState) Self() (domain.Identity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.self, s.self.UserID != ""
}

func (s *ListenerState) SetSelf(id domain.Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.self = id
}

// Current returns the most recently popped presentation.
func (s *ListenerState) Current() (domain.Presentation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return domain.Presentation{}, false
	}
	return *s.current, true
}

func (s *ListenerState) SetCurrent(p domain.Presentation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = &p
}
