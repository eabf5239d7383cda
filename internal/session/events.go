// Copyright (c) 2025 EnablerDAO
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"sync"

	"github.com/enablerdao/ChirAI/internal/model"
)

// =============================================================================
// EVENTS
// =============================================================================

// EventKind identifies what changed.
type EventKind string

const (
	EventMessageAppended EventKind = "message_appended"
	EventMessageEdited   EventKind = "message_edited"
	EventModelChanged    EventKind = "model_changed"
	EventCleared         EventKind = "cleared"
)

// Event is emitted after every change to a controller.
type Event struct {
	// Seq increases by one per event on a controller.
	Seq  uint64
	Kind EventKind

	// State after the change. A send moves to StateAwaitingResponse with
	// the user's message and back to StateIdle with the reply.
	State State

	// Message is the appended or edited message, if any.
	Message *model.Message

	// Conversation is a snapshot taken at the time of the change. It is
	// shared by every subscriber and must not be modified.
	Conversation *model.Conversation
}

// Messages returns the transcript snapshot carried by the event.
func (e Event) Messages() []model.Message {
	if e.Conversation == nil {
		return nil
	}
	return e.Conversation.Messages
}

// =============================================================================
// SUBSCRIBERS
// =============================================================================

// subscriber buffers events without bound so that publishing never blocks
// the controller. A pump goroutine feeds out in order.
type subscriber struct {
	mu      sync.Mutex
	queue   []Event
	closing bool

	notify chan struct{}
	out    chan Event
	done   chan struct{}
	once   sync.Once
}

func newSubscriber() *subscriber {
	s := &subscriber{
		notify: make(chan struct{}, 1),
		out:    make(chan Event),
		done:   make(chan struct{}),
	}
	go s.pump()
	return s
}

func (s *subscriber) push(ev Event) {
	s.mu.Lock()
	s.queue = append(s.queue, ev)
	s.mu.Unlock()
	s.wake()
}

func (s *subscriber) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// finish closes out once every queued event has been delivered.
func (s *subscriber) finish() {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()
	s.wake()
}

// cancel stops delivery immediately and drops queued events.
func (s *subscriber) cancel() {
	s.once.Do(func() { close(s.done) })
}

func (s *subscriber) pump() {
	defer close(s.out)
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			closing := s.closing
			s.mu.Unlock()
			if closing {
				return
			}
			select {
			case <-s.notify:
			case <-s.done:
				return
			}
			continue
		}
		ev := s.queue[0]
		s.queue[0] = Event{}
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.out <- ev:
		case <-s.done:
			return
		}
	}
}
