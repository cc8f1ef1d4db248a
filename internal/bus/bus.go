// Package bus provides an in-process broadcast channel for task lifecycle
// events. Every subscriber gets its own buffered channel; publishing never
// blocks, and a subscriber that falls behind loses its oldest events rather
// than stalling the publisher.
package bus

import (
	"sync"
	"sync/atomic"
)

// Event types pushed to subscribers and relayed over the WebSocket feed.
const (
	EventProgress = "progress"
	EventStatus   = "status"
	EventNewTask  = "new_task"
)

// Event is one task lifecycle notification. The JSON shape matches the
// WebSocket wire format.
type Event struct {
	Type     string `json:"type"`
	TaskID   int64  `json:"task_id"`
	Progress *int   `json:"progress,omitempty"`
	Status   string `json:"status,omitempty"`
	Error    string `json:"error,omitempty"`
}

// subscriberBuffer bounds how far a subscriber may lag before losing events.
const subscriberBuffer = 64

// Bus fans events out to all current subscribers.
type Bus struct {
	mu     sync.Mutex
	subs   map[*Subscriber]struct{}
	closed bool
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[*Subscriber]struct{})}
}

// Subscriber receives a copy of every event published after Subscribe.
type Subscriber struct {
	bus     *Bus
	ch      chan Event
	dropped atomic.Uint64
	once    sync.Once
}

// Subscribe registers a new subscriber.
func (b *Bus) Subscribe() *Subscriber {
	sub := &Subscriber{bus: b, ch: make(chan Event, subscriberBuffer)}
	b.mu.Lock()
	if !b.closed {
		b.subs[sub] = struct{}{}
	} else {
		close(sub.ch)
	}
	b.mu.Unlock()
	return sub
}

// Events returns the subscriber's receive channel. It is closed when the
// subscriber or the bus shuts down.
func (s *Subscriber) Events() <-chan Event {
	return s.ch
}

// Dropped reports how many events this subscriber lost to backpressure.
func (s *Subscriber) Dropped() uint64 {
	return s.dropped.Load()
}

// Close unregisters the subscriber and closes its channel.
func (s *Subscriber) Close() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		if _, ok := s.bus.subs[s]; ok {
			delete(s.bus.subs, s)
			close(s.ch)
		}
		s.bus.mu.Unlock()
	})
}

// Publish delivers an event to every subscriber without blocking. A full
// subscriber buffer sheds its oldest event to make room for the new one.
func (b *Bus) Publish(evt Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for sub := range b.subs {
		select {
		case sub.ch <- evt:
		default:
			select {
			case <-sub.ch:
				sub.dropped.Add(1)
			default:
			}
			select {
			case sub.ch <- evt:
			default:
			}
		}
	}
}

// PublishProgress emits a progress event for a task.
func (b *Bus) PublishProgress(taskID int64, progress int) {
	b.Publish(Event{Type: EventProgress, TaskID: taskID, Progress: &progress})
}

// PublishStatus emits a status transition event for a task. The error detail
// is included only for failed transitions.
func (b *Bus) PublishStatus(taskID int64, status, errorMessage string) {
	b.Publish(Event{Type: EventStatus, TaskID: taskID, Status: status, Error: errorMessage})
}

// PublishNewTask announces a freshly enqueued task.
func (b *Bus) PublishNewTask(taskID int64) {
	b.Publish(Event{Type: EventNewTask, TaskID: taskID})
}

// Close shuts the bus down and closes every subscriber channel.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subs {
		delete(b.subs, sub)
		close(sub.ch)
	}
}
