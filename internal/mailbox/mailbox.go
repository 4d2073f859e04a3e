// Package mailbox provides the single-slot hand-off primitive between an
// operator answer and a tool call waiting for it.
package mailbox

import (
	"sync"
	"time"
)

// Answer is one operator-provided tool answer, an MCP content item.
type Answer map[string]interface{}

// Mailbox hands answers from a producer to at most one waiting consumer.
//
// Offer never blocks. An answer offered while nobody waits stays queued and
// satisfies the next Await, even if that Await belongs to a later, unrelated
// call. The queue is not drained after a timeout; callers that want a
// clean slate may call Drain.
type Mailbox struct {
	mu      sync.Mutex
	answers []Answer
	notify  chan struct{}
}

// New creates an empty mailbox.
func New() *Mailbox {
	return &Mailbox{
		notify: make(chan struct{}, 1),
	}
}

// Offer enqueues an answer without blocking.
func (m *Mailbox) Offer(a Answer) {
	m.mu.Lock()
	m.answers = append(m.answers, a)
	m.mu.Unlock()

	select {
	case m.notify <- struct{}{}:
	default:
	}
}

// Await blocks until an answer is available, the timeout elapses, or
// cancelled reports true. The wait proceeds in increments of at most poll
// so that cancellation (a closed live connection) is observed promptly.
// Absence of an answer is the normal terminal outcome, not an error.
func (m *Mailbox) Await(timeout, poll time.Duration, cancelled func() bool) (Answer, bool) {
	if poll <= 0 {
		poll = time.Second
	}
	deadline := time.Now().Add(timeout)

	for {
		if a, ok := m.take(); ok {
			return a, true
		}
		if cancelled != nil && cancelled() {
			return nil, false
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, false
		}
		wait := poll
		if remaining < wait {
			wait = remaining
		}
		timer := time.NewTimer(wait)
		select {
		case <-m.notify:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// Drain discards all queued answers and returns how many were removed.
func (m *Mailbox) Drain() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.answers)
	m.answers = nil
	return n
}

// Len returns the number of queued answers.
func (m *Mailbox) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.answers)
}

func (m *Mailbox) take() (Answer, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.answers) == 0 {
		return nil, false
	}
	a := m.answers[0]
	m.answers = m.answers[1:]
	return a, true
}
