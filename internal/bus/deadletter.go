package bus

import "sync"

// DeadLetter is a message that exhausted its delivery attempts, kept with
// the final error for manual or automated inspection.
type DeadLetter struct {
	Msg Message
	Err error
}

// DeadLetterQueue holds one subscriber's poisoned messages.
type DeadLetterQueue struct {
	mu   sync.Mutex
	msgs []DeadLetter
}

func NewDeadLetterQueue() *DeadLetterQueue {
	return &DeadLetterQueue{}
}

func (q *DeadLetterQueue) Push(msg Message, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.msgs = append(q.msgs, DeadLetter{Msg: msg, Err: err})
}

// Drain returns and removes everything currently queued.
func (q *DeadLetterQueue) Drain() []DeadLetter {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.msgs
	q.msgs = nil
	return out
}

// Len reports the number of queued dead letters.
func (q *DeadLetterQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.msgs)
}
