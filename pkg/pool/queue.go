package pool

import "errors"

// ErrQueueEmpty is returned when Pop() is called on an empty queue.
var ErrQueueEmpty = errors.New("wait queue is empty")

// waitQueue holds tickets waiting for a free worker in submission order.
// It is owned by the pool loop and is not safe for concurrent use.
type waitQueue struct {
	items []*Ticket
	head  int
}

func (q *waitQueue) Push(t *Ticket) {
	q.items = append(q.items, t)
}

func (q *waitQueue) Pop() (*Ticket, error) {
	if q.Len() == 0 {
		return nil, ErrQueueEmpty
	}
	t := q.items[q.head]
	q.items[q.head] = nil
	q.head++
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
	}
	return t, nil
}

func (q *waitQueue) Len() int {
	return len(q.items) - q.head
}

// Drain removes and returns every waiting ticket.
func (q *waitQueue) Drain() []*Ticket {
	out := append([]*Ticket(nil), q.items[q.head:]...)
	q.items = nil
	q.head = 0
	return out
}
