package upload

import (
	"container/heap"
	"time"

	"github.com/google/uuid"
)

// expirationKey identifies one armed timer inside an expirationQueue.
type expirationKey struct {
	token    uuid.UUID
	deadline time.Time
	index    int
}

// expirationQueue is a deadline-ordered min-heap of tokens. It is not safe
// for concurrent use; the registry lock guards it.
type expirationQueue struct {
	items expirationHeap
}

func (q *expirationQueue) Len() int { return len(q.items) }

// Insert arms a timer for token and returns the key needed to remove it.
func (q *expirationQueue) Insert(token uuid.UUID, deadline time.Time) *expirationKey {
	key := &expirationKey{token: token, deadline: deadline}
	heap.Push(&q.items, key)
	return key
}

// Remove disarms the timer identified by key. Removing a key twice is a no-op.
func (q *expirationQueue) Remove(key *expirationKey) {
	if key.index < 0 || key.index >= len(q.items) || q.items[key.index] != key {
		return
	}
	heap.Remove(&q.items, key.index)
}

// PopExpired removes and returns every token whose deadline is not after now.
func (q *expirationQueue) PopExpired(now time.Time) []uuid.UUID {
	var expired []uuid.UUID
	for len(q.items) > 0 && !q.items[0].deadline.After(now) {
		key := heap.Pop(&q.items).(*expirationKey)
		expired = append(expired, key.token)
	}
	return expired
}

type expirationHeap []*expirationKey

func (h expirationHeap) Len() int           { return len(h) }
func (h expirationHeap) Less(i, j int) bool { return h[i].deadline.Before(h[j].deadline) }

func (h expirationHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *expirationHeap) Push(x any) {
	key := x.(*expirationKey)
	key.index = len(*h)
	*h = append(*h, key)
}

func (h *expirationHeap) Pop() any {
	old := *h
	n := len(old)
	key := old[n-1]
	old[n-1] = nil
	key.index = -1
	*h = old[:n-1]
	return key
}
