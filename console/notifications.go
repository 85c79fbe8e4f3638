package console

import "sync"

const defaultNotificationLimit = 100

// notificationQueue keeps undelivered notifications, dropping the oldest
// once limit is reached.
type notificationQueue struct {
	mu    sync.Mutex
	limit int
	items []Notification
}

func newNotificationQueue(limit int) *notificationQueue {
	if limit <= 0 {
		limit = defaultNotificationLimit
	}
	return &notificationQueue{limit: limit}
}

func (q *notificationQueue) push(n Notification) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == q.limit {
		q.items = append(q.items[:0], q.items[1:]...)
	}
	q.items = append(q.items, n)
}

// drain returns and removes every queued notification.
func (q *notificationQueue) drain() []Notification {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.items
	q.items = nil
	if out == nil {
		out = []Notification{}
	}
	return out
}
