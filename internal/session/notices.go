package session

import (
	"sync"

	"github.com/pitabwire/catalogboard/model"
)

// DropRecorder counts notices discarded by a full queue.
type DropRecorder interface {
	RecordNoticeDropped()
}

// NoticeQueue buffers the notices of one session until the client drains
// them. When full, the oldest notice is discarded.
type NoticeQueue struct {
	mu      sync.Mutex
	buf     []model.Notice
	limit   int
	metrics DropRecorder
}

// NewNoticeQueue creates a queue holding at most limit notices.
func NewNoticeQueue(limit int, metrics DropRecorder) *NoticeQueue {
	return &NoticeQueue{limit: max(limit, 1), metrics: metrics}
}

// Notify implements board.Notifier.
func (q *NoticeQueue) Notify(n model.Notice) {
	q.mu.Lock()
	dropped := len(q.buf) >= q.limit
	if dropped {
		q.buf = q.buf[1:]
	}
	q.buf = append(q.buf, n)
	q.mu.Unlock()

	if dropped && q.metrics != nil {
		q.metrics.RecordNoticeDropped()
	}
}

// Drain returns and removes every queued notice, oldest first.
func (q *NoticeQueue) Drain() []model.Notice {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.buf
	q.buf = nil
	if out == nil {
		out = []model.Notice{}
	}
	return out
}

// Len returns the number of queued notices.
func (q *NoticeQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buf)
}
