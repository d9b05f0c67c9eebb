package service

import (
	"sync"
	"time"
)

// ToastLevel is the severity of a toast.
type ToastLevel string

const (
	ToastInfo    ToastLevel = "info"
	ToastWarning ToastLevel = "warning"
	ToastError   ToastLevel = "error"
)

// Toast is a transient user notification.
type Toast struct {
	Seq     uint64     `json:"seq" doc:"Position in the queue history"`
	Level   ToastLevel `json:"level" enum:"info,warning,error"`
	Message string     `json:"message"`
	At      time.Time  `json:"at"`
}

// ToastQueue keeps the most recent toasts. Readers are never handed
// ownership of a toast: each one keeps the sequence number of the last toast
// it showed and asks for the newer ones, so any number of views can follow
// the same queue. The oldest toasts are dropped once max are held.
type ToastQueue struct {
	mu     sync.Mutex
	toasts []Toast
	seq    uint64
	max    int
	bus    *EventBus
	now    func() time.Time
}

// NewToastQueue creates a queue holding at most max toasts.
func NewToastQueue(max int, bus *EventBus) *ToastQueue {
	if max <= 0 {
		max = 16
	}
	return &ToastQueue{max: max, bus: bus, now: time.Now}
}

// Push queues a toast.
func (q *ToastQueue) Push(level ToastLevel, msg string) {
	q.mu.Lock()
	q.seq++
	q.toasts = append(q.toasts, Toast{Seq: q.seq, Level: level, Message: msg, At: q.now()})
	if over := len(q.toasts) - q.max; over > 0 {
		q.toasts = append([]Toast(nil), q.toasts[over:]...)
	}
	q.mu.Unlock()

	if q.bus != nil {
		q.bus.Publish(Event{Resource: "toasts", Action: "created"})
	}
}

// Since returns the held toasts newer than seq and the cursor to pass next
// time. Since(0) returns every held toast.
func (q *ToastQueue) Since(seq uint64) ([]Toast, uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []Toast
	for _, t := range q.toasts {
		if t.Seq > seq {
			out = append(out, t)
		}
	}
	return out, max(seq, q.seq)
}

// Len reports the number of held toasts.
func (q *ToastQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.toasts)
}
