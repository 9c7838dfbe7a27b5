package dashboard

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

type Notification struct {
	Title       string    `json:"title"`
	Description string    `json:"description"`
	IsError     bool      `json:"isError"`
	At          time.Time `json:"at"`
}

// Notifier shows a transient message to the reviewer.
type Notifier interface {
	Notify(n Notification)
}

type NotifierFunc func(Notification)

func (f NotifierFunc) Notify(n Notification) { f(n) }

// ToastQueue buffers notifications until the UI drains them.
type ToastQueue struct {
	mu    sync.Mutex
	items []Notification
	max   int
}

func NewToastQueue(max int) *ToastQueue {
	if max <= 0 {
		max = 20
	}
	return &ToastQueue{max: max}
}

func (q *ToastQueue) Notify(n Notification) {
	if n.At.IsZero() {
		n.At = time.Now()
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, n)
	if len(q.items) > q.max {
		q.items = q.items[len(q.items)-q.max:]
	}
}

func (q *ToastQueue) Drain() []Notification {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.items
	q.items = nil
	return out
}

// LogNotifier writes notifications to a logger.
type LogNotifier struct {
	Logger *zap.Logger
}

func (l LogNotifier) Notify(n Notification) {
	if l.Logger == nil {
		return
	}
	fields := []zap.Field{zap.String("title", n.Title), zap.String("description", n.Description)}
	if n.IsError {
		l.Logger.Warn("notification", fields...)
		return
	}
	l.Logger.Info("notification", fields...)
}

type multiNotifier []Notifier

func (m multiNotifier) Notify(n Notification) {
	for _, x := range m {
		if x != nil {
			x.Notify(n)
		}
	}
}

// Notifiers fans a notification out to several notifiers.
func Notifiers(ns ...Notifier) Notifier {
	return multiNotifier(ns)
}
