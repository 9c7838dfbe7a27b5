package dashboard

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gofixpoint/fixpoint/internal/collections"
	"github.com/gofixpoint/fixpoint/internal/model"
)

// Session is the dashboard state of one UI session: its query cache, the
// grid over it and pending toasts. Nothing here is shared across sessions.
type Session struct {
	Queries *PageQueries
	Grid    *TaskGrid
	Toasts  *ToastQueue

	updater TaskUpdater
	logger  *zap.Logger
}

type SessionOptions struct {
	Fetcher          PageFetcher
	Updater          TaskUpdater
	PageSize         int
	FetchTimeout     time.Duration
	NoResultsMessage string
	Logger           *zap.Logger
}

func NewSession(opts SessionOptions) *Session {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	q := NewPageQueries(QueryOptions{
		Fetcher: opts.Fetcher,
		Logger:  opts.Logger,
		Timeout: opts.FetchTimeout,
	})
	return &Session{
		Queries: q,
		Grid: NewTaskGrid(GridOptions{
			Queries:          q,
			PageSize:         opts.PageSize,
			NoResultsMessage: opts.NoResultsMessage,
			Logger:           opts.Logger,
		}),
		Toasts:  NewToastQueue(0),
		updater: opts.Updater,
		logger:  opts.Logger,
	}
}

// Editor opens an editor for t wired to this session's cache and toasts.
func (s *Session) Editor(t model.Task) *TaskEditor {
	return NewTaskEditor(t, EditorOptions{
		Updater:  s.updater,
		Queries:  s.Queries,
		Notifier: Notifiers(s.Toasts, LogNotifier{Logger: s.logger}),
		Logger:   s.logger,
	})
}

// FindTask looks a task up in the page currently on screen.
func (s *Session) FindTask(id model.TaskID) (model.Task, bool) {
	key, err := s.Grid.CurrentKey()
	if err != nil {
		return model.Task{}, false
	}
	res, ok := s.Queries.Peek(key)
	if !ok || res.Status != StatusSuccess {
		return model.Task{}, false
	}
	for _, t := range res.Page.Tasks {
		if t.ID == id {
			return t.Clone(), true
		}
	}
	return model.Task{}, false
}

// Sessions keeps one dashboard Session per UI session id.
type Sessions struct {
	mu       sync.Mutex
	sessions *collections.DefaultMap[string, *Session]
}

func NewSessions(factory func(sessionID string) *Session) *Sessions {
	return &Sessions{sessions: collections.NewDefaultMap(factory)}
}

func (s *Sessions) Get(sessionID string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions.GetOrInsert(sessionID)
}

// Drop forgets a session's dashboard state, e.g. on logout.
func (s *Sessions) Drop(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions.Delete(sessionID)
}

// Each calls fn for every live session. fn must not call back into s.
func (s *Sessions) Each(fn func(sessionID string, sess *Session)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions.Range(fn)
}

func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions.Len()
}

// Settle is a convenience for callers that render synchronously.
func (s *Session) Settle(ctx context.Context) (View, error) {
	s.Grid.Load(ctx)
	return s.Grid.Settle(ctx)
}
