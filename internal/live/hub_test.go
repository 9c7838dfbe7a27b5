package live

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/gofixpoint/fixpoint/internal/model"
)

func newHubForTests(t *testing.T) *Hub {
	t.Helper()
	h := NewHub(zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	t.Cleanup(cancel)
	return h
}

func TestHub_BroadcastsToWebsocketClients(t *testing.T) {
	h := newHubForTests(t)
	srv := httptest.NewServer(h)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()

	require.Eventually(t, func() bool { return h.Connections() == 1 }, time.Second, 5*time.Millisecond)

	h.PublishTaskUpdated(model.Task{ID: "T1", Status: model.StatusCompleted})

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := ws.ReadMessage()
	require.NoError(t, err)

	var ev Event
	require.NoError(t, json.Unmarshal(msg, &ev))
	assert.Equal(t, EventTaskUpdated, ev.Type)
	require.NotNil(t, ev.Task)
	assert.Equal(t, model.TaskID("T1"), ev.Task.ID)

	require.NoError(t, ws.Close())
	assert.Eventually(t, func() bool { return h.Connections() == 0 }, time.Second, 5*time.Millisecond)
}

func TestHub_NotifiesListeners(t *testing.T) {
	h := NewHub(zaptest.NewLogger(t))
	got := make(chan Event, 1)
	h.Subscribe(func(ev Event) { got <- ev })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	h.PublishTaskUpdated(model.Task{ID: "T2"})
	select {
	case ev := <-got:
		assert.Equal(t, model.TaskID("T2"), ev.Task.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("listener not called")
	}
}

func TestHub_PublishNeverBlocks(t *testing.T) {
	h := NewHub(zaptest.NewLogger(t))
	done := make(chan struct{})
	go func() {
		for i := 0; i < sendBuffer*2; i++ {
			h.PublishTaskUpdated(model.Task{ID: "T"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked without a running hub")
	}
}
