package ingest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/nicktill/costcluster/pkg/config"
	"github.com/nicktill/costcluster/pkg/pipeline"
)

func startHub(t *testing.T) (*EventHub, *httptest.Server, func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewEventHub(nil)
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	return hub, srv, func() {
		cancel()
		<-stopped
		srv.Close()
	}
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	return conn
}

func TestEventHub_PublishesRunEvents(t *testing.T) {
	defer goleak.VerifyNone(t)

	hub, srv, stop := startHub(t)
	defer stop()

	conn := dial(t, srv)
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	var sink pipeline.Sink = hub
	sink.Publish(pipeline.Event{RunID: "run-1", Stage: pipeline.StageCluster, Message: "10 entities"})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var got pipeline.Event
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, "run-1", got.RunID)
	assert.Equal(t, pipeline.StageCluster, got.Stage)
	assert.Equal(t, "10 entities", got.Message)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return hub.Clients() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestEventHub_ShutdownClosesClients(t *testing.T) {
	defer goleak.VerifyNone(t)

	hub, srv, stop := startHub(t)
	conn := dial(t, srv)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	stop()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
	assert.Equal(t, 0, hub.Clients())
}

func TestEventHub_BroadcastNeverBlocks(t *testing.T) {
	hub := NewEventHub(nil)

	// Hub not running: the buffer fills and further messages are dropped
	for i := 0; i < config.WSBroadcastBuffer+10; i++ {
		require.NoError(t, hub.Broadcast(pipeline.Event{RunID: "x"}))
	}
	assert.Len(t, hub.broadcast, config.WSBroadcastBuffer)
}

func TestEventHub_RejectsForeignOrigin(t *testing.T) {
	defer goleak.VerifyNone(t)

	_, srv, stop := startHub(t)
	defer stop()

	header := http.Header{"Origin": []string{"http://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
