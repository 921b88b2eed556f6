package websocket

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func registerFake(t *testing.T, r *Registry, buffer int) *Viewer {
	t.Helper()
	v := newViewer(nil, buffer)
	require.NoError(t, r.Register(v))
	return v
}

func TestBroadcastQueuesOnePayloadPerViewer(t *testing.T) {
	r := NewRegistry(4)
	a := registerFake(t, r, 4)
	b := registerFake(t, r, 4)

	assert.Equal(t, 2, r.Broadcast(map[string]int{"n": 1}))
	assert.Equal(t, `{"n":1}`, string(<-a.send))
	assert.Equal(t, `{"n":1}`, string(<-b.send))
}

func TestBroadcastSkipsNotReadyAndFullViewers(t *testing.T) {
	r := NewRegistry(1)
	ready := registerFake(t, r, 1)
	notReady := registerFake(t, r, 1)
	notReady.ready.Store(false)

	assert.Equal(t, 1, r.Broadcast("first"))
	assert.Len(t, notReady.send, 0)

	assert.Equal(t, 0, r.Broadcast("second"), "a full queue skips the frame")
	assert.Equal(t, `"first"`, string(<-ready.send))
	assert.Equal(t, 2, r.Count())
}

func TestRemoveIsIdempotent(t *testing.T) {
	r := NewRegistry(1)
	v := registerFake(t, r, 1)

	r.Remove(v)
	r.Remove(v)

	assert.Equal(t, 0, r.Count())
	select {
	case <-v.Done():
	default:
		t.Fatal("removed viewer should be closed")
	}
	assert.Equal(t, 0, r.Broadcast("x"))
}

func TestRemoveDuringBroadcast(t *testing.T) {
	r := NewRegistry(1)
	viewers := make([]*Viewer, 50)
	for i := range viewers {
		viewers[i] = registerFake(t, r, 1)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			r.Broadcast(i)
		}
	}()
	go func() {
		defer wg.Done()
		for _, v := range viewers {
			r.Remove(v)
		}
	}()
	wg.Wait()

	assert.Equal(t, 0, r.Count())
}

func TestCloseRejectsNewViewers(t *testing.T) {
	r := NewRegistry(1)
	existing := registerFake(t, r, 1)

	r.Close()
	assert.Equal(t, 0, r.Count())
	<-existing.Done()

	late := newViewer(nil, 1)
	assert.ErrorIs(t, r.Register(late), ErrRegistryClosed)
	<-late.Done()

	_, err := r.Accept(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/qbit-ws", nil))
	assert.ErrorIs(t, err, ErrRegistryClosed)

	// second close is a no-op
	r.Close()
}

func dial(t *testing.T, server *httptest.Server) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if resp != nil && resp.Body != nil {
		t.Cleanup(func() { resp.Body.Close() })
	}
	return conn, resp, err
}

func TestRegistryOverHTTP(t *testing.T) {
	r := NewRegistry(4)
	server := httptest.NewServer(r)
	t.Cleanup(server.Close)

	conn, _, err := dial(t, server)
	require.NoError(t, err)
	defer conn.Close()

	assert.Eventually(t, func() bool { return r.Count() == 1 }, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, 1, r.Broadcast(map[string]string{"hello": "world"}))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"hello": "world"}`, string(data))

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)))
	_, data, err = conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type": "pong"}`, string(data))

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return r.Count() == 0 }, 2*time.Second, 10*time.Millisecond,
		"a disconnected viewer deregisters itself")
}

func TestRegistryCloseDisconnectsViewers(t *testing.T) {
	r := NewRegistry(4)
	server := httptest.NewServer(r)
	t.Cleanup(server.Close)

	conn, _, err := dial(t, server)
	require.NoError(t, err)
	defer conn.Close()
	assert.Eventually(t, func() bool { return r.Count() == 1 }, 2*time.Second, 10*time.Millisecond)

	r.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err)

	_, resp, err := dial(t, server)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
