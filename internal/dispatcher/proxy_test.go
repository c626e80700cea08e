package dispatcher

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"realtime-chat-be/internal/pkg/logger"

	"github.com/fasthttp/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoWorker upgrades /ws, tags the 101 with a session and echoes frames
// prefixed by its id.
func echoWorker(t *testing.T, id string) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ws" {
			fmt.Fprint(w, id)
			return
		}
		header := http.Header{}
		header.Set(SessionAffinityHeader, "sess-"+id)
		conn, err := upgrader.Upgrade(w, r, header)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			mt, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(mt, append([]byte(id+":"), msg...)); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func poolFor(servers ...*httptest.Server) *Pool {
	p := &Pool{byID: map[string]*Worker{}}
	for i, srv := range servers {
		w := &Worker{ID: fmt.Sprintf("worker-%d", i), Index: i, Addr: strings.TrimPrefix(srv.URL, "http://")}
		w.SetAlive(true)
		p.workers = append(p.workers, w)
		p.byID[w.ID] = w
	}
	return p
}

func TestProxyForwardsPlainRequests(t *testing.T) {
	pool := poolFor(echoWorker(t, "worker-0"))
	front := httptest.NewServer(NewProxy(pool, NewStickyPicker(pool, time.Hour), logger.NewNopLogger()))
	defer front.Close()

	resp, err := http.Get(front.URL + "/api/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "worker-0", string(body))
}

func TestProxyLearnsAffinityFromUpgrade(t *testing.T) {
	pool := poolFor(echoWorker(t, "worker-0"), echoWorker(t, "worker-1"))
	picker := NewStickyPicker(pool, time.Hour)
	front := httptest.NewServer(NewProxy(pool, picker, logger.NewNopLogger()))
	defer front.Close()

	// worker-0 is busier, so the first socket lands on worker-1
	pool.Workers()[0].active.Store(5)

	wsURL := "ws" + strings.TrimPrefix(front.URL, "http") + "/ws?username=alice"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	assert.Equal(t, "sess-worker-1", resp.Header.Get(SessionAffinityHeader))
	assert.Contains(t, resp.Header.Get("Set-Cookie"), AffinityCookie+"=worker-1")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("ping")))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "worker-1:ping", string(msg))

	// the open socket is counted against its worker
	assert.Equal(t, int64(1), pool.Workers()[1].Active())

	// worker-1 now looks busiest, but the session stays put
	pool.Workers()[0].active.Store(0)
	w, err := picker.Pick(httptest.NewRequest(http.MethodGet, "/ws?sessionId=sess-worker-1", nil))
	require.NoError(t, err)
	assert.Equal(t, "worker-1", w.ID)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return pool.Workers()[1].Active() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestProxyWithoutLiveWorkers(t *testing.T) {
	pool := poolFor(echoWorker(t, "worker-0"))
	pool.Workers()[0].SetAlive(false)
	front := httptest.NewServer(NewProxy(pool, NewStickyPicker(pool, time.Hour), logger.NewNopLogger()))
	defer front.Close()

	resp, err := http.Get(front.URL + "/ws")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestProxyUpstreamDown(t *testing.T) {
	dead := echoWorker(t, "worker-0")
	pool := poolFor(dead)
	dead.Close()

	front := httptest.NewServer(NewProxy(pool, NewStickyPicker(pool, time.Hour), logger.NewNopLogger()))
	defer front.Close()

	resp, err := http.Get(front.URL + "/api/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}
