package control

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kilupskalvis/offlog/internal/lifecycle"
	"github.com/kilupskalvis/offlog/internal/models"
	"github.com/kilupskalvis/offlog/internal/netstate"
	"github.com/kilupskalvis/offlog/internal/replay"
	"github.com/kilupskalvis/offlog/internal/store"
	"github.com/kilupskalvis/offlog/internal/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingReplayer struct {
	mu     sync.Mutex
	bodies []string
}

func (r *recordingReplayer) Replay(_ context.Context, m *models.QueuedMutation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bodies = append(r.bodies, m.Body)
	return nil
}

func (r *recordingReplayer) Bodies() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.bodies...)
}

type testEnv struct {
	store  *store.Store
	worker *worker.Worker
	net    *netstate.Monitor
	client *Client
	server *httptest.Server
	r      *recordingReplayer
}

func newTestEnv(t *testing.T, cfg *ServerConfig, activate bool) *testEnv {
	t.Helper()
	st, err := store.New(filepath.Join(t.TempDir(), "offlog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	r := &recordingReplayer{}
	q := replay.NewQueue(st, r, nil)
	w := worker.New(q, worker.Config{KV: st}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	if activate {
		_, err := w.Activate(context.Background())
		require.NoError(t, err)
	}

	net := netstate.NewMonitor(false, nil, nil)
	srv := httptest.NewServer(Handler(Deps{Worker: w, Queue: q, Network: net}, cfg, nil))
	t.Cleanup(srv.Close)

	token := ""
	if cfg != nil {
		token = cfg.Token
	}
	return &testEnv{store: st, worker: w, net: net, client: NewClient(srv.URL, token), server: srv, r: r}
}

func (e *testEnv) queue(t *testing.T, body string) {
	t.Helper()
	_, err := e.store.AddMutation(context.Background(), &models.QueuedMutation{URL: "http://food.test/api/log-food", Body: body})
	require.NoError(t, err)
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t, nil, true)
	require.NoError(t, env.client.Health(context.Background()))
}

func TestStatus(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil, true)
	env.queue(t, "a")
	env.queue(t, "b")

	st, err := env.client.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, "active", st.State)
	assert.False(t, st.Online)
	assert.Equal(t, 2, st.Pending)
	require.NotNil(t, st.LastDrain)
	assert.Equal(t, "activate", st.LastDrain.Trigger)
}

func TestRetryMessageDrains(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil, true)
	env.queue(t, "A")
	env.queue(t, "B")

	resp, err := env.client.Retry(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, resp.Removed)
	assert.Equal(t, 0, resp.Failed)
	assert.Equal(t, []string{"A", "B"}, env.r.Bodies())

	list, err := env.client.ListMutations(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestUnknownMessageIgnored(t *testing.T) {
	env := newTestEnv(t, nil, true)
	env.queue(t, "A")

	resp, err := env.client.Send(context.Background(), worker.Message{Type: "skip-waiting"})
	require.NoError(t, err)
	assert.Equal(t, 0, resp.Removed)
	assert.Empty(t, env.r.Bodies())
}

func TestMessageBadJSON(t *testing.T) {
	env := newTestEnv(t, nil, true)

	resp, err := http.Post(env.server.URL+"/_offlog/messages", "application/json", strings.NewReader("{not json"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestListMutations(t *testing.T) {
	env := newTestEnv(t, nil, false)
	env.queue(t, "first")
	env.queue(t, "second")

	list, err := env.client.ListMutations(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "first", list[0].Body)
	assert.Less(t, list[0].ID, list[1].ID)
}

func TestSetNetwork(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil, true)

	resp, err := env.client.SetNetwork(ctx, true)
	require.NoError(t, err)
	assert.True(t, resp.Changed)
	assert.True(t, env.net.Online())

	resp, err = env.client.SetNetwork(ctx, true)
	require.NoError(t, err)
	assert.False(t, resp.Changed)
}

func TestReady(t *testing.T) {
	env := newTestEnv(t, &ServerConfig{ReadyTimeout: 20 * time.Millisecond}, false)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, env.client.Ready(ctx), context.DeadlineExceeded)

	_, err := env.worker.Activate(context.Background())
	require.NoError(t, err)
	require.NoError(t, env.client.Ready(context.Background()))
}

func TestTokenAuth(t *testing.T) {
	env := newTestEnv(t, &ServerConfig{Token: "s3cret"}, true)

	_, err := env.client.Status(context.Background())
	require.NoError(t, err)

	_, err = NewClient(env.server.URL, "wrong").Status(context.Background())
	var ce *Error
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, http.StatusUnauthorized, ce.Status)
	assert.Equal(t, "auth_failed", ce.Code)

	// Health stays open.
	require.NoError(t, NewClient(env.server.URL, "").Health(context.Background()))
}

func TestRequestIDHeader(t *testing.T) {
	env := newTestEnv(t, nil, true)

	resp, err := http.Get(env.server.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestCoordinatorOverControlAPI(t *testing.T) {
	env := newTestEnv(t, nil, false)
	env.queue(t, "offline meal")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	page := netstate.NewMonitor(false, nil, nil)
	go lifecycle.NewCoordinator(env.client, page, nil).Run(ctx)

	_, err := env.worker.Activate(context.Background())
	require.NoError(t, err)
	env.queue(t, "second meal")

	page.Set(true)
	assert.Eventually(t, func() bool {
		n, err := env.store.CountMutations(context.Background())
		return err == nil && n == 0
	}, 2*time.Second, 10*time.Millisecond)
}
