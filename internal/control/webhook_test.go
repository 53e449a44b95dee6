package control

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kilupskalvis/offlog/internal/replay"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWebhookNotifier_EmptyURLs(t *testing.T) {
	assert.Nil(t, NewWebhookNotifier(nil, nil))
}

func TestWebhookNotifier_NilReceiver(t *testing.T) {
	// Should not panic
	var wn *WebhookNotifier
	wn.NotifyDrain(replay.DrainResult{})
}

func TestWebhookNotifier_NotifyDrain(t *testing.T) {
	var mu sync.Mutex
	var received []WebhookEvent

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var event WebhookEvent
		if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		mu.Lock()
		received = append(received, event)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	wn := NewWebhookNotifier([]string{ts.URL}, nil)
	require.NotNil(t, wn)

	wn.NotifyDrain(replay.DrainResult{Removed: []int64{1, 2}, Failed: []int64{3}})

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "drain", received[0].Event)
	assert.Equal(t, 2, received[0].Removed)
	assert.Equal(t, 1, received[0].Failed)
	assert.NotEmpty(t, received[0].Timestamp)
}

func TestWebhookNotifier_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	wn := NewWebhookNotifier([]string{ts.URL}, nil)
	wn.retryDelay = time.Millisecond
	require.NoError(t, wn.post(ts.URL, []byte(`{}`)))
	assert.Equal(t, int32(2), calls.Load())
}

func TestWebhookNotifier_NoRetryOn4xx(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	wn := NewWebhookNotifier([]string{ts.URL}, nil)
	wn.retryDelay = time.Millisecond
	assert.Error(t, wn.post(ts.URL, []byte(`{}`)))
	assert.Equal(t, int32(1), calls.Load())
}
