package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kilupskalvis/offlog/internal/config"
	"github.com/kilupskalvis/offlog/internal/models"
	"github.com/kilupskalvis/offlog/internal/store"
	"github.com/kilupskalvis/offlog/internal/store/sqlitestore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger_JSONWhenNotTerminal(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(config.LogConfig{Level: "warn"}, &buf)

	logger.Info("hidden")
	logger.Warn("shown", "key", "value")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "shown", entry["msg"])
	assert.Equal(t, "value", entry["key"])
}

func TestNewLogger_ExplicitText(t *testing.T) {
	var buf bytes.Buffer
	newLogger(config.LogConfig{Level: "debug", Format: "text"}, &buf).Debug("hello")
	assert.Contains(t, buf.String(), "msg=hello")
}

func TestOpenStore(t *testing.T) {
	cfg := config.Default(t.TempDir())

	st, err := openStore(cfg)
	require.NoError(t, err)
	assert.IsType(t, &store.Store{}, st)
	require.NoError(t, st.Close())

	cfg.Store.Driver = config.DriverSQLite
	st, err = openStore(cfg)
	require.NoError(t, err)
	assert.IsType(t, &sqlitestore.Store{}, st)
	require.NoError(t, st.Close())

	cfg.Store.Driver = "memory"
	_, err = openStore(cfg)
	assert.Error(t, err)
}

func TestCaptureProcessUploads(t *testing.T) {
	ctx := context.Background()
	var got [][]byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if string(body) == "reject me" {
			w.WriteHeader(http.StatusUnprocessableEntity)
			return
		}
		assert.Equal(t, "image/png", r.Header.Get("Content-Type"))
		got = append(got, body)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	cfg := config.Default(t.TempDir())
	st, err := openStore(cfg)
	require.NoError(t, err)
	defer st.Close()
	q, err := openCaptureQueue(cfg, st, nil)
	require.NoError(t, err)

	_, err = q.Enqueue(ctx, []byte("photo bytes"), "image/png")
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, []byte("reject me"), "image/png")
	require.NoError(t, err)

	res, err := q.Process(ctx, uploadFunc(srv.URL, srv.Client()))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, [][]byte{[]byte("photo bytes")}, got)

	items, err := q.List(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, models.CaptureFailed, items[0].Status)
}

func TestRenderTable(t *testing.T) {
	out := renderTable([]string{"ID", "URL"}, [][]string{{"1", "http://x/api/log-food"}, {"2"}}, []columnAlignment{alignRight})
	assert.Contains(t, out, "ID")
	assert.Contains(t, out, "http://x/api/log-food")
	assert.Empty(t, renderTable(nil, nil, nil))
}
