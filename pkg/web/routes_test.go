// SPDX-License-Identifier: GPL-2.0-or-later

package web

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"srec/pkg/log"
	"srec/pkg/record"
	"srec/pkg/stream/dummy"
	"srec/pkg/system"
)

func newTestMux(t *testing.T) (*http.ServeMux, *log.Logger) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	logger := log.NewLogger(&sync.WaitGroup{})
	logger.Start(ctx)

	logDB := log.NewDB(filepath.Join(t.TempDir(), "logs.db"), &sync.WaitGroup{})
	require.NoError(t, logDB.Init(ctx))

	session := record.NewSession(dummy.NewTransport(), log.NewMockLogger(), "x.xdf")
	_, err := session.Update(time.Millisecond)
	require.NoError(t, err)

	sys := system.New(nil, log.NewMockLogger())

	return NewMux(session, sys, logDB, logger), logger
}

func TestRoutes(t *testing.T) {
	mux, _ := newTestMux(t)

	get := func(path string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		return w
	}

	t.Run("status", func(t *testing.T) {
		w := get("/api/status")
		require.Equal(t, http.StatusOK, w.Code)
		require.Contains(t, w.Body.String(), `"recording":false`)
		require.Contains(t, w.Body.String(), `"available_streams":3`)
	})
	t.Run("streams", func(t *testing.T) {
		w := get("/api/streams")
		require.Equal(t, http.StatusOK, w.Code)
		require.Contains(t, w.Body.String(), `"uid":"float123"`)
	})
	t.Run("system", func(t *testing.T) {
		w := get("/api/system")
		require.Equal(t, http.StatusOK, w.Code)
		require.Contains(t, w.Body.String(), `"cpuUsage"`)
	})
	t.Run("logQuery", func(t *testing.T) {
		w := get("/api/log/query?limit=2&levels=16,24&sources=record")
		require.Equal(t, http.StatusOK, w.Code)
	})
	t.Run("logQueryBadRequests", func(t *testing.T) {
		require.Equal(t, http.StatusBadRequest, get("/api/log/query").Code)
		require.Equal(t, http.StatusBadRequest, get("/api/log/query?limit=x").Code)
		require.Equal(t, http.StatusBadRequest, get("/api/log/query?limit=1&levels=x").Code)
		require.Equal(t, http.StatusBadRequest, get("/api/log/query?limit=1&time=x").Code)
	})
	t.Run("methodNotAllowed", func(t *testing.T) {
		for _, path := range []string{
			"/api/status",
			"/api/streams",
			"/api/system",
			"/api/log/query",
			"/api/logs",
		} {
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, httptest.NewRequest(http.MethodPost, path, nil))
			require.Equal(t, http.StatusMethodNotAllowed, w.Code, path)
		}
	})
}

func TestLogFeed(t *testing.T) {
	mux, logger := newTestMux(t)

	server := httptest.NewServer(mux)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") +
		"/api/logs?levels=16&sources=record"

	conn, response, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer response.Body.Close()
	defer conn.Close()

	// Give the handler time to subscribe.
	time.Sleep(10 * time.Millisecond)

	// Filtered out, then matching.
	logger.Info().Src("record").Msg("ignored")
	logger.Error().Src("record").Stream("eeg").Msg("dropped samples")

	var entry log.Entry
	require.NoError(t, conn.ReadJSON(&entry))
	require.Equal(t, log.Entry{
		Level:  log.LevelError,
		Time:   entry.Time,
		Msg:    "dropped samples",
		Src:    "record",
		Stream: "eeg",
	}, entry)
}

func TestServer(t *testing.T) {
	mux, _ := newTestMux(t)
	server := NewServer(mux, 0, log.NewMockLogger())

	ctx, cancel := context.WithCancel(context.Background())
	wg := &sync.WaitGroup{}
	require.NoError(t, server.Start(ctx, wg))

	_, port, err := net.SplitHostPort(server.Addr())
	require.NoError(t, err)

	response, err := http.Get("http://localhost:" + port + "/api/status")
	require.NoError(t, err)
	response.Body.Close()
	require.Equal(t, http.StatusOK, response.StatusCode)

	cancel()
	wg.Wait()
}
