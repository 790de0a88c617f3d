package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T, cfg *Config, source CategorySource) (*httprouter.Router, *GameManager) {
	t.Helper()

	errs := make(chan error, 8)
	mux, gm := newRouter(cfg, source, prometheus.NewRegistry(), quartz.NewMock(t), errs)
	t.Cleanup(gm.closeAll)

	return mux, gm
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	return w
}

func TestRoutes(t *testing.T) {
	cfg := quietConfig()
	cfg.metrics = true
	mux, _ := newTestRouter(t, cfg, newFakeSource(1, 2, 3, 4, 5, 6))

	t.Run("home", func(t *testing.T) {
		w := get(t, mux, "/")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `href="/jeopardy"`)
		assert.Equal(t, "default-src 'self'", w.Header().Get("Content-Security-Policy"))
		assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	})

	t.Run("new board redirects to a fresh id", func(t *testing.T) {
		w := get(t, mux, "/jeopardy")
		require.Equal(t, http.StatusTemporaryRedirect, w.Code)

		loc := w.Header().Get("Location")
		require.True(t, strings.HasPrefix(loc, "/jeopardy/"), loc)
		assert.True(t, validGameID(strings.TrimPrefix(loc, "/jeopardy/")), loc)
	})

	t.Run("board page", func(t *testing.T) {
		w := get(t, mux, "/jeopardy/ABCDEFGH")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
		assert.Contains(t, w.Body.String(), `id="begin"`)
		assert.Contains(t, w.Body.String(), `id="jeopardy"`)
	})

	t.Run("unknown board id", func(t *testing.T) {
		w := get(t, mux, "/jeopardy/nope")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("qr code", func(t *testing.T) {
		w := get(t, mux, "/jeopardy/ABCDEFGH/qr")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
		assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte("\x89PNG")))
	})

	t.Run("assets", func(t *testing.T) {
		w := get(t, mux, "/assets/jeopardy.js")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Header().Get("Content-Type"), "text/javascript")
		assert.Contains(t, w.Body.String(), `closest("[data-cell]")`)
		assert.Contains(t, w.Body.String(), `if (send({ type: "start" })) {`, "button stays usable when the socket is down")

		w = get(t, mux, "/assets/jeopardy.css")
		assert.Contains(t, w.Header().Get("Content-Type"), "text/css")

		assert.Equal(t, http.StatusNotFound, get(t, mux, "/assets/missing.js").Code)
	})

	t.Run("favicons", func(t *testing.T) {
		w := get(t, mux, "/favicons/favicon.svg")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "image/svg+xml", w.Header().Get("Content-Type"))

		w = get(t, mux, "/favicon.ico")
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("health and version", func(t *testing.T) {
		assert.Equal(t, "Ok\n", get(t, mux, "/healthz").Body.String())
		assert.Equal(t, "triviaboard v"+releaseVersion+"\n", get(t, mux, "/version").Body.String())
	})

	t.Run("metrics", func(t *testing.T) {
		w := get(t, mux, "/metrics")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "triviaboard_active_sessions")
	})

	t.Run("profiling off by default", func(t *testing.T) {
		assert.Equal(t, http.StatusNotFound, get(t, mux, "/pprof/heap").Code)
	})
}

func TestRoutesWithPrefix(t *testing.T) {
	cfg := quietConfig()
	cfg.prefix = "/trivia"
	cfg.profile = true
	mux, _ := newTestRouter(t, cfg, newFakeSource())

	w := get(t, mux, "/trivia/jeopardy")
	require.Equal(t, http.StatusTemporaryRedirect, w.Code)
	assert.True(t, strings.HasPrefix(w.Header().Get("Location"), "/trivia/jeopardy/"))

	assert.Equal(t, http.StatusOK, get(t, mux, "/trivia/jeopardy/ABCDEFGH").Code)
	assert.Equal(t, http.StatusOK, get(t, mux, "/trivia/pprof/heap").Code)
	assert.Equal(t, http.StatusNotFound, get(t, mux, "/metrics").Code)
}

func readTyped(t *testing.T, conn *websocket.Conn, want string) map[string]any {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	var msg map[string]any
	require.NoError(t, conn.ReadJSON(&msg))
	require.Equal(t, want, msg["type"], "message: %v", msg)

	return msg
}

func TestWebsocketGame(t *testing.T) {
	src := newFakeSource(7, 7, 8, 9, 10, 11, 12, 13)
	mux, _ := newTestRouter(t, quietConfig(), src)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/jeopardy/ABCDEFGH/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	t.Cleanup(func() { _ = conn.Close() })

	trigger := readTyped(t, conn, "trigger")
	assert.Equal(t, false, trigger["disabled"])

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: "start"}))

	trigger = readTyped(t, conn, "trigger")
	assert.Equal(t, true, trigger["disabled"])

	board := readTyped(t, conn, "board")
	version, _ := board["version"].(string)
	require.NotEmpty(t, version)

	raw, err := json.Marshal(board)
	require.NoError(t, err)
	var typed BoardMessage
	require.NoError(t, json.Unmarshal(raw, &typed))
	assert.Equal(t, []string{"title 7", "title 8", "title 9", "title 10", "title 11", "title 12"}, typed.Titles)

	trigger = readTyped(t, conn, "trigger")
	assert.Equal(t, false, trigger["disabled"])
	readTyped(t, conn, "ready")

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: "reveal", Version: version, Cell: "1-0"}))
	cell := readTyped(t, conn, "cell")
	assert.Equal(t, "question", cell["state"])
	assert.Equal(t, "q8.0", cell["text"])

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: "reveal", Version: version, Cell: "1-0"}))
	cell = readTyped(t, conn, "cell")
	assert.Equal(t, "answer", cell["state"])
	assert.Equal(t, "a8.0", cell["text"])
}

func TestWebsocketRejectsBadID(t *testing.T) {
	mux, _ := newTestRouter(t, quietConfig(), newFakeSource())

	w := get(t, mux, "/jeopardy/bad/ws")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHumanReadableSize(t *testing.T) {
	assert.Equal(t, "999 B", humanReadableSize(999))
	assert.Equal(t, "1.5 kB", humanReadableSize(1500))
	assert.Equal(t, "2.0 MB", humanReadableSize(2_000_000))
}

func TestRealIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	assert.Equal(t, "10.0.0.1:5555", realIP(req))

	req.Header.Set("X-Real-IP", "192.0.2.7")
	assert.Equal(t, "192.0.2.7:5555", realIP(req))

	req.Header.Set("CF-Connecting-IP", "2001:db8::1")
	assert.Equal(t, "[2001:db8::1]:5555", realIP(req))
}
