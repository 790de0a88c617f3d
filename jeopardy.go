// Triviaboard Jeopardy Board
//
// A six-by-five board of clues pulled from a jService-compatible trivia API.
// Clicking a cell shows its question, clicking again shows its answer.
//
// Features:
// - WebSockets per board ID: /path/:gameid and /path/:gameid/ws
// - Every connection to a board sees and drives the same board
// - "New game" fetches six distinct categories and five clues for each
// - The new-game button is disabled for everyone while a board loads;
//   extra start requests during a load are rejected, not queued
// - A finished board replaces the previous one in a single step; clicks
//   tagged with an older board's version are ignored
// - Build failures re-enable the button and tell the browser why
// - Boards auto-reaped after configurable idle timeout
// - Random 8-char board IDs via crypto/rand, with server-side collision check
// - In-browser QR button to share the current board, backed by go-qrcode

package main

import (
	"context"
	"crypto/rand"
	_ "embed"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
)

const (
	gameIDLength   = 8
	gameIDAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

	maxMessageSize = 1024
)

// Messages coming from clients
type ClientMessage struct {
	Type    string `json:"type"`              // "start", "reveal"
	Version string `json:"version,omitempty"` // reveal
	Cell    string `json:"cell,omitempty"`    // reveal
}

// TriggerMessage drives the new-game button.
type TriggerMessage struct {
	Type     string `json:"type"` // "trigger"
	Disabled bool   `json:"disabled"`
	Loading  bool   `json:"loading"`
}

type CellView struct {
	Cell  string `json:"cell"`
	State string `json:"state"`
	Text  string `json:"text"`
}

// BoardMessage carries a whole board. Cells are grouped by category, so
// Cells[i] is the column under Titles[i].
type BoardMessage struct {
	Type    string       `json:"type"` // "board"
	Version string       `json:"version"`
	Titles  []string     `json:"titles"`
	Cells   [][]CellView `json:"cells"`
}

// CellMessage is sent after a click changed a cell.
type CellMessage struct {
	Type    string `json:"type"` // "cell"
	Version string `json:"version"`
	CellView
}

type ReadyMessage struct {
	Type    string `json:"type"` // "ready"
	Version string `json:"version"`
}

type FailureMessage struct {
	Type    string `json:"type"` // "build_failed"
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// SimpleMessage is for generic notifications ("start_rejected").
type SimpleMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type Client struct {
	conn *websocket.Conn
	send chan any
}

type revealRequest struct {
	client *Client
	msg    ClientMessage
}

type buildResult struct {
	seq   int
	board *Board
	err   error
	took  time.Duration
}

// BoardBuilder produces a fresh board for a new game.
type BoardBuilder interface {
	Build(ctx context.Context) (*Board, error)
}

type Hub struct {
	id      string
	clients map[*Client]bool

	register chan *Client
	unreg    chan *Client
	starts   chan *Client
	reveals  chan revealRequest
	built    chan buildResult
	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	builder BoardBuilder
	metrics *Metrics
	clock   quartz.Clock

	mu         sync.RWMutex // guards lastActive
	lastActive time.Time

	// Owned by run; never touched from another goroutine.
	board       *Board
	loading     bool
	buildSeq    int
	cancelBuild context.CancelFunc
}

func newHub(gameID string, builder BoardBuilder, metrics *Metrics, clock quartz.Clock) *Hub {
	return &Hub{
		id:         gameID,
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unreg:      make(chan *Client),
		starts:     make(chan *Client),
		reveals:    make(chan revealRequest),
		built:      make(chan buildResult),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
		builder:    builder,
		metrics:    metrics,
		clock:      clock,
		lastActive: clock.Now(),
	}
}

func (h *Hub) run(cfg *Config) {
	defer close(h.done)

	for {
		select {
		case c := <-h.register:
			h.touch()
			h.clients[c] = true
			h.metrics.ConnectedClients.Inc()

			h.send(c, h.triggerMessage())
			if h.board != nil {
				h.send(c, boardMessage(h.board))
				h.send(c, ReadyMessage{Type: "ready", Version: h.board.Version})
			}

		case c := <-h.unreg:
			h.touch()
			h.drop(c)

		case c := <-h.starts:
			h.touch()
			h.handleStart(cfg, c)

		case rr := <-h.reveals:
			h.touch()
			h.handleReveal(cfg, rr)

		case res := <-h.built:
			h.handleBuilt(cfg, res)

		case <-h.quit:
			if h.cancelBuild != nil {
				h.cancelBuild()
			}
			for c := range h.clients {
				h.drop(c)
			}
			return
		}
	}
}

func (h *Hub) touch() {
	h.mu.Lock()
	h.lastActive = h.clock.Now()
	h.mu.Unlock()
}

func (h *Hub) idleSince() time.Time {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.lastActive
}

// drop forgets a client and closes its send channel, which ends its write pump.
func (h *Hub) drop(c *Client) {
	if _, ok := h.clients[c]; !ok {
		return
	}

	delete(h.clients, c)
	h.metrics.ConnectedClients.Dec()
	close(c.send)
}

// send queues msg for one client, dropping the client if it has fallen behind.
// Clients that were already dropped are skipped; their send channel is closed.
func (h *Hub) send(c *Client, msg any) {
	if !h.clients[c] {
		return
	}

	select {
	case c.send <- msg:
	default:
		h.drop(c)
	}
}

func (h *Hub) broadcast(msg any) {
	for c := range h.clients {
		h.send(c, msg)
	}
}

func (h *Hub) triggerMessage() TriggerMessage {
	return TriggerMessage{
		Type:     "trigger",
		Disabled: h.loading,
		Loading:  h.loading,
	}
}

func cellView(at Coord, clue Clue) CellView {
	return CellView{
		Cell:  at.handle(),
		State: clue.State.String(),
		Text:  clue.Text(),
	}
}

func boardMessage(b *Board) BoardMessage {
	cells := make([][]CellView, len(b.Categories))
	for i, category := range b.Categories {
		cells[i] = make([]CellView, len(category.Clues))
		for j, clue := range category.Clues {
			cells[i][j] = cellView(Coord{Category: i, Clue: j}, clue)
		}
	}

	return BoardMessage{
		Type:    "board",
		Version: b.Version,
		Titles:  b.titles(),
		Cells:   cells,
	}
}

// handleStart discards the current board and begins building a new one.
// While a build is in flight further starts are turned away.
func (h *Hub) handleStart(cfg *Config, c *Client) {
	if !h.clients[c] {
		return
	}

	if h.loading {
		h.send(c, SimpleMessage{
			Type:    "start_rejected",
			Message: "A new board is already loading.",
		})
		return
	}

	h.loading = true
	h.board = nil
	h.buildSeq++

	ctx, cancel := context.WithCancel(context.Background())
	h.cancelBuild = cancel

	h.broadcast(h.triggerMessage())

	logf(cfg, "GAMES: Building board for %s", h.id)

	seq := h.buildSeq
	started := h.clock.Now()

	go func() {
		board, err := h.builder.Build(ctx)

		select {
		case h.built <- buildResult{
			seq:   seq,
			board: board,
			err:   err,
			took:  h.clock.Since(started),
		}:
		case <-h.done:
		}
	}()
}

func (h *Hub) handleBuilt(cfg *Config, res buildResult) {
	if res.seq != h.buildSeq {
		return
	}

	h.loading = false
	if h.cancelBuild != nil {
		h.cancelBuild()
		h.cancelBuild = nil
	}

	h.metrics.observeBuild(res.err, res.took)

	if res.err != nil {
		logf(cfg, "GAMES: Board for %s failed after %s: %v", h.id, res.took.Round(time.Millisecond), res.err)

		h.broadcast(FailureMessage{
			Type:    "build_failed",
			Kind:    failureKind(res.err),
			Message: "Could not load a new board. Please try again.",
		})
		h.broadcast(h.triggerMessage())
		return
	}

	h.board = res.board

	logf(cfg, "GAMES: Board %s ready for %s in %s", h.board.Version, h.id, res.took.Round(time.Millisecond))

	h.broadcast(boardMessage(h.board))
	h.broadcast(h.triggerMessage())
	h.broadcast(ReadyMessage{Type: "ready", Version: h.board.Version})
}

func (h *Hub) handleReveal(cfg *Config, rr revealRequest) {
	if !h.clients[rr.client] {
		return
	}

	if h.board == nil || rr.msg.Version != h.board.Version {
		return
	}

	at, ok := parseCellHandle(rr.msg.Cell)
	if !ok {
		return
	}

	clue, changed := h.board.Reveal(at)
	if !changed {
		return
	}

	h.metrics.observeReveal(clue.State)

	h.broadcast(CellMessage{
		Type:     "cell",
		Version:  h.board.Version,
		CellView: cellView(at, clue),
	})
}

// enqueue hands an event to the hub loop, giving up if the hub has stopped.
func enqueue[T any](h *Hub, ch chan<- T, v T) bool {
	select {
	case ch <- v:
		return true
	case <-h.done:
		return false
	}
}

// stop ends the hub loop, disconnecting every client.
func (h *Hub) stop() {
	h.stopOnce.Do(func() {
		close(h.quit)
	})
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// GameManager holds a set of hubs keyed by game ID, so each $path/$gameid
// is its own isolated board.
type GameManager struct {
	mu          sync.Mutex
	hubs        map[string]*Hub
	idleTimeout time.Duration

	builder BoardBuilder
	metrics *Metrics
	clock   quartz.Clock
	done    chan struct{}
}

func newGameManager(idleTimeout time.Duration, builder BoardBuilder, metrics *Metrics, clock quartz.Clock) *GameManager {
	gm := &GameManager{
		hubs:        make(map[string]*Hub),
		idleTimeout: idleTimeout,
		builder:     builder,
		metrics:     metrics,
		clock:       clock,
		done:        make(chan struct{}),
	}
	if idleTimeout > 0 {
		go gm.reaperLoop()
	}
	return gm
}

func (gm *GameManager) getHub(cfg *Config, gameID string) *Hub {
	gm.mu.Lock()
	defer gm.mu.Unlock()

	if hub, ok := gm.hubs[gameID]; ok {
		return hub
	}

	hub := newHub(gameID, gm.builder, gm.metrics, gm.clock)
	gm.hubs[gameID] = hub
	gm.metrics.ActiveSessions.Set(float64(len(gm.hubs)))
	go hub.run(cfg)
	return hub
}

func validGameID(id string) bool {
	if len(id) != gameIDLength {
		return false
	}
	for _, r := range id {
		if !strings.ContainsRune(gameIDAlphabet, r) {
			return false
		}
	}
	return true
}

// newGameID generates a crypto-random game ID and ensures it doesn't
// collide with existing games.
func (gm *GameManager) newGameID() string {
	for {
		buf := make([]byte, gameIDLength)
		if _, err := rand.Read(buf); err != nil {
			panic("crypto/rand failure: " + err.Error())
		}
		out := make([]byte, gameIDLength)
		for i := range out {
			out[i] = gameIDAlphabet[int(buf[i])%len(gameIDAlphabet)]
		}
		id := string(out)

		gm.mu.Lock()
		_, exists := gm.hubs[id]
		gm.mu.Unlock()

		if !exists {
			return id
		}
	}
}

// reap removes hubs that have been idle longer than idleTimeout and
// reports how many it removed.
func (gm *GameManager) reap() int {
	cutoff := gm.clock.Now().Add(-gm.idleTimeout)

	gm.mu.Lock()
	defer gm.mu.Unlock()

	removed := 0
	for id, hub := range gm.hubs {
		if hub.idleSince().Before(cutoff) {
			delete(gm.hubs, id)
			hub.stop()
			removed++
		}
	}
	gm.metrics.ActiveSessions.Set(float64(len(gm.hubs)))

	return removed
}

func (gm *GameManager) reaperLoop() {
	ticker := gm.clock.NewTicker(gm.idleTimeout/2, "reaper")
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			gm.reap()
		case <-gm.done:
			return
		}
	}
}

// closeAll stops the reaper and every hub.
func (gm *GameManager) closeAll() {
	gm.mu.Lock()
	defer gm.mu.Unlock()

	select {
	case <-gm.done:
	default:
		close(gm.done)
	}

	for id, hub := range gm.hubs {
		delete(gm.hubs, id)
		hub.stop()
	}
	gm.metrics.ActiveSessions.Set(0)
}

// WebSocket handler that picks the hub based on :gameid
func serveWSForManager(cfg *Config, gm *GameManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		gameID := ps.ByName("gameid")
		if !validGameID(gameID) {
			http.Error(w, "invalid game id", http.StatusBadRequest)
			return
		}

		hub := gm.getHub(cfg, gameID)

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logf(cfg, "SERVE: Upgrade for %s from %s failed: %v", gameID, realIP(r), err)
			return
		}
		conn.SetReadLimit(maxMessageSize)

		client := &Client{
			conn: conn,
			send: make(chan any, 16),
		}

		if !enqueue(hub, hub.register, client) {
			_ = conn.Close()
			return
		}

		go client.writePump()
		client.readPump(hub)
	}
}

func (c *Client) readPump(h *Hub) {
	defer func() {
		enqueue(h, h.unreg, c)
		_ = c.conn.Close()
	}()

	for {
		var msg ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}

		switch msg.Type {
		case "start":
			if !enqueue(h, h.starts, c) {
				return
			}
		case "reveal":
			if !enqueue(h, h.reveals, revealRequest{client: c, msg: msg}) {
				return
			}
		default:
			// ignore unknown types
		}
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

// QR handler: generates a PNG QR code for the current board URL using go-qrcode.
func qrHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	if !validGameID(ps.ByName("gameid")) {
		http.Error(w, "invalid game id", http.StatusBadRequest)
		return
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}

	// We are at /.../:gameid/qr; strip trailing "/qr" to get the board URL.
	path := strings.TrimSuffix(r.URL.Path, "/qr")

	url := scheme + "://" + r.Host + path

	const qrSize = 320
	png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
	if err != nil {
		http.Error(w, "qr generation failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}

//go:embed jeopardy/index.html
var jeopardyHTML []byte

func getIndexHandler(cfg *Config) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		if !validGameID(ps.ByName("gameid")) {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			securityHeaders(cfg, w)
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(newPage(cfg, "Not Found", "No such board. Start a new one.")))
			return
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Header().Set("Expires", time.Now().Add(time.Hour).UTC().Format(http.TimeFormat))
		securityHeaders(cfg, w)

		_, _ = w.Write(jeopardyHTML)
	}
}

// redirectNewGame handles GET /path by generating a new random game ID
// (with server-side collision detection) and redirecting to /path/:gameid.
func redirectNewGame(cfg *Config, path string, gm *GameManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		gameID := gm.newGameID()
		logf(cfg, "GAMES: Created board %s/%s for %s", path, gameID, realIP(r))
		http.Redirect(w, r, cfg.prefix+path+"/"+gameID, http.StatusTemporaryRedirect)
	}
}

// registerJeopardyGame sets up routes so that:
//   - $path                  → redirects to new random board (8-char ID)
//   - $path/:gameid          → HTML client
//   - $path/:gameid/ws       → WebSocket for that board
//   - $path/:gameid/qr       → PNG QR code for that board URL
func registerJeopardyGame(cfg *Config, path string, mux *httprouter.Router, builder BoardBuilder, metrics *Metrics, clock quartz.Clock) *GameManager {
	gm := newGameManager(cfg.sessionTimeout, builder, metrics, clock)

	mux.GET(cfg.prefix+path, redirectNewGame(cfg, path, gm))

	mux.GET(cfg.prefix+path+"/:gameid", getIndexHandler(cfg))

	mux.GET(cfg.prefix+path+"/:gameid/ws", serveWSForManager(cfg, gm))

	mux.GET(cfg.prefix+path+"/:gameid/qr", qrHandler)

	return gm
}
