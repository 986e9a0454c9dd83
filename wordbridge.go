// Wordbridge
//
// A cooperative word-transmission party game. Each round one player (the
// parent) is dealt a secret word from a random category. Every other player
// (the children) submits three clue cards; the parent arranges cards on a
// shared board to communicate the word without saying it, and the children
// race to guess it.
//
// Features:
// - WebSockets per game ID: /wordbridge/:gameid and /wordbridge/:gameid/ws
// - First player to set a name becomes host and may start the game
// - Turn order is a random permutation fixed at game start; the parent role
//   rotates through it, one round per seat, for playerCount*2 rounds
// - Scoring: everyone starts at 10; first correct guess +2, that round's
//   parent +3, later correct guesses +1
// - Parent may buy one hint per round (word length, or first+last letter)
//   for 1 point; children may ask the parent private questions, 1 point each
// - Invalid intents are answered with an explicit rejection message
// - Games auto-reaped after configurable idle timeout
// - Random 8-char game IDs via crypto/rand, with server-side collision check
// - In-browser QR button to share the current session, backed by go-qrcode

package main

import (
	"crypto/rand"
	_ "embed"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
	"golang.org/x/time/rate"
)

// Messages coming from clients
type ClientMessage struct {
	Type      string   `json:"type"`                // discriminator
	Name      string   `json:"name,omitempty"`      // setName
	Cards     []string `json:"cards,omitempty"`     // submitCards
	Card      string   `json:"card,omitempty"`      // placeCard
	Position  string   `json:"position,omitempty"`  // placeCard
	Direction string   `json:"direction,omitempty"` // placeCard
	Text      string   `json:"text,omitempty"`      // placeCard
	Answer    string   `json:"answer,omitempty"`    // submitAnswer
	HintType  string   `json:"hintType,omitempty"`  // useParentHint: "length" or "firstLast"
	Question  string   `json:"question,omitempty"`  // useChildHint
}

// PlayerAssignedMessage is sent once, to the new client, at connect.
type PlayerAssignedMessage struct {
	Type     string `json:"type"` // "playerAssigned"
	PlayerID string `json:"playerId"`
}

type PlayerSnapshot struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Score     int    `json:"score"`
	Submitted bool   `json:"submitted"` // full card set stored this round
}

// PlacedCard is one card the parent has laid on the board.
type PlacedCard struct {
	Text      string `json:"text"`
	PlayerID  string `json:"playerId"`
	Position  string `json:"position"`
	Direction string `json:"direction"`
}

// GameStateMessage is the full snapshot broadcast after every mutation of
// the registry, the board, or the scores.
type GameStateMessage struct {
	Type           string           `json:"type"` // "gameStateUpdate"
	Players        []PlayerSnapshot `json:"players"`
	GameStarted    bool             `json:"gameStarted"`
	HostName       string           `json:"hostName,omitempty"`
	Phase          string           `json:"phase"`
	Round          int              `json:"round,omitempty"`
	ParentPlayerID string           `json:"parentPlayerId,omitempty"`
	Category       string           `json:"category,omitempty"`
	CardsOnMap     []PlacedCard     `json:"cardsOnMap,omitempty"`
}

// SecretWordMessage is delivered to the round's parent only.
type SecretWordMessage struct {
	Type     string `json:"type"` // "secretWord"
	Word     string `json:"word"`
	Category string `json:"category"`
}

type RoundStartMessage struct {
	Type             string `json:"type"` // "roundStart"
	Round            int    `json:"round"`
	ParentPlayerID   string `json:"parentPlayerId"`
	ParentPlayerName string `json:"parentPlayerName"`
	Category         string `json:"category"`
}

type PhaseData struct {
	ChildCards []string `json:"childCards"`
}

type PhaseMessage struct {
	Type  string     `json:"type"` // "startPhase"
	Phase string     `json:"phase"`
	Data  *PhaseData `json:"data,omitempty"`
}

// AnswerMessage reports an adjudicated guess, correct or not.
type AnswerMessage struct {
	Type     string `json:"type"` // "correctAnswer" or "incorrectAnswer"
	PlayerID string `json:"playerId"`
	Answer   string `json:"answer"`
	IsLate   bool   `json:"isLate,omitempty"`
}

type Hint struct {
	Type  string `json:"type"` // "length" or "firstLast"
	Value int    `json:"value,omitempty"`
	First string `json:"first,omitempty"`
	Last  string `json:"last,omitempty"`
}

type HintMessage struct {
	Type string `json:"type"` // "parentHint"
	Hint Hint   `json:"hint"`
}

// QuestionMessage is delivered to the parent only, never broadcast.
type QuestionMessage struct {
	Type     string `json:"type"` // "childQuestion"
	PlayerID string `json:"playerId"`
	Question string `json:"question"`
}

type GameEndMessage struct {
	Type   string          `json:"type"` // "gameEnd"
	Winner *PlayerSnapshot `json:"winner,omitempty"`
}

// RejectedMessage is sent to the offending client when an intent fails
// validation. Unknown message types are dropped without one.
type RejectedMessage struct {
	Type   string `json:"type"` // "rejected"
	Intent string `json:"intent"`
	Reason string `json:"reason"` // "invalidState", "malformedInput", or "notFound"
}

// SimpleMessage is for generic notifications ("sessionFull", etc.)
type SimpleMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type Client struct {
	conn     *websocket.Conn
	send     chan any
	playerID string
	limiter  *rate.Limiter
}

type intentEnvelope struct {
	client *Client
	msg    ClientMessage
}

// Hub owns one game session: the Session holds the pure game state, the hub
// serializes every inbound intent through its run loop and fans the
// resulting messages out to connected clients.
type Hub struct {
	id      string
	session *Session
	clients map[*Client]bool

	register chan *Client
	unreg    chan *Client
	intents  chan intentEnvelope
	advance  chan struct{}

	mu sync.RWMutex

	createdAt  time.Time
	lastActive time.Time

	roundTimer *time.Timer
}

func newHub(gameID string) *Hub {
	now := time.Now()
	return &Hub{
		id:         gameID,
		session:    newSession(defaultCatalog()),
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unreg:      make(chan *Client),
		intents:    make(chan intentEnvelope, 64),
		advance:    make(chan struct{}, 1),
		createdAt:  now,
		lastActive: now,
	}
}

func (h *Hub) run(cfg *Config) {
	for {
		select {
		case c := <-h.register:
			h.handleRegister(cfg, c)

		case c := <-h.unreg:
			h.handleUnregister(cfg, c)

		case env := <-h.intents:
			h.handleIntent(cfg, env)

		case <-h.advance:
			h.handleAdvance()
		}
	}
}

func (h *Hub) handleRegister(cfg *Config, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.lastActive = time.Now()

	if len(h.clients) >= cfg.maxPlayers {
		c.send <- SimpleMessage{
			Type:    "sessionFull",
			Message: "This game session is full.",
		}
		close(c.send)
		return
	}

	h.clients[c] = true
	h.dispatchLocked(h.session.Register(c.playerID))

	logf(cfg, "GAMES: Player %s connected to %s", c.playerID, h.id)
}

func (h *Hub) handleUnregister(cfg *Config, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.lastActive = time.Now()

	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}

	events, settled := h.session.RemovePlayer(c.playerID)
	h.dispatchLocked(events)

	if settled {
		h.scheduleAdvanceLocked(cfg)
	}

	// Nobody left to play the next round; stop any pending timer.
	if len(h.clients) == 0 && h.roundTimer != nil {
		h.roundTimer.Stop()
		h.roundTimer = nil
	}

	logf(cfg, "GAMES: Player %s disconnected from %s", c.playerID, h.id)
}

func (h *Hub) handleIntent(cfg *Config, env intentEnvelope) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.lastActive = time.Now()

	var (
		events  []outbound
		settled bool
		err     error
	)

	id := env.client.playerID
	msg := env.msg

	switch msg.Type {
	case "setName":
		events, err = h.session.SetName(id, msg.Name)

	case "startGame":
		events, err = h.session.StartGame(id)
		if err == nil {
			logf(cfg, "GAMES: Game %s started with %d players", h.id, len(h.session.players))
		}

	case "submitCards":
		events, err = h.session.SubmitCards(id, msg.Cards)

	case "placeCard":
		text := msg.Text
		if strings.TrimSpace(text) == "" {
			text = msg.Card
		}
		events, err = h.session.PlaceCard(id, text, msg.Position, msg.Direction)

	case "submitAnswer":
		events, settled, err = h.session.SubmitAnswer(id, msg.Answer)

	case "useParentHint":
		events, err = h.session.UseParentHint(id, msg.HintType)

	case "useChildHint":
		events, err = h.session.UseChildHint(id, msg.Question)

	default:
		return
	}

	if err != nil {
		h.sendLocked(env.client, RejectedMessage{
			Type:   "rejected",
			Intent: msg.Type,
			Reason: err.Error(),
		})
		return
	}

	h.dispatchLocked(events)

	if settled {
		h.scheduleAdvanceLocked(cfg)
	}
}

func (h *Hub) handleAdvance() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.dispatchLocked(h.session.AdvanceRound())
}

// scheduleAdvanceLocked arms the settling delay before the next round. The
// timer feeds the run loop rather than touching state itself, so intents
// arriving during the delay are never interleaved mid-mutation.
func (h *Hub) scheduleAdvanceLocked(cfg *Config) {
	if h.roundTimer != nil {
		h.roundTimer.Stop()
	}

	h.roundTimer = time.AfterFunc(cfg.roundDelay, func() {
		select {
		case h.advance <- struct{}{}:
		default:
		}
	})
}

// dispatchLocked routes session output: empty destination broadcasts,
// anything else goes to that player's connections only.
func (h *Hub) dispatchLocked(events []outbound) {
	for _, ev := range events {
		for client := range h.clients {
			if ev.to != "" && client.playerID != ev.to {
				continue
			}

			select {
			case client.send <- ev.msg:
			default:
				delete(h.clients, client)
				close(client.send)
			}
		}
	}
}

func (h *Hub) sendLocked(c *Client, msg any) {
	if !h.clients[c] {
		return
	}

	select {
	case c.send <- msg:
	default:
		delete(h.clients, c)
		close(c.send)
	}
}

// closeAll disconnects all clients of this hub (used by reaper).
func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.roundTimer != nil {
		h.roundTimer.Stop()
		h.roundTimer = nil
	}

	for c := range h.clients {
		close(c.send)
		_ = c.conn.Close()
		delete(h.clients, c)
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// GameManager holds a set of hubs keyed by game ID, so each $path/$gameid
// is its own isolated session.
type GameManager struct {
	mu          sync.Mutex
	hubs        map[string]*Hub
	idleTimeout time.Duration
}

func newGameManager(idleTimeout time.Duration) *GameManager {
	gm := &GameManager{
		hubs:        make(map[string]*Hub),
		idleTimeout: idleTimeout,
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

	hub := newHub(gameID)
	gm.hubs[gameID] = hub
	go hub.run(cfg)
	return hub
}

// newGameID generates a crypto-random game ID and ensures it doesn't
// collide with existing games.
func (gm *GameManager) newGameID() string {
	const letters = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	for {
		buf := make([]byte, 8)
		if _, err := rand.Read(buf); err != nil {
			panic("crypto/rand failure: " + err.Error())
		}
		out := make([]byte, 8)
		for i := range out {
			out[i] = letters[int(buf[i])%len(letters)]
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

// reaperLoop periodically removes hubs that have been idle longer than idleTimeout.
func (gm *GameManager) reaperLoop() {
	ticker := time.NewTicker(gm.idleTimeout / 2)
	for range ticker.C {
		cutoff := time.Now().Add(-gm.idleTimeout)

		gm.mu.Lock()
		for id, hub := range gm.hubs {
			hub.mu.RLock()
			last := hub.lastActive
			hub.mu.RUnlock()

			if last.Before(cutoff) {
				delete(gm.hubs, id)
				go hub.closeAll()
			}
		}
		gm.mu.Unlock()
	}
}

// WebSocket handler that picks the hub based on :gameid
func serveWSForManager(cfg *Config, gm *GameManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		gameID := ps.ByName("gameid")
		if gameID == "" {
			http.Error(w, "missing game id", http.StatusBadRequest)
			return
		}

		hub := gm.getHub(cfg, gameID)

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Println("upgrade error:", err)
			return
		}

		client := &Client{
			conn:     conn,
			send:     make(chan any, 8),
			playerID: uuid.NewString(),
			limiter:  rate.NewLimiter(rate.Every(50*time.Millisecond), 25),
		}

		hub.register <- client

		go client.writePump()
		client.readPump(hub)
	}
}

func (c *Client) readPump(h *Hub) {
	defer func() {
		h.unreg <- c
		_ = c.conn.Close()
	}()

	for {
		var msg ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}

		if !c.limiter.Allow() {
			continue
		}

		switch msg.Type {
		case "setName", "startGame", "submitCards", "placeCard",
			"submitAnswer", "useParentHint", "useChildHint":
			h.intents <- intentEnvelope{
				client: c,
				msg:    msg,
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

// QR handler: generates a PNG QR code for the current game URL using go-qrcode.
func qrHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	gameID := ps.ByName("gameid")
	if gameID == "" {
		http.Error(w, "missing game id", http.StatusBadRequest)
		return
	}

	// Derive scheme (respecting TLS and X-Forwarded-Proto if present).
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}

	// We are at /.../:gameid/qr; strip trailing "/qr" to get the game URL.
	path := strings.TrimSuffix(r.URL.Path, "/qr")

	url := scheme + "://" + r.Host + path

	const qrSize = 320 // mobile-friendly size
	png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
	if err != nil {
		http.Error(w, "qr generation failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}

// ---- Static file paths ----

//go:embed assets/wordbridge/index.html
var indexHTML []byte

//go:embed assets/wordbridge/app.css
var wordbridgeCSS []byte

//go:embed assets/wordbridge/app.js
var wordbridgeJS []byte

func getIndexHandler(cfg *Config) func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Header().Set("Expires", time.Now().Add(time.Hour).UTC().Format(http.TimeFormat))
		securityHeaders(cfg, w)

		_, _ = w.Write(indexHTML)
	}
}

func getCssHandler(cfg *Config) func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.Header().Set("Content-Type", "text/css; charset=utf-8")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Header().Set("Expires", time.Now().Add(time.Hour).UTC().Format(http.TimeFormat))
		securityHeaders(cfg, w)

		_, _ = w.Write(wordbridgeCSS)
	}
}

func getJsHandler(cfg *Config) func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Header().Set("Expires", time.Now().Add(time.Hour).UTC().Format(http.TimeFormat))
		securityHeaders(cfg, w)

		_, _ = w.Write(wordbridgeJS)
	}
}

// redirectNewGame handles GET /path by generating a new random game ID
// (with server-side collision detection) and redirecting to /path/:gameid.
func redirectNewGame(cfg *Config, path string, gm *GameManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		gameID := gm.newGameID()
		logf(cfg, "GAMES: Created game %s/%s", path, gameID)
		http.Redirect(w, r, path+"/"+gameID, http.StatusTemporaryRedirect)
	}
}

// registerWordbridgeGame sets up routes so that:
//   - $path                  → redirects to new random game (8-char ID)
//   - $path/:gameid          → HTML client
//   - $path/:gameid/ws       → WebSocket for that game
//   - $path/:gameid/qr       → PNG QR code for that game URL
func registerWordbridgeGame(cfg *Config, path string, mux *httprouter.Router) {
	gm := newGameManager(cfg.sessionTimeout)

	// Root path → redirect to new random game
	mux.GET(path, redirectNewGame(cfg, path, gm))

	// Per-game client view (HTML)
	mux.GET(cfg.prefix+path+"/:gameid", getIndexHandler(cfg))

	// Shared assets (no gameid in route)
	mux.GET(cfg.prefix+"/assets/wordbridge/app.css", getCssHandler(cfg))
	mux.GET(cfg.prefix+"/assets/wordbridge/app.js", getJsHandler(cfg))

	// Per-game websocket
	mux.GET(cfg.prefix+path+"/:gameid/ws", serveWSForManager(cfg, gm))

	// Per-game QR code
	mux.GET(cfg.prefix+path+"/:gameid/qr", qrHandler)
}
