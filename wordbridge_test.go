package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *Config {
	return &Config{
		maxPlayers: 16,
		roundDelay: 10 * time.Millisecond,
	}
}

// newTestHub returns a hub with pinned randomness whose run loop is NOT
// started; tests drive the handlers directly to stay deterministic.
func newTestHub() *Hub {
	h := newHub("test")
	h.session.pick = func(n int) int { return 0 }
	h.session.shuffle = func(ids []string) {}
	return h
}

func newFakeClient(playerID string) *Client {
	return &Client{
		send:     make(chan any, 64),
		playerID: playerID,
	}
}

func drain(c *Client) []any {
	var out []any
	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return out
			}
			out = append(out, msg)
		default:
			return out
		}
	}
}

func intent(c *Client, msg ClientMessage) intentEnvelope {
	return intentEnvelope{client: c, msg: msg}
}

func TestHubRegisterAssignsPlayer(t *testing.T) {
	cfg := testConfig()
	h := newTestHub()

	alice := newFakeClient("a")
	bob := newFakeClient("b")
	h.handleRegister(cfg, alice)
	h.handleRegister(cfg, bob)

	msgs := drain(alice)
	require.NotEmpty(t, msgs)
	assert.Equal(t, PlayerAssignedMessage{Type: "playerAssigned", PlayerID: "a"}, msgs[0])

	// Both connections observe the registry change.
	var sawState bool
	for _, msg := range drain(bob) {
		if state, ok := msg.(GameStateMessage); ok && len(state.Players) == 2 {
			sawState = true
		}
	}
	assert.True(t, sawState)
}

func TestHubSessionFull(t *testing.T) {
	cfg := testConfig()
	cfg.maxPlayers = 1
	h := newTestHub()

	h.handleRegister(cfg, newFakeClient("a"))

	late := newFakeClient("b")
	h.handleRegister(cfg, late)

	msg, ok := <-late.send
	require.True(t, ok)
	assert.Equal(t, SimpleMessage{Type: "sessionFull", Message: "This game session is full."}, msg)

	_, ok = <-late.send
	assert.False(t, ok, "rejected client's channel is closed")

	assert.Len(t, h.session.players, 1)
}

func TestHubRejectsInvalidIntent(t *testing.T) {
	cfg := testConfig()
	h := newTestHub()

	alice := newFakeClient("a")
	h.handleRegister(cfg, alice)
	drain(alice)

	// No name set yet, so nobody is host and the start must bounce.
	h.handleIntent(cfg, intent(alice, ClientMessage{Type: "startGame"}))

	msgs := drain(alice)
	require.Len(t, msgs, 1)
	assert.Equal(t, RejectedMessage{Type: "rejected", Intent: "startGame", Reason: "invalidState"}, msgs[0])
}

func TestHubRejectionIsPrivate(t *testing.T) {
	cfg := testConfig()
	h := newTestHub()

	alice := newFakeClient("a")
	bob := newFakeClient("b")
	h.handleRegister(cfg, alice)
	h.handleRegister(cfg, bob)
	drain(alice)
	drain(bob)

	h.handleIntent(cfg, intent(bob, ClientMessage{Type: "submitCards", Cards: []string{"x"}}))

	assert.Empty(t, drain(alice), "rejections go to the offender only")
	require.Len(t, drain(bob), 1)
}

func TestHubChildQuestionRoutedToParent(t *testing.T) {
	cfg := testConfig()
	h := newTestHub()

	alice := newFakeClient("a")
	bob := newFakeClient("b")
	h.handleRegister(cfg, alice)
	h.handleRegister(cfg, bob)

	h.handleIntent(cfg, intent(alice, ClientMessage{Type: "setName", Name: "Alice"}))
	h.handleIntent(cfg, intent(alice, ClientMessage{Type: "startGame"}))
	h.handleIntent(cfg, intent(bob, ClientMessage{Type: "submitCards", Cards: []string{"x", "y", "z"}}))
	drain(alice)
	drain(bob)

	h.handleIntent(cfg, intent(bob, ClientMessage{Type: "useChildHint", Question: "Is it alive?"}))

	var aliceGot, bobGot bool
	for _, msg := range drain(alice) {
		if _, ok := msg.(QuestionMessage); ok {
			aliceGot = true
		}
	}
	for _, msg := range drain(bob) {
		if _, ok := msg.(QuestionMessage); ok {
			bobGot = true
		}
	}
	assert.True(t, aliceGot, "parent receives the question")
	assert.False(t, bobGot, "question is not broadcast")
}

func TestHubSettlementTimerAdvancesRound(t *testing.T) {
	cfg := testConfig()
	h := newTestHub()

	alice := newFakeClient("a")
	bob := newFakeClient("b")
	h.handleRegister(cfg, alice)
	h.handleRegister(cfg, bob)

	h.handleIntent(cfg, intent(alice, ClientMessage{Type: "setName", Name: "Alice"}))
	h.handleIntent(cfg, intent(alice, ClientMessage{Type: "startGame"}))
	h.handleIntent(cfg, intent(bob, ClientMessage{Type: "submitCards", Cards: []string{"x", "y", "z"}}))
	h.handleIntent(cfg, intent(bob, ClientMessage{Type: "submitAnswer", Answer: "Lion"}))

	require.Equal(t, phaseSettling, h.session.phase)
	require.NotNil(t, h.roundTimer)

	select {
	case <-h.advance:
	case <-time.After(time.Second):
		t.Fatal("settling timer never fired")
	}

	drain(alice)
	drain(bob)
	h.handleAdvance()

	assert.Equal(t, 2, h.session.round)
	assert.Equal(t, phaseCardEntry, h.session.phase)
	assert.Equal(t, "b", h.session.parentID)

	var sawRoundStart bool
	for _, msg := range drain(bob) {
		if start, ok := msg.(RoundStartMessage); ok && start.Round == 2 {
			sawRoundStart = true
		}
	}
	assert.True(t, sawRoundStart)
}

func TestHubEmptySessionStopsTimer(t *testing.T) {
	cfg := testConfig()
	cfg.roundDelay = time.Hour
	h := newTestHub()

	alice := newFakeClient("a")
	bob := newFakeClient("b")
	h.handleRegister(cfg, alice)
	h.handleRegister(cfg, bob)

	h.handleIntent(cfg, intent(alice, ClientMessage{Type: "setName", Name: "Alice"}))
	h.handleIntent(cfg, intent(alice, ClientMessage{Type: "startGame"}))
	h.handleIntent(cfg, intent(bob, ClientMessage{Type: "submitCards", Cards: []string{"x", "y", "z"}}))
	h.handleIntent(cfg, intent(bob, ClientMessage{Type: "submitAnswer", Answer: "Lion"}))
	require.NotNil(t, h.roundTimer)

	h.handleUnregister(cfg, bob)
	h.handleUnregister(cfg, alice)

	assert.Nil(t, h.roundTimer, "an emptied session must not schedule further rounds")
	assert.Empty(t, h.session.players)
}

func TestGameManagerIDsAreUnique(t *testing.T) {
	gm := newGameManager(0)

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		id := gm.newGameID()
		require.Len(t, id, 8)
		assert.False(t, seen[id])
		seen[id] = true
	}
}

func TestGameManagerReusesHub(t *testing.T) {
	cfg := testConfig()
	gm := newGameManager(0)

	first := gm.getHub(cfg, "abc")
	second := gm.getHub(cfg, "abc")
	other := gm.getHub(cfg, "xyz")

	assert.Same(t, first, second)
	assert.NotSame(t, first, other)
}
