package main

import (
	"errors"
	"strconv"
	"strings"
)

// Rejection reasons surfaced to out-of-sync clients. The error text doubles
// as the wire-level reason code.
var (
	errInvalidState   = errors.New("invalidState")
	errMalformedInput = errors.New("malformedInput")
	errNotFound       = errors.New("notFound")
)

const cardsPerChild = 3

type gamePhase int

const (
	phaseLobby gamePhase = iota
	phaseValueUnification
	phaseCardEntry
	phaseTransmission
	phaseSettling
	phaseGameEnd
)

func (p gamePhase) String() string {
	switch p {
	case phaseLobby:
		return "lobby"
	case phaseValueUnification:
		return "valueUnification"
	case phaseCardEntry:
		return "cardEntry"
	case phaseTransmission:
		return "transmission"
	case phaseSettling:
		return "settling"
	case phaseGameEnd:
		return "gameEnd"
	}
	return "unknown"
}

type playerRole int

const (
	roleHost playerRole = iota
	roleParent
	roleChild
)

// Player holds pure game data. Connection handles live with the hub's
// clients, never here.
type Player struct {
	ID    string
	Name  string
	Score int
	Cards []string
}

// outbound is a single protocol message addressed either to one player
// (to set) or to every connected client (to empty).
type outbound struct {
	to  string
	msg any
}

func broadcastTo(msg any) outbound {
	return outbound{msg: msg}
}

func sendTo(id string, msg any) outbound {
	return outbound{to: id, msg: msg}
}

// Session is the full state of one game: player registry, round engine, and
// scoring. Methods mutate freely and return the protocol messages the change
// produced; serialization of calls is the hub's responsibility.
type Session struct {
	players []*Player // registration order
	hostID  string    // first player to set a name; never reassigned

	started    bool
	phase      gamePhase
	turnOrder  []string // fixed at game start, not pruned on disconnect
	turnIndex  int
	round      int
	roundLimit int

	parentID              string
	category              string
	secretWord            string
	cardsOnMap            []PlacedCard
	childCards            []string
	correctAnswerReceived bool
	parentHintUsed        bool

	catalog *Catalog
	pick    func(n int) int // uniform index picker
	shuffle func(ids []string)
}

func newSession(catalog *Catalog) *Session {
	return &Session{
		phase:   phaseLobby,
		catalog: catalog,
		pick:    randIndex,
		shuffle: shuffleIDs,
	}
}

func (s *Session) findPlayer(id string) *Player {
	for _, p := range s.players {
		if p.ID == id {
			return p
		}
	}
	return nil
}

// authorize is the single role gate invoked before every dispatch.
func (s *Session) authorize(id string, role playerRole) error {
	if s.findPlayer(id) == nil {
		return errNotFound
	}

	switch role {
	case roleHost:
		if id != s.hostID {
			return errInvalidState
		}
	case roleParent:
		if id != s.parentID {
			return errInvalidState
		}
	case roleChild:
		if id == s.parentID {
			return errInvalidState
		}
	}

	return nil
}

// Register adds a freshly connected player with a default name and the
// starting score of 10.
func (s *Session) Register(id string) []outbound {
	name := "Player " + strconv.Itoa(len(s.players)+1)
	s.players = append(s.players, &Player{
		ID:    id,
		Name:  name,
		Score: 10,
	})

	return []outbound{
		sendTo(id, PlayerAssignedMessage{Type: "playerAssigned", PlayerID: id}),
		broadcastTo(s.stateMessage()),
	}
}

// SetName stores a display name. The first player to set one becomes host,
// first-writer-wins, and the host role is never handed out again.
func (s *Session) SetName(id, name string) ([]outbound, error) {
	if s.phase == phaseGameEnd {
		return nil, errInvalidState
	}

	p := s.findPlayer(id)
	if p == nil {
		return nil, errNotFound
	}

	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errMalformedInput
	}

	p.Name = name
	if s.hostID == "" {
		s.hostID = id
	}

	return []outbound{broadcastTo(s.stateMessage())}, nil
}

// RemovePlayer drops a disconnected player from the registry. The turn order
// keeps the stale ID; parent selection skips it. A parent disconnecting
// mid-round settles the round on the spot so the session can never wedge,
// and a departing child may have been the last card-entry holdout.
func (s *Session) RemovePlayer(id string) (events []outbound, settled bool) {
	found := false
	dst := s.players[:0]
	for _, p := range s.players {
		if p.ID == id {
			found = true
			continue
		}
		dst = append(dst, p)
	}
	s.players = dst

	if !found {
		return nil, false
	}

	events = []outbound{broadcastTo(s.stateMessage())}

	switch s.phase {
	case phaseCardEntry, phaseTransmission:
		if id == s.parentID {
			events = append(events, s.settleRound()...)
			return events, true
		}
		events = append(events, s.maybeFinishCardEntry()...)
	}

	return events, false
}

// StartGame fixes the turn order and round limit, then begins round 1.
func (s *Session) StartGame(id string) ([]outbound, error) {
	if err := s.authorize(id, roleHost); err != nil {
		return nil, err
	}
	if s.phase != phaseLobby || s.started || len(s.players) < 1 {
		return nil, errInvalidState
	}

	ids := make([]string, 0, len(s.players))
	for _, p := range s.players {
		ids = append(ids, p.ID)
	}
	s.shuffle(ids)

	s.started = true
	s.turnOrder = ids
	s.turnIndex = 0
	s.round = 1
	s.roundLimit = len(s.players) * 2

	events := []outbound{broadcastTo(s.stateMessage())}

	return append(events, s.beginRound()...), nil
}

// beginRound draws a fresh category and secret word, resets the one-shot
// flags, and announces the round. The value-unification phase is pre-round
// client choreography only, so it advances straight into card entry.
func (s *Session) beginRound() []outbound {
	if s.round > s.roundLimit {
		return s.endGame()
	}

	parentID := ""
	for range s.turnOrder {
		if p := s.findPlayer(s.turnOrder[s.turnIndex]); p != nil {
			parentID = p.ID
			break
		}
		s.turnIndex = (s.turnIndex + 1) % len(s.turnOrder)
	}
	if parentID == "" {
		return s.endGame()
	}

	s.parentID = parentID
	s.category, s.secretWord = s.catalog.Draw(s.pick)
	s.cardsOnMap = nil
	s.childCards = nil
	s.correctAnswerReceived = false
	s.parentHintUsed = false

	for _, p := range s.players {
		p.Cards = nil
	}

	parent := s.findPlayer(parentID)

	s.phase = phaseValueUnification
	events := []outbound{
		// The original never told the parent the word; without this the
		// round cannot be played.
		sendTo(parentID, SecretWordMessage{
			Type:     "secretWord",
			Word:     s.secretWord,
			Category: s.category,
		}),
		broadcastTo(RoundStartMessage{
			Type:             "roundStart",
			Round:            s.round,
			ParentPlayerID:   parent.ID,
			ParentPlayerName: parent.Name,
			Category:         s.category,
		}),
		broadcastTo(PhaseMessage{Type: "startPhase", Phase: phaseValueUnification.String()}),
	}

	s.phase = phaseCardEntry
	events = append(events,
		broadcastTo(PhaseMessage{Type: "startPhase", Phase: phaseCardEntry.String()}),
		broadcastTo(s.stateMessage()),
	)

	return events
}

// SubmitCards records a child's clue cards, exactly three per player,
// last write wins until the set completes.
func (s *Session) SubmitCards(id string, cards []string) ([]outbound, error) {
	if s.phase != phaseCardEntry {
		return nil, errInvalidState
	}
	if err := s.authorize(id, roleChild); err != nil {
		return nil, err
	}

	if len(cards) != cardsPerChild {
		return nil, errMalformedInput
	}
	trimmed := make([]string, cardsPerChild)
	for i, card := range cards {
		card = strings.TrimSpace(card)
		if card == "" {
			return nil, errMalformedInput
		}
		trimmed[i] = card
	}

	s.findPlayer(id).Cards = trimmed

	events := []outbound{broadcastTo(s.stateMessage())}

	return append(events, s.maybeFinishCardEntry()...), nil
}

// maybeFinishCardEntry advances to the transmission phase once every
// registered non-parent player holds a complete card set. Child cards are
// flattened in registry order, not turn order.
func (s *Session) maybeFinishCardEntry() []outbound {
	if s.phase != phaseCardEntry {
		return nil
	}

	for _, p := range s.players {
		if p.ID == s.parentID {
			continue
		}
		if len(p.Cards) != cardsPerChild {
			return nil
		}
	}

	childCards := []string{}
	for _, p := range s.players {
		if p.ID == s.parentID {
			continue
		}
		childCards = append(childCards, p.Cards...)
	}

	s.childCards = childCards
	s.phase = phaseTransmission

	return []outbound{
		broadcastTo(PhaseMessage{
			Type:  "startPhase",
			Phase: phaseTransmission.String(),
			Data:  &PhaseData{ChildCards: childCards},
		}),
	}
}

// PlaceCard appends a card to the board. Placements are append-only within
// a round; each one republishes the full state snapshot.
func (s *Session) PlaceCard(id, text, position, direction string) ([]outbound, error) {
	if s.phase != phaseTransmission {
		return nil, errInvalidState
	}
	if err := s.authorize(id, roleParent); err != nil {
		return nil, err
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errMalformedInput
	}

	s.cardsOnMap = append(s.cardsOnMap, PlacedCard{
		Text:      text,
		PlayerID:  s.parentID,
		Position:  position,
		Direction: direction,
	})

	return []outbound{broadcastTo(s.stateMessage())}, nil
}

// SubmitAnswer adjudicates a child's guess against the secret word using
// exact, case-sensitive equality. The first correct answer pays the guesser
// and the parent and settles the round; later correct answers earn a reduced
// bonus without re-triggering settlement. Guesses stay open through the
// settling window so late correct answers can still score.
func (s *Session) SubmitAnswer(id, answer string) (events []outbound, settled bool, err error) {
	if s.phase != phaseTransmission && s.phase != phaseSettling {
		return nil, false, errInvalidState
	}
	if err := s.authorize(id, roleChild); err != nil {
		return nil, false, err
	}
	if strings.TrimSpace(answer) == "" {
		return nil, false, errMalformedInput
	}

	guesser := s.findPlayer(id)

	switch {
	case answer == s.secretWord && !s.correctAnswerReceived:
		s.correctAnswerReceived = true
		guesser.Score += 2
		if parent := s.findPlayer(s.parentID); parent != nil {
			parent.Score += 3
		}

		events = []outbound{
			broadcastTo(AnswerMessage{Type: "correctAnswer", PlayerID: id, Answer: answer}),
			broadcastTo(s.stateMessage()),
		}

		// A round already settling (parent disconnect) must not settle twice.
		if s.phase != phaseTransmission {
			return events, false, nil
		}
		events = append(events, s.settleRound()...)

		return events, true, nil

	case answer == s.secretWord:
		guesser.Score++

		return []outbound{
			broadcastTo(AnswerMessage{Type: "correctAnswer", PlayerID: id, Answer: answer, IsLate: true}),
			broadcastTo(s.stateMessage()),
		}, false, nil

	default:
		return []outbound{
			broadcastTo(AnswerMessage{Type: "incorrectAnswer", PlayerID: id, Answer: answer}),
		}, false, nil
	}
}

// settleRound advances the round counter and parent rotation. The modulus is
// the turn-order length fixed at game start, never the live player count.
func (s *Session) settleRound() []outbound {
	s.round++
	s.turnIndex = (s.turnIndex + 1) % len(s.turnOrder)
	s.phase = phaseSettling

	return []outbound{
		broadcastTo(PhaseMessage{Type: "startPhase", Phase: phaseSettling.String()}),
	}
}

// AdvanceRound runs when the settling delay elapses. A session that emptied
// or ended during the delay stays put.
func (s *Session) AdvanceRound() []outbound {
	if s.phase != phaseSettling {
		return nil
	}

	return s.beginRound()
}

// UseParentHint spends 1 point for the round's single parent hint and
// broadcasts it to every player, parent included.
func (s *Session) UseParentHint(id, hintType string) ([]outbound, error) {
	if s.phase != phaseTransmission {
		return nil, errInvalidState
	}
	if err := s.authorize(id, roleParent); err != nil {
		return nil, err
	}
	if hintType != "length" && hintType != "firstLast" {
		return nil, errMalformedInput
	}

	parent := s.findPlayer(id)
	if s.parentHintUsed || parent.Score < 1 {
		return nil, errInvalidState
	}

	parent.Score--
	s.parentHintUsed = true

	word := []rune(s.secretWord)
	var hint Hint
	if hintType == "length" {
		hint = Hint{Type: "length", Value: len(word)}
	} else {
		hint = Hint{
			Type:  "firstLast",
			First: string(word[0]),
			Last:  string(word[len(word)-1]),
		}
	}

	return []outbound{
		broadcastTo(HintMessage{Type: "parentHint", Hint: hint}),
		broadcastTo(s.stateMessage()),
	}, nil
}

// UseChildHint spends 1 point to deliver a question privately to the parent.
// Unlike the parent hint there is no per-round cap.
func (s *Session) UseChildHint(id, question string) ([]outbound, error) {
	if s.phase != phaseTransmission {
		return nil, errInvalidState
	}
	if err := s.authorize(id, roleChild); err != nil {
		return nil, err
	}

	question = strings.TrimSpace(question)
	if question == "" {
		return nil, errMalformedInput
	}

	caller := s.findPlayer(id)
	if caller.Score < 1 {
		return nil, errInvalidState
	}

	caller.Score--

	return []outbound{
		sendTo(s.parentID, QuestionMessage{Type: "childQuestion", PlayerID: id, Question: question}),
		broadcastTo(s.stateMessage()),
	}, nil
}

// endGame declares the winner: strictly highest score, first-registered
// breaking ties. Terminal; no further game mutations are accepted.
func (s *Session) endGame() []outbound {
	s.phase = phaseGameEnd

	var winner *Player
	for _, p := range s.players {
		if winner == nil || p.Score > winner.Score {
			winner = p
		}
	}

	msg := GameEndMessage{Type: "gameEnd"}
	if winner != nil {
		msg.Winner = &PlayerSnapshot{
			ID:    winner.ID,
			Name:  winner.Name,
			Score: winner.Score,
		}
	}

	return []outbound{
		broadcastTo(msg),
		broadcastTo(s.stateMessage()),
	}
}

// stateMessage builds the full snapshot broadcast after registry or round
// mutations. Player order is registration order.
func (s *Session) stateMessage() GameStateMessage {
	players := make([]PlayerSnapshot, 0, len(s.players))
	for _, p := range s.players {
		players = append(players, PlayerSnapshot{
			ID:        p.ID,
			Name:      p.Name,
			Score:     p.Score,
			Submitted: len(p.Cards) == cardsPerChild,
		})
	}

	hostName := ""
	if host := s.findPlayer(s.hostID); host != nil {
		hostName = host.Name
	}

	return GameStateMessage{
		Type:           "gameStateUpdate",
		Players:        players,
		GameStarted:    s.started,
		HostName:       hostName,
		Phase:          s.phase.String(),
		Round:          s.round,
		ParentPlayerID: s.parentID,
		Category:       s.category,
		CardsOnMap:     s.cardsOnMap,
	}
}
