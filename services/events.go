package services

import (
	"sync"
	"time"

	"geoquiz/models"

	"go.uber.org/zap"
)

type EventType string

const (
	EventPlayerJoined     EventType = "player_joined"
	EventPlayerLeft       EventType = "player_left"
	EventPlayerReady      EventType = "player_ready"
	EventPlayerPresence   EventType = "player_presence"
	EventCountdownStarted EventType = "countdown_started"
	EventGameStarted      EventType = "game_started"
	EventTurnStarted      EventType = "turn_started"
	EventCountryAssigned  EventType = "country_assigned"
	EventHintUsed         EventType = "hint_used"
	EventTurnEnded        EventType = "turn_ended"
	EventGameFinished     EventType = "game_finished"
	EventSessionDeleted   EventType = "session_deleted"

	// EventForcedLogout is only sent to the connection that lost its account.
	EventForcedLogout EventType = "forced_logout"
)

// Event is one committed transition. Session is always the redacted
// snapshot after the transition; Turn is set when a turn ended.
type Event struct {
	Type     EventType           `json:"type"`
	Code     string              `json:"code"`
	Seq      uint64              `json:"seq"`
	At       time.Time           `json:"at"`
	PlayerID string              `json:"playerId,omitempty"`
	Hint     models.HintKind     `json:"hint,omitempty"`
	Session  *models.GameSession `json:"session,omitempty"`
	Turn     *models.TurnOutcome `json:"turn,omitempty"`
}

const watcherBuffer = 64

// feed fans events out to watchers without ever blocking the publisher.
type feed struct {
	code     string
	logger   *zap.Logger
	mu       sync.Mutex
	watchers map[int]chan Event
	nextID   int
	closed   bool
}

func newFeed(code string, logger *zap.Logger) *feed {
	return &feed{code: code, logger: logger, watchers: make(map[int]chan Event)}
}

func (f *feed) subscribe() (<-chan Event, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan Event, watcherBuffer)
	if f.closed {
		close(ch)
		return ch, func() {}
	}
	id := f.nextID
	f.nextID++
	f.watchers[id] = ch
	return ch, func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if w, ok := f.watchers[id]; ok {
			delete(f.watchers, id)
			close(w)
		}
	}
}

func (f *feed) publish(ev Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, ch := range f.watchers {
		select {
		case ch <- ev:
		default:
			f.logger.Warn("dropping event for slow watcher",
				zap.String("code", f.code),
				zap.Int("watcher", id),
				zap.String("type", string(ev.Type)),
				zap.Uint64("seq", ev.Seq))
		}
	}
}

func (f *feed) close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	for id, ch := range f.watchers {
		delete(f.watchers, id)
		close(ch)
	}
}

func (f *feed) size() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.watchers)
}
