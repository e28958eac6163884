package services

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"geoquiz/game"
	"geoquiz/models"
	"geoquiz/store"

	"go.uber.org/zap"
)

const waitTimeout = 2 * time.Second

func testRules() game.Rules {
	rules := game.DefaultRules()
	rules.CountdownDuration = 20 * time.Millisecond
	rules.TurnDuration = time.Hour
	rules.RollDelayMin = 0
	rules.RollDelayMax = 0
	return rules
}

func sequentialCodes() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("GAME%02d", n)
	}
}

func newTestManager(t *testing.T, rules game.Rules, opts ...ManagerOption) (*SessionManager, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	base := []ManagerOption{
		WithCodeGenerator(sequentialCodes()),
		WithRand(rand.New(rand.NewPCG(1, 2))),
	}
	m := NewSessionManager(st, rules, zap.NewNop(), append(base, opts...)...)
	t.Cleanup(m.Close)
	return m, st
}

func subscribe(t *testing.T, m *SessionManager, code string) <-chan Event {
	t.Helper()
	_, events, cancel, err := m.Subscribe(context.Background(), code)
	if err != nil {
		t.Fatalf("subscribe %s: %v", code, err)
	}
	t.Cleanup(cancel)
	return events
}

// waitEvent reads events until one of type want arrives.
func waitEvent(t *testing.T, events <-chan Event, want EventType) Event {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				t.Fatalf("event stream closed while waiting for %s", want)
			}
			if ev.Type == want {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}

func seedPresence(t *testing.T, st store.Store, accountID string) {
	t.Helper()
	rec := models.PresenceRecord{SessionInstanceID: "seed-" + accountID, Connected: true, UpdatedAt: time.Now()}
	if err := store.SetJSON(context.Background(), st, store.PresencePath(accountID), rec); err != nil {
		t.Fatalf("seed presence: %v", err)
	}
}

// playingGame creates a two player session and waits until it is Playing.
func playingGame(t *testing.T, m *SessionManager) (string, <-chan Event) {
	t.Helper()
	ctx := context.Background()
	s, err := m.Create(ctx, "a", "Ana", game.Settings{MaxPlayers: 2, DurationMinutes: 30})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	events := subscribe(t, m, s.Code)
	if _, err := m.Join(ctx, s.Code, "b", "Ben"); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := m.StartCountdown(ctx, s.Code, "a"); err != nil {
		t.Fatalf("countdown: %v", err)
	}
	waitEvent(t, events, EventGameStarted)
	return s.Code, events
}

type recordingArchiver struct {
	mu       sync.Mutex
	archived []*models.GameSession
	done     chan struct{}
}

func newRecordingArchiver() *recordingArchiver {
	return &recordingArchiver{done: make(chan struct{}, 8)}
}

func (r *recordingArchiver) Archive(ctx context.Context, s *models.GameSession) error {
	r.mu.Lock()
	r.archived = append(r.archived, s)
	r.mu.Unlock()
	r.done <- struct{}{}
	return nil
}

func (r *recordingArchiver) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.archived)
}
