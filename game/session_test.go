package game

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"geoquiz/models"
)

var testStart = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newLobby(t *testing.T, seats int, players ...string) *models.GameSession {
	t.Helper()
	host := NewPlayer(players[0], "Player "+players[0], testStart)
	s, err := NewSession("sess-1", "ABC123", host, Settings{MaxPlayers: seats, DurationMinutes: 30}, DefaultRules(), testStart)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	for _, id := range players[1:] {
		if err := AddPlayer(s, NewPlayer(id, "Player "+id, testStart)); err != nil {
			t.Fatalf("add %s: %v", id, err)
		}
	}
	return s
}

// playingSession returns a session of n players p0..pn-1 already in Playing.
func playingSession(t *testing.T, n int) (*models.GameSession, time.Time) {
	t.Helper()
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("p%d", i)
	}
	s := newLobby(t, max(n, MinPlayersToForce), ids...)
	if err := StartCountdown(s, "p0", testStart); err != nil {
		t.Fatalf("countdown: %v", err)
	}
	now := testStart.Add(DefaultRules().CountdownDuration)
	if err := StartGame(s, now, DefaultRules()); err != nil {
		t.Fatalf("start: %v", err)
	}
	return s, now
}

func TestNewSessionValidation(t *testing.T) {
	rules := DefaultRules()
	host := NewPlayer("h", "Host", testStart)
	tests := []struct {
		name     string
		code     string
		settings Settings
	}{
		{"too few seats", "ABC123", Settings{MaxPlayers: 1, DurationMinutes: 10}},
		{"too many seats", "ABC123", Settings{MaxPlayers: rules.MaxPlayers + 1, DurationMinutes: 10}},
		{"zero duration", "ABC123", Settings{MaxPlayers: 4, DurationMinutes: 0}},
		{"bad code", "abc", Settings{MaxPlayers: 4, DurationMinutes: 10}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewSession("id", tt.code, host, tt.settings, rules, testStart); !errors.Is(err, ErrInvalidSettings) {
				t.Fatalf("expected ErrInvalidSettings, got %v", err)
			}
		})
	}
}

func TestSoloSessionCountsDownImmediately(t *testing.T) {
	host := NewPlayer("h", "Host", testStart)
	s, err := NewSession("id", "SOLO01", host, Settings{MaxPlayers: 5, DurationMinutes: 5, Solo: true}, DefaultRules(), testStart)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if s.MaxPlayers != 1 || s.Status != models.StatusCountdown {
		t.Fatalf("expected single-seat countdown, got max=%d status=%s", s.MaxPlayers, s.Status)
	}
}

func TestReadyLobbyStartsOnItsOwn(t *testing.T) {
	rules := DefaultRules()
	s := newLobby(t, 2, "a", "b")
	if err := SetReady(s, "a", true); err != nil {
		t.Fatalf("ready a: %v", err)
	}
	if steps := Tick(s, testStart, rules); len(steps) != 0 {
		t.Fatalf("expected no steps with one ready player, got %+v", steps)
	}
	if err := SetReady(s, "b", true); err != nil {
		t.Fatalf("ready b: %v", err)
	}

	steps := Tick(s, testStart.Add(time.Second), rules)
	if len(steps) != 1 || steps[0].Kind != StepCountdownStarted || s.Status != models.StatusCountdown {
		t.Fatalf("expected countdown, got %+v status=%s", steps, s.Status)
	}
	deadline, ok := NextDeadline(s, rules)
	if !ok || !deadline.Equal(testStart.Add(time.Second+rules.CountdownDuration)) {
		t.Fatalf("unexpected countdown deadline %v", deadline)
	}

	if steps := Tick(s, deadline.Add(-time.Millisecond), rules); len(steps) != 0 {
		t.Fatalf("game started early: %+v", steps)
	}
	steps = Tick(s, deadline, rules)
	if len(steps) != 1 || steps[0].Kind != StepGameStarted {
		t.Fatalf("expected game start, got %+v", steps)
	}
	if s.Status != models.StatusPlaying || ActingPlayer(s).ID != "a" {
		t.Fatalf("expected a to act first, status=%s", s.Status)
	}
	if !s.EndTime.Equal(deadline.Add(30 * time.Minute)) {
		t.Fatalf("unexpected end time %v", s.EndTime)
	}
}

func TestAddPlayerLimits(t *testing.T) {
	s := newLobby(t, 2, "a", "b")
	if err := AddPlayer(s, NewPlayer("c", "C", testStart)); !errors.Is(err, ErrCapacity) {
		t.Fatalf("expected ErrCapacity, got %v", err)
	}
	if err := AddPlayer(s, NewPlayer("a", "A", testStart)); !errors.Is(err, ErrAlreadyJoined) {
		t.Fatalf("expected ErrAlreadyJoined, got %v", err)
	}
	s.Status = models.StatusPlaying
	if err := AddPlayer(s, NewPlayer("d", "D", testStart)); !errors.Is(err, ErrStaleState) {
		t.Fatalf("expected ErrStaleState, got %v", err)
	}
}

func TestStartCountdownRules(t *testing.T) {
	s := newLobby(t, 4, "a")
	if err := StartCountdown(s, "a", testStart); !errors.Is(err, ErrNotEnoughPlayers) {
		t.Fatalf("expected ErrNotEnoughPlayers, got %v", err)
	}
	if err := AddPlayer(s, NewPlayer("b", "B", testStart)); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := StartCountdown(s, "b", testStart); !errors.Is(err, ErrNotHost) {
		t.Fatalf("expected ErrNotHost, got %v", err)
	}
	if err := StartCountdown(s, "a", testStart); err != nil {
		t.Fatalf("countdown: %v", err)
	}
	later := testStart.Add(time.Second)
	if err := StartCountdown(s, "a", later); err != nil {
		t.Fatalf("repeat countdown should be a no-op: %v", err)
	}
	if !s.CountdownStartTime.Equal(testStart) {
		t.Fatalf("repeat countdown moved the start time")
	}
	if err := StartGame(s, later, DefaultRules()); !errors.Is(err, ErrCountdownPending) {
		t.Fatalf("expected ErrCountdownPending, got %v", err)
	}
}

func TestStartGameIsIdempotent(t *testing.T) {
	s, now := playingSession(t, 2)
	started := *s.StartTime
	if err := StartGame(s, now.Add(time.Minute), DefaultRules()); err != nil {
		t.Fatalf("second start: %v", err)
	}
	if !s.StartTime.Equal(started) {
		t.Fatalf("second start changed start time")
	}
}

func TestFinishIsIdempotent(t *testing.T) {
	s, now := playingSession(t, 2)
	if !Finish(s, now) {
		t.Fatalf("first finish should report true")
	}
	if Finish(s, now.Add(time.Second)) {
		t.Fatalf("second finish should report false")
	}
	if !s.FinishedAt.Equal(now) {
		t.Fatalf("finish time moved")
	}
}

func TestTickFinishesAtEndTime(t *testing.T) {
	rules := DefaultRules()
	s, _ := playingSession(t, 2)
	steps := Tick(s, *s.EndTime, rules)
	if len(steps) != 1 || steps[0].Kind != StepGameFinished || s.Status != models.StatusFinished {
		t.Fatalf("expected finish, got %+v status=%s", steps, s.Status)
	}
}

func TestTickTimesOutTurn(t *testing.T) {
	rules := DefaultRules()
	s, now := playingSession(t, 2)
	steps := Tick(s, now.Add(rules.TurnDuration), rules)
	if len(steps) != 1 || steps[0].Kind != StepTurnTimedOut {
		t.Fatalf("expected timeout, got %+v", steps)
	}
	if steps[0].Outcome.Outcome != string(MatchTimeout) || ActingPlayer(s).ID != "p1" {
		t.Fatalf("unexpected outcome %+v acting=%s", steps[0].Outcome, ActingPlayer(s).ID)
	}
	p0 := s.Player("p0")
	if p0.TurnsPlayed != 1 || p0.TurnsSkipped != 0 {
		t.Fatalf("timeout should count as played but not skipped: %+v", p0)
	}
}

func TestRotationCycles(t *testing.T) {
	s, now := playingSession(t, 3)
	want := []string{"p0", "p1", "p2", "p0", "p1", "p2", "p0"}
	for i, id := range want {
		if got := ActingPlayer(s).ID; got != id {
			t.Fatalf("turn %d: expected %s, got %s", i, id, got)
		}
		if _, err := SkipTurn(s, id, now); err != nil {
			t.Fatalf("skip %d: %v", i, err)
		}
	}
}

func TestRemoveDuringCountdownReturnsToLobby(t *testing.T) {
	rules := DefaultRules()
	s := newLobby(t, 2, "p0", "p1")
	if err := StartCountdown(s, "p0", testStart); err != nil {
		t.Fatalf("countdown: %v", err)
	}
	if err := RemovePlayer(s, "p1", testStart); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if s.Status != models.StatusWaiting || s.CountdownStartTime != nil {
		t.Fatalf("expected an open lobby, got %s", s.Status)
	}
	if _, ok := NextDeadline(s, rules); ok {
		t.Fatalf("a waiting lobby has no deadline")
	}
	Tick(s, testStart.Add(rules.CountdownDuration+time.Second), rules)
	if s.Status != models.StatusWaiting {
		t.Fatalf("lone player should not start, got %s", s.Status)
	}
}

func TestRemoveDuringCountdownKeepsEnoughPlayers(t *testing.T) {
	s := newLobby(t, 3, "p0", "p1", "p2")
	if err := StartCountdown(s, "p0", testStart); err != nil {
		t.Fatalf("countdown: %v", err)
	}
	if err := RemovePlayer(s, "p2", testStart); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if s.Status != models.StatusCountdown {
		t.Fatalf("two players left, countdown should run on, got %s", s.Status)
	}
}

func TestRemoveActingPlayerPassesTurn(t *testing.T) {
	s, now := playingSession(t, 3)
	if _, err := SkipTurn(s, "p0", now); err != nil {
		t.Fatalf("skip: %v", err)
	}
	rollFixed(t, s, "p1", "Peru", now)
	if err := RemovePlayer(s, "p1", now); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if got := ActingPlayer(s).ID; got != "p2" {
		t.Fatalf("expected p2 to act, got %s", got)
	}
	if s.CurrentTurnState != nil {
		t.Fatalf("leaver's turn state should be cleared")
	}
}

func TestRemoveLastInRotationWraps(t *testing.T) {
	s, now := playingSession(t, 3)
	for _, id := range []string{"p0", "p1"} {
		if _, err := SkipTurn(s, id, now); err != nil {
			t.Fatalf("skip %s: %v", id, err)
		}
	}
	if err := RemovePlayer(s, "p2", now); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if got := ActingPlayer(s).ID; got != "p0" {
		t.Fatalf("expected wrap to p0, got %s", got)
	}
}

func TestRemoveEarlierPlayerKeepsActingPlayer(t *testing.T) {
	s, now := playingSession(t, 3)
	for _, id := range []string{"p0", "p1"} {
		if _, err := SkipTurn(s, id, now); err != nil {
			t.Fatalf("skip %s: %v", id, err)
		}
	}
	if err := RemovePlayer(s, "p0", now); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if got := ActingPlayer(s).ID; got != "p2" {
		t.Fatalf("expected p2 to keep the turn, got %s", got)
	}
	if s.HostPlayerID != "p1" {
		t.Fatalf("expected host handed to p1, got %s", s.HostPlayerID)
	}
}

func TestMarkStale(t *testing.T) {
	s := newLobby(t, 3, "a", "b")
	if err := MarkPresence(s, "b", true, testStart.Add(40*time.Second)); err != nil {
		t.Fatalf("presence: %v", err)
	}
	stale := MarkStale(s, testStart.Add(45*time.Second), 30*time.Second)
	if len(stale) != 1 || stale[0] != "a" {
		t.Fatalf("expected only a stale, got %v", stale)
	}
	if s.Player("a").IsConnected || !s.Player("b").IsConnected {
		t.Fatalf("unexpected connection flags")
	}
}

func TestRedactHidesCountry(t *testing.T) {
	s, now := playingSession(t, 2)
	rollFixed(t, s, "p0", "Kenya", now)
	r := Redact(s)
	if r.CurrentTurnState.Country != nil {
		t.Fatalf("redacted copy leaks the country")
	}
	if s.CurrentTurnState.Country == nil || *s.CurrentTurnState.Country != "Kenya" {
		t.Fatalf("redaction modified the original")
	}
}

func TestGenerateCode(t *testing.T) {
	for i := 0; i < 50; i++ {
		code := GenerateCode()
		if !ValidCode(code) {
			t.Fatalf("generated invalid code %q", code)
		}
	}
	if NormalizeCode(" abc123 ") != "ABC123" {
		t.Fatalf("code normalization failed")
	}
}
