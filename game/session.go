package game

import (
	"fmt"
	"time"

	"geoquiz/models"

	"github.com/shopspring/decimal"
)

// Settings are chosen by the host when creating a session.
type Settings struct {
	MaxPlayers      int  `json:"maxPlayers"`
	DurationMinutes int  `json:"durationMinutes"`
	Solo            bool `json:"solo"`
}

// StepKind names an automatic transition applied by Tick.
type StepKind string

const (
	StepCountdownStarted StepKind = "countdown_started"
	StepGameStarted      StepKind = "game_started"
	StepTurnTimedOut     StepKind = "turn_timed_out"
	StepGameFinished     StepKind = "game_finished"
)

type Step struct {
	Kind    StepKind
	Outcome *models.TurnOutcome
}

// NewPlayer builds a fresh, connected, not-ready player.
func NewPlayer(id, displayName string, now time.Time) models.Player {
	return models.Player{
		ID:               id,
		DisplayName:      displayName,
		Score:            decimal.Zero,
		CountriesGuessed: []string{},
		IsConnected:      true,
		LastSeenAt:       now,
	}
}

// NewSession creates a Waiting session owned by host. Solo sessions have a
// single seat, a ready host, and go straight to Countdown.
func NewSession(id, code string, host models.Player, settings Settings, rules Rules, now time.Time) (*models.GameSession, error) {
	if settings.Solo {
		settings.MaxPlayers = 1
	} else if settings.MaxPlayers < MinPlayersToForce || settings.MaxPlayers > rules.MaxPlayers {
		return nil, fmt.Errorf("%w: max players must be between %d and %d", ErrInvalidSettings, MinPlayersToForce, rules.MaxPlayers)
	}
	if settings.DurationMinutes < 1 || settings.DurationMinutes > rules.MaxDurationMinutes {
		return nil, fmt.Errorf("%w: duration must be between 1 and %d minutes", ErrInvalidSettings, rules.MaxDurationMinutes)
	}
	if !ValidCode(code) {
		return nil, fmt.Errorf("%w: bad session code %q", ErrInvalidSettings, code)
	}
	host.IsReady = settings.Solo
	s := &models.GameSession{
		ID:                   id,
		Code:                 code,
		HostPlayerID:         host.ID,
		Players:              []models.Player{host},
		MaxPlayers:           settings.MaxPlayers,
		DurationMinutes:      settings.DurationMinutes,
		Solo:                 settings.Solo,
		Status:               models.StatusWaiting,
		GuessedCountries:     []string{},
		WaitingRoomStartTime: now,
	}
	if ShouldAutoCountdown(s) {
		beginCountdown(s, now)
	}
	return s, nil
}

// AddPlayer seats p at the end of the rotation.
func AddPlayer(s *models.GameSession, p models.Player) error {
	if s.Status != models.StatusWaiting {
		return ErrStaleState
	}
	if s.PlayerIndex(p.ID) >= 0 {
		return ErrAlreadyJoined
	}
	if len(s.Players) >= s.MaxPlayers {
		return ErrCapacity
	}
	s.Players = append(s.Players, p)
	return nil
}

// RemovePlayer drops playerID from the rotation. The acting player is
// re-resolved by id afterwards, so an index shift never hands the turn to
// the wrong player. Leaves an empty Players slice when the last one goes.
func RemovePlayer(s *models.GameSession, playerID string, now time.Time) error {
	idx := s.PlayerIndex(playerID)
	if idx < 0 {
		return ErrNotInSession
	}
	actingID := ""
	if acting := ActingPlayer(s); acting != nil {
		actingID = acting.ID
	}
	s.Players = append(s.Players[:idx:idx], s.Players[idx+1:]...)
	if len(s.Players) == 0 {
		s.CurrentTurnIndex = 0
		s.CurrentTurnState = nil
		return nil
	}
	if s.HostPlayerID == playerID {
		s.HostPlayerID = s.Players[0].ID
	}
	if s.Status == models.StatusCountdown && !s.Solo && len(s.Players) < MinPlayersToForce {
		// too few left to play; back to the lobby
		s.Status = models.StatusWaiting
		s.CountdownStartTime = nil
		return nil
	}
	if s.Status != models.StatusPlaying {
		return nil
	}
	if actingID == playerID {
		// whoever followed the leaver now sits at idx
		s.CurrentTurnIndex = idx % len(s.Players)
		s.CurrentTurnState = nil
		s.TurnStartTime = &now
		return nil
	}
	s.CurrentTurnIndex = s.PlayerIndex(actingID)
	return nil
}

func SetReady(s *models.GameSession, playerID string, ready bool) error {
	if s.Status != models.StatusWaiting {
		return ErrStaleState
	}
	p := s.Player(playerID)
	if p == nil {
		return ErrNotInSession
	}
	p.IsReady = ready
	return nil
}

// ShouldAutoCountdown is true for a full lobby where everyone is ready.
func ShouldAutoCountdown(s *models.GameSession) bool {
	if s.Status != models.StatusWaiting || len(s.Players) != s.MaxPlayers {
		return false
	}
	for _, p := range s.Players {
		if !p.IsReady {
			return false
		}
	}
	return true
}

// StartCountdown is the host forcing the start. Repeating it while the
// countdown runs is a no-op.
func StartCountdown(s *models.GameSession, requesterID string, now time.Time) error {
	if s.Status == models.StatusCountdown {
		return nil
	}
	if s.Status != models.StatusWaiting {
		return ErrStaleState
	}
	if s.PlayerIndex(requesterID) < 0 {
		return ErrNotInSession
	}
	if s.HostPlayerID != requesterID {
		return ErrNotHost
	}
	if !s.Solo && len(s.Players) < MinPlayersToForce {
		return ErrNotEnoughPlayers
	}
	beginCountdown(s, now)
	return nil
}

func beginCountdown(s *models.GameSession, now time.Time) {
	s.Status = models.StatusCountdown
	s.CountdownStartTime = &now
}

// StartGame moves Countdown to Playing once the countdown has run out.
// Calling it on a session that is already Playing is a no-op.
func StartGame(s *models.GameSession, now time.Time, rules Rules) error {
	if s.Status == models.StatusPlaying {
		return nil
	}
	if s.Status != models.StatusCountdown || s.CountdownStartTime == nil {
		return ErrStaleState
	}
	if now.Sub(*s.CountdownStartTime) < rules.CountdownDuration {
		return ErrCountdownPending
	}
	beginPlaying(s, now)
	return nil
}

func beginPlaying(s *models.GameSession, now time.Time) {
	end := now.Add(time.Duration(s.DurationMinutes) * time.Minute)
	s.Status = models.StatusPlaying
	s.StartTime = &now
	s.EndTime = &end
	s.CurrentTurnIndex = 0
	s.CurrentTurnState = nil
	s.TurnStartTime = &now
}

// Finish ends the session. It reports false when it was already finished.
func Finish(s *models.GameSession, now time.Time) bool {
	if s.Status == models.StatusFinished {
		return false
	}
	s.Status = models.StatusFinished
	s.CurrentTurnState = nil
	s.FinishedAt = &now
	return true
}

// MarkPresence records a heartbeat (connected) or a disconnect.
func MarkPresence(s *models.GameSession, playerID string, connected bool, now time.Time) error {
	p := s.Player(playerID)
	if p == nil {
		return ErrNotInSession
	}
	p.IsConnected = connected
	p.LastSeenAt = now
	return nil
}

// MarkStale flips players not seen within after to disconnected and returns
// their ids.
func MarkStale(s *models.GameSession, now time.Time, after time.Duration) []string {
	var stale []string
	for i := range s.Players {
		p := &s.Players[i]
		if p.IsConnected && now.Sub(p.LastSeenAt) > after {
			p.IsConnected = false
			stale = append(stale, p.ID)
		}
	}
	return stale
}

// NextDeadline is the earliest instant at which Tick could change s.
func NextDeadline(s *models.GameSession, rules Rules) (time.Time, bool) {
	switch s.Status {
	case models.StatusCountdown:
		if s.CountdownStartTime != nil {
			return s.CountdownStartTime.Add(rules.CountdownDuration), true
		}
	case models.StatusPlaying:
		var next time.Time
		if s.TurnStartTime != nil && len(s.Players) > 0 {
			next = s.TurnStartTime.Add(rules.TurnDuration)
		}
		if s.EndTime != nil && (next.IsZero() || s.EndTime.Before(next)) {
			next = *s.EndTime
		}
		return next, !next.IsZero()
	}
	return time.Time{}, false
}

// Tick applies every automatic transition that is due at now.
func Tick(s *models.GameSession, now time.Time, rules Rules) []Step {
	var steps []Step
	if ShouldAutoCountdown(s) {
		beginCountdown(s, now)
		steps = append(steps, Step{Kind: StepCountdownStarted})
	}
	if s.Status == models.StatusCountdown && StartGame(s, now, rules) == nil {
		steps = append(steps, Step{Kind: StepGameStarted})
	}
	if s.Status != models.StatusPlaying {
		return steps
	}
	if s.EndTime != nil && !now.Before(*s.EndTime) {
		Finish(s, now)
		return append(steps, Step{Kind: StepGameFinished})
	}
	if len(s.Players) > 0 && s.TurnStartTime != nil && now.Sub(*s.TurnStartTime) >= rules.TurnDuration {
		outcome := timeoutTurn(s, now)
		steps = append(steps, Step{Kind: StepTurnTimedOut, Outcome: &outcome})
	}
	return steps
}

// Redact returns a copy safe to show to any client: the country of a turn
// still in progress is removed.
func Redact(s *models.GameSession) *models.GameSession {
	c := s.Clone()
	if c != nil && c.CurrentTurnState != nil {
		c.CurrentTurnState.Country = nil
	}
	return c
}
