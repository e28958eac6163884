package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type SessionStatus string

const (
	StatusWaiting   SessionStatus = "waiting"
	StatusCountdown SessionStatus = "countdown"
	StatusPlaying   SessionStatus = "playing"
	StatusFinished  SessionStatus = "finished"
)

type HintKind string

const (
	HintRevealLetter HintKind = "reveal_letter"
	HintFlag         HintKind = "flag"
	HintFamousPerson HintKind = "famous_person"
	HintCapital      HintKind = "capital"
	HintFamousPlayer HintKind = "famous_player"
	HintFamousSinger HintKind = "famous_singer"
)

// TurnState is replaced wholesale on every change, never patched.
type TurnState struct {
	PlayerID        string           `json:"playerId"`
	StartedAt       time.Time        `json:"startedAt"`
	Country         *string          `json:"country"`
	DiceRolled      bool             `json:"diceRolled"`
	ModalOpen       bool             `json:"modalOpen"`
	SubmittedAnswer *string          `json:"submittedAnswer"`
	PointsEarned    *decimal.Decimal `json:"pointsEarned"`
	IsCorrect       *bool            `json:"isCorrect"`
	HintsUsed       []HintKind       `json:"hintsUsed"`
}

// GameSession is the shared aggregate stored under sessions/{code}.
type GameSession struct {
	ID                   string        `json:"id"`
	Code                 string        `json:"code"`
	HostPlayerID         string        `json:"hostPlayerId"`
	Players              []Player      `json:"players"`
	MaxPlayers           int           `json:"maxPlayers"`
	DurationMinutes      int           `json:"durationMinutes"`
	Solo                 bool          `json:"solo"`
	Status               SessionStatus `json:"status"`
	CurrentTurnIndex     int           `json:"currentTurnIndex"`
	CurrentTurnState     *TurnState    `json:"currentTurnState"`
	GuessedCountries     []string      `json:"guessedCountries"`
	StartTime            *time.Time    `json:"startTime"`
	EndTime              *time.Time    `json:"endTime"`
	WaitingRoomStartTime time.Time     `json:"waitingRoomStartTime"`
	CountdownStartTime   *time.Time    `json:"countdownStartTime"`
	TurnStartTime        *time.Time    `json:"turnStartTime"`
	FinishedAt           *time.Time    `json:"finishedAt"`
	History              []TurnOutcome `json:"history"`
}

// TurnOutcome is appended to GameSession.History when a turn ends.
type TurnOutcome struct {
	PlayerID  string          `json:"playerId"`
	Country   string          `json:"country"`
	Answer    string          `json:"answer"`
	Outcome   string          `json:"outcome"`
	Points    decimal.Decimal `json:"points"`
	HintsUsed int             `json:"hintsUsed"`
	EndedAt   time.Time       `json:"endedAt"`
}

// PlayerIndex returns the index of the player with the given id, or -1.
func (s *GameSession) PlayerIndex(playerID string) int {
	for i := range s.Players {
		if s.Players[i].ID == playerID {
			return i
		}
	}
	return -1
}

// Player returns a pointer into Players for in-place mutation.
func (s *GameSession) Player(playerID string) *Player {
	if i := s.PlayerIndex(playerID); i >= 0 {
		return &s.Players[i]
	}
	return nil
}

// Clone returns a deep copy so a command can be applied without touching
// the committed snapshot.
func (s *GameSession) Clone() *GameSession {
	if s == nil {
		return nil
	}
	c := *s
	c.Players = make([]Player, len(s.Players))
	for i, p := range s.Players {
		p.CountriesGuessed = append(make([]string, 0, len(p.CountriesGuessed)), p.CountriesGuessed...)
		c.Players[i] = p
	}
	c.GuessedCountries = append(make([]string, 0, len(s.GuessedCountries)), s.GuessedCountries...)
	c.History = append([]TurnOutcome(nil), s.History...)
	c.StartTime = cloneTime(s.StartTime)
	c.EndTime = cloneTime(s.EndTime)
	c.CountdownStartTime = cloneTime(s.CountdownStartTime)
	c.TurnStartTime = cloneTime(s.TurnStartTime)
	c.FinishedAt = cloneTime(s.FinishedAt)
	if s.CurrentTurnState != nil {
		ts := *s.CurrentTurnState
		ts.Country = cloneString(ts.Country)
		ts.SubmittedAnswer = cloneString(ts.SubmittedAnswer)
		if ts.PointsEarned != nil {
			v := *ts.PointsEarned
			ts.PointsEarned = &v
		}
		if ts.IsCorrect != nil {
			v := *ts.IsCorrect
			ts.IsCorrect = &v
		}
		ts.HintsUsed = append(make([]HintKind, 0, len(ts.HintsUsed)), ts.HintsUsed...)
		c.CurrentTurnState = &ts
	}
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
