package game

import (
	"math/rand/v2"
	"strings"
	"time"

	"geoquiz/models"

	"github.com/shopspring/decimal"
)

// ActingPlayer is the player whose turn it is, or nil outside Playing.
func ActingPlayer(s *models.GameSession) *models.Player {
	if s.Status != models.StatusPlaying || len(s.Players) == 0 {
		return nil
	}
	if s.CurrentTurnIndex < 0 || s.CurrentTurnIndex >= len(s.Players) {
		return nil
	}
	return &s.Players[s.CurrentTurnIndex]
}

func requireActing(s *models.GameSession, playerID string) error {
	if s.Status != models.StatusPlaying {
		return ErrStaleState
	}
	if s.PlayerIndex(playerID) < 0 {
		return ErrNotInSession
	}
	acting := ActingPlayer(s)
	if acting == nil || acting.ID != playerID {
		return ErrNotYourTurn
	}
	return nil
}

// BeginRoll opens the acting player's turn with no country yet.
func BeginRoll(s *models.GameSession, playerID string, now time.Time) error {
	if err := requireActing(s, playerID); err != nil {
		return err
	}
	if s.CurrentTurnState != nil {
		return ErrAlreadyRolled
	}
	s.CurrentTurnState = &models.TurnState{
		PlayerID:  playerID,
		StartedAt: now,
		HintsUsed: []models.HintKind{},
	}
	return nil
}

// AssignCountry finishes the roll by drawing uniformly from the countries
// nobody has guessed yet.
func AssignCountry(s *models.GameSession, playerID string, catalog *Catalog, rng *rand.Rand) (string, error) {
	if err := requireActing(s, playerID); err != nil {
		return "", err
	}
	ts := s.CurrentTurnState
	if ts == nil || ts.PlayerID != playerID {
		return "", ErrTurnNotStarted
	}
	if ts.Country != nil {
		return "", ErrAlreadyRolled
	}
	pool := catalog.Remaining(s.GuessedCountries)
	if len(pool) == 0 {
		return "", ErrPoolExhausted
	}
	country := pool[rng.IntN(len(pool))]

	next := *ts
	next.Country = &country
	next.DiceRolled = true
	next.ModalOpen = true
	s.CurrentTurnState = &next
	return country, nil
}

// GuessResult is returned to the guessing player.
type GuessResult struct {
	Correct bool            `json:"correct"`
	Points  decimal.Decimal `json:"points"`
	Class   MatchClass      `json:"class"`
	Country string          `json:"country"`
}

// SubmitGuess scores guess against the rolled country and ends the turn.
// A correct guess that empties the pool finishes the session.
func SubmitGuess(s *models.GameSession, playerID, guess string, catalog *Catalog, now time.Time) (GuessResult, models.TurnOutcome, error) {
	if err := requireActing(s, playerID); err != nil {
		return GuessResult{}, models.TurnOutcome{}, err
	}
	ts := s.CurrentTurnState
	if ts == nil || ts.Country == nil {
		return GuessResult{}, models.TurnOutcome{}, ErrTurnNotStarted
	}
	country := *ts.Country
	score := catalog.Score(guess, country)
	points := decimal.NewFromInt(int64(score.Points))

	answer := strings.TrimSpace(guess)
	correct := score.Correct()
	closed := *ts
	closed.SubmittedAnswer = &answer
	closed.PointsEarned = &points
	closed.IsCorrect = &correct
	closed.ModalOpen = false
	s.CurrentTurnState = &closed

	outcome := endTurn(s, playerID, country, answer, score.Class, points, now)
	if len(catalog.Remaining(s.GuessedCountries)) == 0 {
		Finish(s, now)
	}
	return GuessResult{Correct: correct, Points: points, Class: score.Class, Country: country}, outcome, nil
}

// SkipTurn ends the turn for zero points without counting as a wrong answer.
func SkipTurn(s *models.GameSession, playerID string, now time.Time) (models.TurnOutcome, error) {
	if err := requireActing(s, playerID); err != nil {
		return models.TurnOutcome{}, err
	}
	return endTurn(s, playerID, turnCountry(s), "", MatchSkipped, decimal.Zero, now), nil
}

func timeoutTurn(s *models.GameSession, now time.Time) models.TurnOutcome {
	acting := ActingPlayer(s)
	return endTurn(s, acting.ID, turnCountry(s), "", MatchTimeout, decimal.Zero, now)
}

func turnCountry(s *models.GameSession) string {
	if s.CurrentTurnState != nil && s.CurrentTurnState.Country != nil {
		return *s.CurrentTurnState.Country
	}
	return ""
}

func endTurn(s *models.GameSession, playerID, country, answer string, class MatchClass, points decimal.Decimal, now time.Time) models.TurnOutcome {
	hints := 0
	if s.CurrentTurnState != nil {
		hints = len(s.CurrentTurnState.HintsUsed)
	}
	p := s.Player(playerID)
	p.TurnsPlayed++
	switch class {
	case MatchSkipped:
		p.TurnsSkipped++
	case MatchExact, MatchClose:
		p.Score = p.Score.Add(points)
		p.CountriesGuessed = append(p.CountriesGuessed, country)
		s.GuessedCountries = append(s.GuessedCountries, country)
	}

	outcome := models.TurnOutcome{
		PlayerID:  playerID,
		Country:   country,
		Answer:    answer,
		Outcome:   string(class),
		Points:    points,
		HintsUsed: hints,
		EndedAt:   now,
	}
	s.History = append(s.History, outcome)
	s.CurrentTurnIndex = (s.PlayerIndex(playerID) + 1) % len(s.Players)
	s.CurrentTurnState = nil
	s.TurnStartTime = &now
	return outcome
}
