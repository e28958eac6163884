package game

import "time"

const (
	// MaxTotalHints is the number of hints a single turn allows across all kinds.
	MaxTotalHints = 2
	// MinPlayersToForce is the smallest lobby the host may force-start.
	MinPlayersToForce = 2
	CodeLength        = 6
)

// Rules holds the timing and sizing constants of a session.
type Rules struct {
	CountdownDuration  time.Duration
	TurnDuration       time.Duration
	RollDelayMin       time.Duration
	RollDelayMax       time.Duration
	MaxPlayers         int
	MaxDurationMinutes int
	WaitingRoomTimeout time.Duration
	StalePlayerAfter   time.Duration
	FinishedRetention  time.Duration
}

func DefaultRules() Rules {
	return Rules{
		CountdownDuration:  5 * time.Second,
		TurnDuration:       30 * time.Second,
		RollDelayMin:       600 * time.Millisecond,
		RollDelayMax:       1500 * time.Millisecond,
		MaxPlayers:         8,
		MaxDurationMinutes: 120,
		WaitingRoomTimeout: 15 * time.Minute,
		StalePlayerAfter:   30 * time.Second,
		FinishedRetention:  10 * time.Minute,
	}
}
