package game

import "errors"

// Session errors. Callers compare with errors.Is; the messages are what the
// UI shows as the failure reason.
var (
	ErrNotFound   = errors.New("session not found")
	ErrCapacity   = errors.New("session is full")
	ErrStaleState = errors.New("session is no longer accepting this action")
	ErrConflict   = errors.New("account already has a different active session")

	ErrInvalidSettings  = errors.New("invalid session settings")
	ErrAlreadyJoined    = errors.New("player already in session")
	ErrNotInSession     = errors.New("player is not in this session")
	ErrNotHost          = errors.New("only the host can do this")
	ErrNotEnoughPlayers = errors.New("at least 2 players are needed to start")
	ErrCountdownPending = errors.New("countdown has not finished")
	ErrNotYourTurn      = errors.New("not your turn")
	ErrTurnNotStarted   = errors.New("no country has been rolled for this turn")
	ErrAlreadyRolled    = errors.New("dice already rolled this turn")
	ErrHintUnavailable  = errors.New("hint not available")
	ErrUnknownHint      = errors.New("unknown hint")
	ErrPoolExhausted    = errors.New("no countries left to play")
)
