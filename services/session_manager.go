package services

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"geoquiz/game"
	"geoquiz/models"
	"geoquiz/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type CreateSessionRequest struct {
	MaxPlayers      int  `json:"maxPlayers"`
	DurationMinutes int  `json:"durationMinutes" binding:"required"`
	Solo            bool `json:"solo"`
}

type JoinSessionRequest struct {
	GuestName string `json:"guestName"`
}

type ReadyRequest struct {
	Ready bool `json:"ready"`
}

type GuessRequest struct {
	Guess string `json:"guess" binding:"required"`
}

type HintRequest struct {
	Kind models.HintKind `json:"kind" binding:"required"`
}

// Archiver stores finished sessions.
type Archiver interface {
	Archive(ctx context.Context, s *models.GameSession) error
}

// SessionManager runs one actor per live session code and is the only
// writer of sessions/{code}.
type SessionManager struct {
	store    store.Store
	rules    game.Rules
	catalog  *game.Catalog
	logger   *zap.Logger
	archiver Archiver
	now      func() time.Time
	newCode  func() string

	rngMu sync.Mutex
	rng   *rand.Rand

	mu     sync.Mutex
	actors map[string]*sessionActor
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type ManagerOption func(*SessionManager)

func WithClock(now func() time.Time) ManagerOption {
	return func(m *SessionManager) { m.now = now }
}

func WithCodeGenerator(gen func() string) ManagerOption {
	return func(m *SessionManager) { m.newCode = gen }
}

func WithRand(rng *rand.Rand) ManagerOption {
	return func(m *SessionManager) { m.rng = rng }
}

func WithArchiver(a Archiver) ManagerOption {
	return func(m *SessionManager) { m.archiver = a }
}

func WithCatalog(c *game.Catalog) ManagerOption {
	return func(m *SessionManager) { m.catalog = c }
}

func NewSessionManager(st store.Store, rules game.Rules, logger *zap.Logger, opts ...ManagerOption) *SessionManager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &SessionManager{
		store:   st,
		rules:   rules,
		catalog: game.DefaultCatalog(),
		logger:  logger,
		now:     time.Now,
		newCode: game.GenerateCode,
		rng:     rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		actors:  make(map[string]*sessionActor),
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *SessionManager) Rules() game.Rules { return m.rules }

// Close stops every actor. Committed state stays in the store.
func (m *SessionManager) Close() {
	m.cancel()
	m.wg.Wait()
}

func (m *SessionManager) spawnLocked(s *models.GameSession) *sessionActor {
	a := newSessionActor(m, s)
	m.actors[s.Code] = a
	m.wg.Add(1)
	go a.loop(m.ctx)
	return a
}

func (m *SessionManager) forget(a *sessionActor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.actors[a.code] == a {
		delete(m.actors, a.code)
	}
}

// actor returns the running actor for code, loading the session from the
// store when no actor owns it yet. The store read runs outside m.mu.
func (m *SessionManager) actor(ctx context.Context, code string) (*sessionActor, error) {
	m.mu.Lock()
	if a, ok := m.actors[code]; ok && !a.isStopped() {
		m.mu.Unlock()
		return a, nil
	}
	m.mu.Unlock()

	var s models.GameSession
	if err := store.GetJSON(ctx, m.store, store.SessionPath(code), &s); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("session %s: %w", code, game.ErrNotFound)
		}
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	// another caller may have loaded it meanwhile
	if a, ok := m.actors[code]; ok && !a.isStopped() {
		return a, nil
	}
	m.logger.Info("session loaded from store", zap.String("code", code), zap.String("status", string(s.Status)))
	return m.spawnLocked(&s), nil
}

// withActor retries once when the actor stopped between lookup and send.
func (m *SessionManager) withActor(ctx context.Context, code string, fn func(ctx context.Context, a *sessionActor) error) error {
	code = game.NormalizeCode(code)
	for attempt := 0; ; attempt++ {
		a, err := m.actor(ctx, code)
		if err != nil {
			return err
		}
		err = a.do(ctx, fn)
		if errors.Is(err, errActorStopped) && attempt == 0 {
			continue
		}
		if errors.Is(err, errActorStopped) {
			return fmt.Errorf("session %s: %w", code, game.ErrNotFound)
		}
		return err
	}
}

func (m *SessionManager) mutate(ctx context.Context, code string, fn mutator) error {
	return m.withActor(ctx, code, func(ctx context.Context, a *sessionActor) error {
		return a.mutate(ctx, fn)
	})
}

// Create opens a new session hosted by hostID.
func (m *SessionManager) Create(ctx context.Context, hostID, displayName string, settings game.Settings) (*models.GameSession, error) {
	if err := m.checkConflict(ctx, hostID, ""); err != nil {
		return nil, err
	}
	now := m.now()
	host := game.NewPlayer(hostID, displayName, now)

	m.mu.Lock()
	code := game.NormalizeCode(m.newCode())
	for i := 0; i < 3 && m.actors[code] != nil; i++ {
		code = game.NormalizeCode(m.newCode())
	}
	if m.actors[code] != nil {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: session code %s in use", game.ErrConflict, code)
	}
	s, err := game.NewSession(uuid.NewString(), code, host, settings, m.rules, now)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	a := m.spawnLocked(s.Clone())
	m.mu.Unlock()

	events := []Event{{Type: EventPlayerJoined, PlayerID: hostID}}
	if s.Status == models.StatusCountdown {
		events = append(events, Event{Type: EventCountdownStarted})
	}
	err = a.do(ctx, func(ctx context.Context, a *sessionActor) error {
		return a.commit(ctx, s.Clone(), now, events)
	})
	if err != nil {
		_ = a.do(context.Background(), func(context.Context, *sessionActor) error {
			a.stop()
			return nil
		})
		return nil, err
	}
	m.linkPresence(ctx, hostID, code, now)
	m.logger.Info("session created",
		zap.String("code", code),
		zap.String("player_id", hostID),
		zap.Int("max_players", s.MaxPlayers),
		zap.Bool("solo", s.Solo))
	return game.Redact(s), nil
}

// Join seats playerID in the session. Joining twice fails with
// ErrAlreadyJoined.
func (m *SessionManager) Join(ctx context.Context, code, playerID, displayName string) (*models.GameSession, error) {
	code = game.NormalizeCode(code)
	if !game.ValidCode(code) {
		return nil, fmt.Errorf("session %s: %w", code, game.ErrNotFound)
	}
	if err := m.checkConflict(ctx, playerID, code); err != nil {
		return nil, err
	}
	var snapshot *models.GameSession
	err := m.mutate(ctx, code, func(s *models.GameSession, now time.Time) ([]Event, error) {
		if err := game.AddPlayer(s, game.NewPlayer(playerID, displayName, now)); err != nil {
			return nil, err
		}
		snapshot = s
		return []Event{{Type: EventPlayerJoined, PlayerID: playerID}}, nil
	})
	if err != nil {
		return nil, err
	}
	m.linkPresence(ctx, playerID, code, m.now())
	m.logger.Info("player joined", zap.String("code", code), zap.String("player_id", playerID))
	return game.Redact(snapshot), nil
}

// Leave removes playerID. The last leaver deletes the session.
func (m *SessionManager) Leave(ctx context.Context, code, playerID string) error {
	err := m.mutate(ctx, code, func(s *models.GameSession, now time.Time) ([]Event, error) {
		if err := game.RemovePlayer(s, playerID, now); err != nil {
			return nil, err
		}
		return []Event{{Type: EventPlayerLeft, PlayerID: playerID}}, nil
	})
	if err != nil {
		return err
	}
	m.linkPresence(ctx, playerID, "", m.now())
	m.logger.Info("player left", zap.String("code", code), zap.String("player_id", playerID))
	return nil
}

func (m *SessionManager) SetReady(ctx context.Context, code, playerID string, ready bool) error {
	return m.mutate(ctx, code, func(s *models.GameSession, now time.Time) ([]Event, error) {
		if err := game.SetReady(s, playerID, ready); err != nil {
			return nil, err
		}
		return []Event{{Type: EventPlayerReady, PlayerID: playerID}}, nil
	})
}

func (m *SessionManager) StartCountdown(ctx context.Context, code, playerID string) error {
	return m.mutate(ctx, code, func(s *models.GameSession, now time.Time) ([]Event, error) {
		if s.Status == models.StatusCountdown {
			return nil, nil
		}
		if err := game.StartCountdown(s, playerID, now); err != nil {
			return nil, err
		}
		return []Event{{Type: EventCountdownStarted, PlayerID: playerID}}, nil
	})
}

// StartGame is accepted from the host and is a no-op once Playing. The
// actor also starts the game on its own when the countdown runs out.
func (m *SessionManager) StartGame(ctx context.Context, code, playerID string) error {
	return m.mutate(ctx, code, func(s *models.GameSession, now time.Time) ([]Event, error) {
		if s.PlayerIndex(playerID) < 0 {
			return nil, game.ErrNotInSession
		}
		if s.Status == models.StatusPlaying {
			return nil, nil
		}
		if s.HostPlayerID != playerID {
			return nil, game.ErrNotHost
		}
		if err := game.StartGame(s, now, m.rules); err != nil {
			return nil, err
		}
		return []Event{{Type: EventGameStarted, PlayerID: playerID}}, nil
	})
}

// RollDice opens the turn, waits the roll delay and then draws the
// country. Only the caller learns the country.
func (m *SessionManager) RollDice(ctx context.Context, code, playerID string) (string, error) {
	var startedAt time.Time
	err := m.mutate(ctx, code, func(s *models.GameSession, now time.Time) ([]Event, error) {
		if err := game.BeginRoll(s, playerID, now); err != nil {
			return nil, err
		}
		startedAt = now
		return []Event{{Type: EventTurnStarted, PlayerID: playerID}}, nil
	})
	if err != nil {
		return "", err
	}

	if delay := m.rollDelay(); delay > 0 {
		t := time.NewTimer(delay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return "", ctx.Err()
		}
	}

	var country string
	err = m.mutate(ctx, code, func(s *models.GameSession, now time.Time) ([]Event, error) {
		ts := s.CurrentTurnState
		if ts == nil || ts.PlayerID != playerID || ts.StartedAt.After(startedAt) {
			return nil, game.ErrTurnNotStarted
		}
		m.rngMu.Lock()
		c, err := game.AssignCountry(s, playerID, m.catalog, m.rng)
		m.rngMu.Unlock()
		if err != nil {
			return nil, err
		}
		country = c
		return []Event{{Type: EventCountryAssigned, PlayerID: playerID}}, nil
	})
	if err != nil {
		return "", err
	}
	return country, nil
}

func (m *SessionManager) rollDelay() time.Duration {
	lo, hi := m.rules.RollDelayMin, m.rules.RollDelayMax
	if hi <= lo {
		return lo
	}
	m.rngMu.Lock()
	defer m.rngMu.Unlock()
	return lo + time.Duration(m.rng.Int64N(int64(hi-lo)))
}

func (m *SessionManager) SubmitGuess(ctx context.Context, code, playerID, guess string) (game.GuessResult, error) {
	var result game.GuessResult
	err := m.mutate(ctx, code, func(s *models.GameSession, now time.Time) ([]Event, error) {
		res, outcome, err := game.SubmitGuess(s, playerID, guess, m.catalog, now)
		if err != nil {
			return nil, err
		}
		result = res
		events := []Event{{Type: EventTurnEnded, PlayerID: playerID, Turn: &outcome}}
		if s.Status == models.StatusFinished {
			events = append(events, Event{Type: EventGameFinished})
		}
		return events, nil
	})
	return result, err
}

func (m *SessionManager) SkipTurn(ctx context.Context, code, playerID string) error {
	return m.mutate(ctx, code, func(s *models.GameSession, now time.Time) ([]Event, error) {
		outcome, err := game.SkipTurn(s, playerID, now)
		if err != nil {
			return nil, err
		}
		return []Event{{Type: EventTurnEnded, PlayerID: playerID, Turn: &outcome}}, nil
	})
}

// UseHint returns the hint value to the acting player only.
func (m *SessionManager) UseHint(ctx context.Context, code, playerID string, kind models.HintKind) (string, error) {
	var value string
	err := m.mutate(ctx, code, func(s *models.GameSession, now time.Time) ([]Event, error) {
		v, err := game.UseHint(s, playerID, kind, m.catalog)
		if err != nil {
			return nil, err
		}
		value = v
		return []Event{{Type: EventHintUsed, PlayerID: playerID, Hint: kind}}, nil
	})
	return value, err
}

// EndGame finishes the session for everyone. Ending twice is a no-op.
func (m *SessionManager) EndGame(ctx context.Context, code, playerID string) error {
	return m.mutate(ctx, code, func(s *models.GameSession, now time.Time) ([]Event, error) {
		if s.PlayerIndex(playerID) < 0 {
			return nil, game.ErrNotInSession
		}
		if !game.Finish(s, now) {
			return nil, nil
		}
		return []Event{{Type: EventGameFinished, PlayerID: playerID}}, nil
	})
}

// Heartbeat refreshes lastSeenAt and announces connection changes.
func (m *SessionManager) Heartbeat(ctx context.Context, code, playerID string, connected bool) error {
	return m.mutate(ctx, code, func(s *models.GameSession, now time.Time) ([]Event, error) {
		p := s.Player(playerID)
		if p == nil {
			return nil, game.ErrNotInSession
		}
		was := p.IsConnected
		if err := game.MarkPresence(s, playerID, connected, now); err != nil {
			return nil, err
		}
		if was == connected {
			return nil, nil
		}
		return []Event{{Type: EventPlayerPresence, PlayerID: playerID}}, nil
	})
}

// Snapshot returns the redacted session. Sessions without a running actor
// are read straight from the store.
func (m *SessionManager) Snapshot(ctx context.Context, code string) (*models.GameSession, error) {
	code = game.NormalizeCode(code)
	m.mu.Lock()
	a, ok := m.actors[code]
	m.mu.Unlock()
	if ok {
		var snapshot *models.GameSession
		err := a.do(ctx, func(ctx context.Context, a *sessionActor) error {
			snapshot = game.Redact(a.session)
			return nil
		})
		if err == nil {
			return snapshot, nil
		}
		if !errors.Is(err, errActorStopped) {
			return nil, err
		}
	}
	var s models.GameSession
	if err := store.GetJSON(ctx, m.store, store.SessionPath(code), &s); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("session %s: %w", code, game.ErrNotFound)
		}
		return nil, err
	}
	return game.Redact(&s), nil
}

// Subscribe returns the current snapshot and the stream of every event
// committed after it.
func (m *SessionManager) Subscribe(ctx context.Context, code string) (*models.GameSession, <-chan Event, func(), error) {
	var (
		snapshot *models.GameSession
		events   <-chan Event
		cancel   func()
	)
	err := m.withActor(ctx, code, func(ctx context.Context, a *sessionActor) error {
		snapshot = game.Redact(a.session)
		events, cancel = a.feed.subscribe()
		return nil
	})
	if err != nil {
		return nil, nil, nil, err
	}
	return snapshot, events, cancel, nil
}

// ActiveSession is the unfinished session accountID currently plays in,
// according to its presence record.
func (m *SessionManager) ActiveSession(ctx context.Context, accountID string) (*models.GameSession, error) {
	var rec models.PresenceRecord
	if err := store.GetJSON(ctx, m.store, store.PresencePath(accountID), &rec); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, game.ErrNotFound
		}
		return nil, err
	}
	if rec.SessionCode == "" {
		return nil, game.ErrNotFound
	}
	s, err := m.Snapshot(ctx, rec.SessionCode)
	if err != nil {
		return nil, err
	}
	if s.Status == models.StatusFinished || s.PlayerIndex(accountID) < 0 {
		return nil, game.ErrNotFound
	}
	return s, nil
}

func (m *SessionManager) checkConflict(ctx context.Context, accountID, code string) error {
	active, err := m.ActiveSession(ctx, accountID)
	if errors.Is(err, game.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if active.Code != code {
		return fmt.Errorf("%w: already playing in %s", game.ErrConflict, active.Code)
	}
	return nil
}

// linkPresence records code on the account's presence record, when the
// account has one.
func (m *SessionManager) linkPresence(ctx context.Context, accountID, code string, now time.Time) {
	err := m.store.Patch(ctx, store.PresencePath(accountID), map[string]any{
		"sessionCode": code,
		"updatedAt":   now,
	})
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		m.logger.Warn("failed to link presence", zap.String("player_id", accountID), zap.Error(err))
	}
}

func (m *SessionManager) archive(s *models.GameSession) {
	if m.archiver == nil {
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := m.archiver.Archive(ctx, s); err != nil {
			m.logger.Error("failed to archive session", zap.String("code", s.Code), zap.Error(err))
		}
	}()
}

// SweepStats reports what one Sweep pass changed.
type SweepStats struct {
	Expired int
	Stale   int
	Evicted int
}

// Sweep expires idle waiting rooms, marks silent players disconnected and
// unloads finished sessions past retention.
func (m *SessionManager) Sweep(ctx context.Context) SweepStats {
	m.mu.Lock()
	actors := make([]*sessionActor, 0, len(m.actors))
	for _, a := range m.actors {
		actors = append(actors, a)
	}
	m.mu.Unlock()

	var stats SweepStats
	for _, a := range actors {
		err := a.do(ctx, func(ctx context.Context, a *sessionActor) error {
			now := m.now()
			s := a.session
			switch {
			case s.Status == models.StatusWaiting && now.Sub(s.WaitingRoomStartTime) > m.rules.WaitingRoomTimeout:
				next := s.Clone()
				next.Players = nil
				stats.Expired++
				a.logger.Info("waiting room expired")
				return a.commit(ctx, next, now, nil)
			case s.Status == models.StatusFinished && s.FinishedAt != nil && now.Sub(*s.FinishedAt) > m.rules.FinishedRetention:
				stats.Evicted++
				a.stop()
				return nil
			}
			next := s.Clone()
			stale := game.MarkStale(next, now, m.rules.StalePlayerAfter)
			if len(stale) == 0 {
				return nil
			}
			stats.Stale += len(stale)
			events := make([]Event, 0, len(stale))
			for _, id := range stale {
				events = append(events, Event{Type: EventPlayerPresence, PlayerID: id})
			}
			return a.commit(ctx, next, now, events)
		})
		if err != nil && !errors.Is(err, errActorStopped) {
			m.logger.Warn("sweep failed", zap.String("code", a.code), zap.Error(err))
		}
	}
	return stats
}

// ActorCount is the number of sessions currently loaded.
func (m *SessionManager) ActorCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.actors)
}
