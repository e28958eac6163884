package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"geoquiz/game"
	"geoquiz/models"
	"geoquiz/store"

	"go.uber.org/zap"
)

var (
	ErrForcedLogout = errors.New("account signed in elsewhere")
	ErrNotLoggedIn  = errors.New("not logged in")
	ErrNoSession    = errors.New("no active session")
)

// Identity is what the identity provider tells us about the account.
type Identity struct {
	AccountID   string
	DisplayName string
}

// ClientConfig carries the per-client settings that the UI owns.
type ClientConfig struct {
	Locale            string
	SoundEnabled      bool
	Recovery          *Recovery
	HeartbeatInterval time.Duration
}

// Route is where a resumed client should land.
type Route string

const (
	RouteEntry       Route = "entry"
	RouteWaitingRoom Route = "waiting_room"
	RouteGame        Route = "game"
)

// SessionClient is the session API for one client instance. It keeps the
// last observed snapshot current from the event stream.
type SessionClient struct {
	manager *SessionManager
	store   store.Store
	cfg     ClientConfig
	logger  *zap.Logger

	mu       sync.Mutex
	identity *Identity
	guard    *PresenceGuard
	evicted  bool
	code     string
	session  *models.GameSession
	detach   func()
	events   chan Event
}

func NewSessionClient(manager *SessionManager, st store.Store, cfg ClientConfig, logger *zap.Logger) *SessionClient {
	if cfg.Recovery == nil {
		cfg.Recovery = NewRecovery(NewMemoryStorage(), nil)
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 10 * time.Second
	}
	return &SessionClient{
		manager: manager,
		store:   st,
		cfg:     cfg,
		logger:  logger,
		events:  make(chan Event, watcherBuffer),
	}
}

func (c *SessionClient) Config() ClientConfig { return c.cfg }

// Events carries every event of the attached session, plus a final
// forced_logout when the account is claimed elsewhere.
func (c *SessionClient) Events() <-chan Event { return c.events }

// Login claims the account for this client.
func (c *SessionClient) Login(ctx context.Context, id Identity) error {
	guard := NewPresenceGuard(c.store, id.AccountID, c.forceLogout, c.logger)
	c.mu.Lock()
	c.identity = &id
	c.guard = guard
	c.evicted = false
	c.mu.Unlock()
	if err := guard.Register(ctx); err != nil {
		c.mu.Lock()
		c.identity = nil
		c.guard = nil
		c.mu.Unlock()
		return err
	}
	return nil
}

// Logout releases the account and forgets the local session.
func (c *SessionClient) Logout(ctx context.Context) error {
	c.detachSession(ctx, true)
	c.mu.Lock()
	guard := c.guard
	c.identity = nil
	c.guard = nil
	c.mu.Unlock()
	if err := c.cfg.Recovery.Clear(); err != nil {
		c.logger.Warn("failed to clear recovery record", zap.Error(err))
	}
	if guard == nil {
		return nil
	}
	return guard.Release(ctx)
}

// Disconnect drops the connection without logging out; the presence
// cleanup runs and the player is shown as disconnected.
func (c *SessionClient) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	guard := c.guard
	c.mu.Unlock()
	c.detachSession(ctx, true)
	if guard == nil {
		return nil
	}
	return guard.Disconnect(ctx)
}

func (c *SessionClient) InstanceID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.guard == nil {
		return ""
	}
	return c.guard.InstanceID()
}

func (c *SessionClient) forceLogout() {
	c.mu.Lock()
	c.evicted = true
	c.identity = nil
	c.guard = nil
	c.mu.Unlock()
	c.logger.Warn("forced logout")
	c.detachSession(context.Background(), false)
	if err := c.cfg.Recovery.Clear(); err != nil {
		c.logger.Warn("failed to clear recovery record", zap.Error(err))
	}
	c.emit(Event{Type: EventForcedLogout, At: time.Now()})
}

func (c *SessionClient) account() (Identity, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.evicted {
		return Identity{}, ErrForcedLogout
	}
	if c.identity == nil {
		return Identity{}, ErrNotLoggedIn
	}
	return *c.identity, nil
}

// attached returns the account and the code of the attached session.
func (c *SessionClient) attached() (Identity, string, error) {
	id, err := c.account()
	if err != nil {
		return Identity{}, "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.code == "" {
		return Identity{}, "", ErrNoSession
	}
	return id, c.code, nil
}

// Session is the last observed snapshot, or nil.
func (c *SessionClient) Session() *models.GameSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.Clone()
}

// CurrentPlayer is this account's entry in the observed snapshot.
func (c *SessionClient) CurrentPlayer() *models.Player {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil || c.identity == nil {
		return nil
	}
	p := c.session.Player(c.identity.AccountID)
	if p == nil {
		return nil
	}
	cp := *p
	cp.CountriesGuessed = append([]string(nil), p.CountriesGuessed...)
	return &cp
}

func (c *SessionClient) CreateSession(ctx context.Context, maxPlayers, durationMinutes int, solo bool) (string, error) {
	id, err := c.account()
	if err != nil {
		return "", err
	}
	s, err := c.manager.Create(ctx, id.AccountID, id.DisplayName, game.Settings{
		MaxPlayers:      maxPlayers,
		DurationMinutes: durationMinutes,
		Solo:            solo,
	})
	if err != nil {
		return "", err
	}
	if err := c.attach(ctx, id, s.Code); err != nil {
		return "", err
	}
	return s.Code, nil
}

// JoinSession seats the account. guestName overrides the profile name.
func (c *SessionClient) JoinSession(ctx context.Context, code, guestName string) error {
	id, err := c.account()
	if err != nil {
		return err
	}
	name := id.DisplayName
	if guestName != "" {
		name = guestName
	}
	s, err := c.manager.Join(ctx, code, id.AccountID, name)
	if err != nil {
		return err
	}
	return c.attach(ctx, id, s.Code)
}

func (c *SessionClient) LeaveSession(ctx context.Context) error {
	id, code, err := c.attached()
	if err != nil {
		return err
	}
	if err := c.manager.Leave(ctx, code, id.AccountID); err != nil && !errors.Is(err, game.ErrNotFound) {
		return err
	}
	c.detachSession(ctx, false)
	return c.cfg.Recovery.Clear()
}

// fresh re-reads the session and checks its status before a mutation.
func (c *SessionClient) fresh(ctx context.Context, code string, allowed ...models.SessionStatus) (*models.GameSession, error) {
	s, err := c.manager.Snapshot(ctx, code)
	if err != nil {
		return nil, err
	}
	c.observe(s)
	for _, st := range allowed {
		if s.Status == st {
			return s, nil
		}
	}
	return nil, game.ErrStaleState
}

func (c *SessionClient) SetReady(ctx context.Context, ready bool) error {
	id, code, err := c.attached()
	if err != nil {
		return err
	}
	if _, err := c.fresh(ctx, code, models.StatusWaiting); err != nil {
		return err
	}
	return c.manager.SetReady(ctx, code, id.AccountID, ready)
}

func (c *SessionClient) StartCountdown(ctx context.Context) error {
	id, code, err := c.attached()
	if err != nil {
		return err
	}
	if _, err := c.fresh(ctx, code, models.StatusWaiting, models.StatusCountdown); err != nil {
		return err
	}
	return c.manager.StartCountdown(ctx, code, id.AccountID)
}

func (c *SessionClient) StartGame(ctx context.Context) error {
	id, code, err := c.attached()
	if err != nil {
		return err
	}
	if _, err := c.fresh(ctx, code, models.StatusCountdown, models.StatusPlaying); err != nil {
		return err
	}
	return c.manager.StartGame(ctx, code, id.AccountID)
}

func (c *SessionClient) RollDice(ctx context.Context) (string, error) {
	id, code, err := c.attached()
	if err != nil {
		return "", err
	}
	if _, err := c.fresh(ctx, code, models.StatusPlaying); err != nil {
		return "", err
	}
	return c.manager.RollDice(ctx, code, id.AccountID)
}

func (c *SessionClient) SubmitGuess(ctx context.Context, guess string) (game.GuessResult, error) {
	id, code, err := c.attached()
	if err != nil {
		return game.GuessResult{}, err
	}
	if _, err := c.fresh(ctx, code, models.StatusPlaying); err != nil {
		return game.GuessResult{}, err
	}
	return c.manager.SubmitGuess(ctx, code, id.AccountID, guess)
}

func (c *SessionClient) SkipTurn(ctx context.Context) error {
	id, code, err := c.attached()
	if err != nil {
		return err
	}
	if _, err := c.fresh(ctx, code, models.StatusPlaying); err != nil {
		return err
	}
	return c.manager.SkipTurn(ctx, code, id.AccountID)
}

func (c *SessionClient) UseHint(ctx context.Context, kind models.HintKind) (string, error) {
	id, code, err := c.attached()
	if err != nil {
		return "", err
	}
	if _, err := c.fresh(ctx, code, models.StatusPlaying); err != nil {
		return "", err
	}
	return c.manager.UseHint(ctx, code, id.AccountID, kind)
}

func (c *SessionClient) EndGame(ctx context.Context) error {
	id, code, err := c.attached()
	if err != nil {
		return err
	}
	return c.manager.EndGame(ctx, code, id.AccountID)
}

// Heartbeat marks the account connected in the attached session.
func (c *SessionClient) Heartbeat(ctx context.Context) error {
	id, code, err := c.attached()
	if err != nil {
		return err
	}
	return c.manager.Heartbeat(ctx, code, id.AccountID, true)
}

// CheckActiveSession re-attaches to the session named by the recovery
// record when it is still fresh, alive and contains this account. Every
// other outcome discards the record.
func (c *SessionClient) CheckActiveSession(ctx context.Context) (bool, error) {
	id, err := c.account()
	if err != nil {
		return false, err
	}
	rec, ok, err := c.cfg.Recovery.Load()
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	discard := func() (bool, error) {
		return false, c.cfg.Recovery.Clear()
	}
	if rec.PlayerID != id.AccountID {
		return discard()
	}
	s, err := c.manager.Snapshot(ctx, rec.SessionCode)
	if errors.Is(err, game.ErrNotFound) {
		return discard()
	}
	if err != nil {
		return false, err
	}
	if s.Status == models.StatusFinished || s.PlayerIndex(id.AccountID) < 0 {
		return discard()
	}
	if err := c.attach(ctx, id, s.Code); err != nil {
		if errors.Is(err, game.ErrNotFound) || errors.Is(err, game.ErrNotInSession) {
			return discard()
		}
		return false, err
	}
	return true, nil
}

// ResumeSession re-attaches and picks the view for the session status.
func (c *SessionClient) ResumeSession(ctx context.Context) (Route, error) {
	ok, err := c.CheckActiveSession(ctx)
	if err != nil || !ok {
		return RouteEntry, err
	}
	s := c.Session()
	switch {
	case s == nil:
		return RouteEntry, nil
	case s.Status == models.StatusPlaying:
		return RouteGame, nil
	case s.Status == models.StatusWaiting || s.Status == models.StatusCountdown:
		return RouteWaitingRoom, nil
	}
	c.detachSession(ctx, false)
	return RouteEntry, c.cfg.Recovery.Clear()
}

// Watch attaches to a session this account already belongs to, without
// the recovery record. The websocket uses it.
func (c *SessionClient) Watch(ctx context.Context, code string) error {
	id, err := c.account()
	if err != nil {
		return err
	}
	s, err := c.manager.Snapshot(ctx, code)
	if err != nil {
		return err
	}
	if s.PlayerIndex(id.AccountID) < 0 {
		return game.ErrNotInSession
	}
	return c.attach(ctx, id, s.Code)
}

func (c *SessionClient) attach(ctx context.Context, id Identity, code string) error {
	c.detachSession(ctx, false)
	snapshot, events, unsubscribe, err := c.manager.Subscribe(ctx, code)
	if err != nil {
		return err
	}
	if snapshot.PlayerIndex(id.AccountID) < 0 {
		unsubscribe()
		return game.ErrNotInSession
	}

	hbCtx, stopHeartbeat := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	c.mu.Lock()
	c.code = code
	c.session = snapshot
	c.detach = func() {
		stopHeartbeat()
		unsubscribe()
		wg.Wait()
	}
	c.mu.Unlock()

	wg.Add(2)
	go func() {
		defer wg.Done()
		for ev := range events {
			c.observe(ev.Session)
			c.emit(ev)
			if ev.Type == EventSessionDeleted {
				c.mu.Lock()
				c.session = nil
				c.mu.Unlock()
			}
		}
	}()
	go func() {
		defer wg.Done()
		c.heartbeatLoop(hbCtx, code, id.AccountID)
	}()

	// REST create/join may have run before this instance held a presence record
	c.manager.linkPresence(ctx, id.AccountID, code, c.manager.now())
	if err := c.cfg.Recovery.Save(code, id.AccountID); err != nil {
		c.logger.Warn("failed to save recovery record", zap.Error(err))
	}
	if err := c.manager.Heartbeat(ctx, code, id.AccountID, true); err != nil && !errors.Is(err, game.ErrNotInSession) {
		c.logger.Warn("initial heartbeat failed", zap.String("code", code), zap.Error(err))
	}
	return nil
}

func (c *SessionClient) heartbeatLoop(ctx context.Context, code, accountID string) {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.manager.Heartbeat(ctx, code, accountID, true); err != nil && ctx.Err() == nil {
				c.logger.Debug("heartbeat failed", zap.String("code", code), zap.Error(err))
			}
		}
	}
}

// detachSession stops streaming and heartbeats. markAway also flips the
// player to disconnected in the session.
func (c *SessionClient) detachSession(ctx context.Context, markAway bool) {
	c.mu.Lock()
	detach := c.detach
	code := c.code
	var accountID string
	if c.session != nil && c.identity != nil {
		accountID = c.identity.AccountID
	}
	c.detach = nil
	c.code = ""
	c.session = nil
	c.mu.Unlock()
	if detach != nil {
		detach()
	}
	if markAway && code != "" && accountID != "" {
		if err := c.manager.Heartbeat(ctx, code, accountID, false); err != nil && !errors.Is(err, game.ErrNotFound) {
			c.logger.Debug("failed to mark player away", zap.String("code", code), zap.Error(err))
		}
	}
}

func (c *SessionClient) observe(s *models.GameSession) {
	if s == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.code != s.Code {
		return
	}
	c.session = s
}

func (c *SessionClient) emit(ev Event) {
	select {
	case c.events <- ev:
	default:
		c.logger.Warn("client event buffer full", zap.String("type", string(ev.Type)))
	}
}
