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

var errActorStopped = errors.New("session actor stopped")

const deadlineRetry = time.Second

type command struct {
	ctx  context.Context
	run  func(ctx context.Context, a *sessionActor) error
	done chan error
}

// sessionActor owns one session. Every mutation runs on its goroutine
// against a clone, is written to the store, and is then published.
type sessionActor struct {
	m       *SessionManager
	code    string
	session *models.GameSession
	seq     uint64
	feed    *feed
	mailbox chan command
	timer   *time.Timer
	retryAt time.Time
	stopped chan struct{}
	once    sync.Once
	logger  *zap.Logger
}

func newSessionActor(m *SessionManager, s *models.GameSession) *sessionActor {
	return &sessionActor{
		m:       m,
		code:    s.Code,
		session: s,
		feed:    newFeed(s.Code, m.logger),
		mailbox: make(chan command),
		stopped: make(chan struct{}),
		logger:  m.logger.With(zap.String("code", s.Code)),
	}
}

func (a *sessionActor) loop(ctx context.Context) {
	defer a.m.wg.Done()
	defer a.stop()
	a.reschedule()
	for {
		var timerC <-chan time.Time
		if a.timer != nil {
			timerC = a.timer.C
		}
		select {
		case <-ctx.Done():
			return
		case <-a.stopped:
			return
		case cmd := <-a.mailbox:
			cmd.done <- cmd.run(cmd.ctx, a)
		case <-timerC:
			a.timer = nil
			a.onDeadline(ctx)
		}
		select {
		case <-a.stopped:
			return
		default:
		}
		a.reschedule()
	}
}

// do runs fn on the actor goroutine and waits for its result.
func (a *sessionActor) do(ctx context.Context, fn func(ctx context.Context, a *sessionActor) error) error {
	cmd := command{ctx: ctx, run: fn, done: make(chan error, 1)}
	select {
	case a.mailbox <- cmd:
	case <-a.stopped:
		return errActorStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-cmd.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// mutator changes s in place and returns the events it caused.
type mutator func(s *models.GameSession, now time.Time) ([]Event, error)

func (a *sessionActor) mutate(ctx context.Context, fn mutator) error {
	next := a.session.Clone()
	now := a.m.now()
	events, err := fn(next, now)
	if err != nil {
		return err
	}
	events = append(events, stepEvents(game.Tick(next, now, a.m.rules))...)
	return a.commit(ctx, next, now, events)
}

// commit writes next as a full overwrite and only then makes it current.
// An empty session is deleted instead.
func (a *sessionActor) commit(ctx context.Context, next *models.GameSession, now time.Time, events []Event) error {
	path := store.SessionPath(a.code)
	if len(next.Players) == 0 {
		if err := a.m.store.Delete(ctx, path); err != nil {
			return err
		}
		a.session = next
		a.publish(now, events...)
		a.publish(now, Event{Type: EventSessionDeleted})
		a.logger.Info("session deleted")
		a.stop()
		return nil
	}
	if err := store.SetJSON(ctx, a.m.store, path, next); err != nil {
		return err
	}
	wasFinished := a.session.Status == models.StatusFinished
	a.session = next
	a.publish(now, events...)
	if !wasFinished && next.Status == models.StatusFinished {
		a.logger.Info("session finished", zap.Int("turns", len(next.History)))
		a.m.archive(next.Clone())
	}
	return nil
}

func (a *sessionActor) publish(now time.Time, events ...Event) {
	for _, ev := range events {
		a.seq++
		ev.Code = a.code
		ev.Seq = a.seq
		ev.At = now
		ev.Session = game.Redact(a.session)
		a.feed.publish(ev)
	}
}

func (a *sessionActor) onDeadline(ctx context.Context) {
	next := a.session.Clone()
	now := a.m.now()
	steps := game.Tick(next, now, a.m.rules)
	if len(steps) == 0 {
		return
	}
	if err := a.commit(ctx, next, now, stepEvents(steps)); err != nil {
		a.logger.Error("failed to apply timed transition", zap.Error(err))
		a.retryAt = now.Add(deadlineRetry)
		return
	}
	a.retryAt = time.Time{}
}

func (a *sessionActor) reschedule() {
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	deadline, ok := game.NextDeadline(a.session, a.m.rules)
	if !ok {
		return
	}
	if deadline.Before(a.retryAt) {
		deadline = a.retryAt
	}
	a.timer = time.NewTimer(max(deadline.Sub(a.m.now()), 0))
}

func (a *sessionActor) stop() {
	a.once.Do(func() {
		close(a.stopped)
		if a.timer != nil {
			a.timer.Stop()
		}
		a.feed.close()
		a.m.forget(a)
	})
}

func (a *sessionActor) isStopped() bool {
	select {
	case <-a.stopped:
		return true
	default:
		return false
	}
}

func stepEvents(steps []game.Step) []Event {
	events := make([]Event, 0, len(steps))
	for _, step := range steps {
		switch step.Kind {
		case game.StepCountdownStarted:
			events = append(events, Event{Type: EventCountdownStarted})
		case game.StepGameStarted:
			events = append(events, Event{Type: EventGameStarted})
		case game.StepTurnTimedOut:
			events = append(events, Event{Type: EventTurnEnded, PlayerID: step.Outcome.PlayerID, Turn: step.Outcome})
		case game.StepGameFinished:
			events = append(events, Event{Type: EventGameFinished})
		}
	}
	return events
}
