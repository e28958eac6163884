package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"geoquiz/models"
	"geoquiz/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// PresenceGuard claims an account for one client instance. When another
// instance overwrites the claim, onEvict runs once.
type PresenceGuard struct {
	store      store.Store
	accountID  string
	instanceID string
	onEvict    func()
	logger     *zap.Logger
	now        func() time.Time

	registered  atomic.Bool
	evicted     atomic.Bool
	evictOnce   sync.Once
	mu          sync.Mutex
	unsubscribe func()
}

func NewPresenceGuard(st store.Store, accountID string, onEvict func(), logger *zap.Logger) *PresenceGuard {
	return &PresenceGuard{
		store:      st,
		accountID:  accountID,
		instanceID: uuid.NewString(),
		onEvict:    onEvict,
		logger:     logger.With(zap.String("player_id", accountID)),
		now:        time.Now,
	}
}

func (g *PresenceGuard) InstanceID() string { return g.instanceID }

func (g *PresenceGuard) Evicted() bool { return g.evicted.Load() }

func (g *PresenceGuard) path() string { return store.PresencePath(g.accountID) }

// Register subscribes first, then writes the claim, then arms the
// disconnect cleanup. Notifications are ignored until all three succeeded.
func (g *PresenceGuard) Register(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.unsubscribe == nil {
		unsub, err := g.store.Subscribe(ctx, g.path(), g.onChange)
		if err != nil {
			return err
		}
		g.unsubscribe = unsub
	}

	var existing models.PresenceRecord
	if err := store.GetJSON(ctx, g.store, g.path(), &existing); err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	rec := models.PresenceRecord{
		SessionInstanceID: g.instanceID,
		SessionCode:       existing.SessionCode,
		UpdatedAt:         g.now(),
		Connected:         true,
	}
	if err := store.SetJSON(ctx, g.store, g.path(), rec); err != nil {
		return err
	}
	if err := g.store.OnDisconnect(ctx, g.instanceID, g.path(), g.ownDelete()); err != nil {
		return err
	}
	g.registered.Store(true)
	g.logger.Info("presence registered", zap.String("instance_id", g.instanceID))
	return nil
}

func (g *PresenceGuard) onChange(c store.Change) {
	if !g.registered.Load() {
		return
	}
	var rec models.PresenceRecord
	if err := c.Decode(&rec); err != nil {
		return
	}
	if rec.SessionInstanceID == g.instanceID {
		return
	}
	// a change queued before our own write may arrive late
	var current models.PresenceRecord
	if err := store.GetJSON(context.Background(), g.store, g.path(), &current); err == nil && current.SessionInstanceID == g.instanceID {
		return
	}
	g.evictOnce.Do(func() {
		g.evicted.Store(true)
		// the record now belongs to the other instance
		if err := g.store.CancelOnDisconnect(context.Background(), g.instanceID, g.path()); err != nil {
			g.logger.Warn("failed to cancel presence cleanup", zap.Error(err))
		}
		g.logger.Warn("account claimed by another instance",
			zap.String("instance_id", g.instanceID),
			zap.String("other_instance_id", rec.SessionInstanceID))
		g.unwatch()
		if g.onEvict != nil {
			g.onEvict()
		}
	})
}

func (g *PresenceGuard) unwatch() {
	g.mu.Lock()
	unsub := g.unsubscribe
	g.unsubscribe = nil
	g.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}

// Release drops the claim on a clean logout. A record already taken over by
// another instance is left alone.
func (g *PresenceGuard) Release(ctx context.Context) error {
	g.unwatch()
	g.registered.Store(false)
	if err := g.store.CancelOnDisconnect(ctx, g.instanceID, g.path()); err != nil {
		return err
	}
	_, err := g.store.DeleteIf(ctx, g.path(), "sessionInstanceId", g.instanceID)
	return err
}

// ownDelete removes the record only while this instance still owns it.
func (g *PresenceGuard) ownDelete() store.Mutation {
	return store.Mutation{Op: store.OpDelete, IfField: "sessionInstanceId", IfValue: g.instanceID}
}

// Disconnect behaves like the connection dropping: the store runs the
// cleanup armed by Register.
func (g *PresenceGuard) Disconnect(ctx context.Context) error {
	g.unwatch()
	g.registered.Store(false)
	return g.store.Disconnect(ctx, g.instanceID)
}
