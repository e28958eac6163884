package routes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"geoquiz/game"
	"geoquiz/handlers"
	"geoquiz/middleware"
	"geoquiz/models"
	"geoquiz/services"
	"geoquiz/store"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	testSecret  = "routes-secret"
	readTimeout = 2 * time.Second
)

type wsServer struct {
	srv     *httptest.Server
	manager *services.SessionManager
	store   *store.MemoryStore
}

func newWSServer(t *testing.T) *wsServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	rules := game.DefaultRules()
	rules.RollDelayMin, rules.RollDelayMax = 0, 0
	rules.TurnDuration = time.Hour
	rules.CountdownDuration = time.Hour
	st := store.NewMemoryStore()
	next := 0
	manager := services.NewSessionManager(st, rules, zap.NewNop(),
		services.WithRand(rand.New(rand.NewPCG(1, 2))),
		services.WithCodeGenerator(func() string {
			next++
			return fmt.Sprintf("ROOM%02d", next)
		}))

	hub := services.NewHub(manager, st, time.Hour, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	router := gin.New()
	SetupRoutes(router, Handlers{
		Auth:      handlers.NewAuthHandler(testSecret),
		Session:   handlers.NewSessionHandler(manager),
		Results:   handlers.NewResultsHandler(services.NewResultsService(nil), "https://geo.test"),
		Hub:       hub,
		Manager:   manager,
		JWTSecret: testSecret,
		Logger:    zap.NewNop(),
	})
	srv := httptest.NewServer(router)
	t.Cleanup(func() {
		srv.Close()
		cancel()
		manager.Close()
	})
	return &wsServer{srv: srv, manager: manager, store: st}
}

func (s *wsServer) url(t *testing.T, code, accountID string) string {
	t.Helper()
	tok, err := middleware.GenerateToken(testSecret, accountID, "Player "+accountID, false, time.Hour)
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	return "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/ws/" + code + "?token=" + tok
}

func (s *wsServer) dial(t *testing.T, code, accountID string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(s.url(t, code, accountID), nil)
	if err != nil {
		t.Fatalf("dial as %s: %v", accountID, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func (s *wsServer) create(t *testing.T, hostID string, seats int) string {
	t.Helper()
	session, err := s.manager.Create(context.Background(), hostID, "Player "+hostID, game.Settings{MaxPlayers: seats, DurationMinutes: 10})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return session.Code
}

type frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// readUntil skips frames until one of type typ arrives.
func readUntil(t *testing.T, conn *websocket.Conn, typ string) frame {
	t.Helper()
	deadline := time.Now().Add(readTimeout)
	for {
		conn.SetReadDeadline(deadline)
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("waiting for %s: %v", typ, err)
		}
		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			t.Fatalf("decode frame: %v", err)
		}
		if f.Type == typ {
			return f
		}
	}
}

func send(t *testing.T, conn *websocket.Conn, typ string) {
	t.Helper()
	if err := conn.WriteJSON(map[string]string{"type": typ}); err != nil {
		t.Fatalf("send %s: %v", typ, err)
	}
}

func TestWebSocketRejectsBeforeUpgrade(t *testing.T) {
	s := newWSServer(t)
	code := s.create(t, "a", 2)

	tests := []struct {
		name   string
		url    string
		status int
	}{
		{"unknown session", s.url(t, "NOPE99", "a"), http.StatusNotFound},
		{"not a member", s.url(t, code, "b"), http.StatusForbidden},
		{"no token", "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/ws/" + code, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn, resp, err := websocket.DefaultDialer.Dial(tt.url, nil)
			if err == nil {
				conn.Close()
				t.Fatalf("expected the upgrade to be refused")
			}
			if !errors.Is(err, websocket.ErrBadHandshake) || resp == nil {
				t.Fatalf("expected a handshake error, got %v", err)
			}
			if resp.StatusCode != tt.status {
				t.Fatalf("expected %d, got %d", tt.status, resp.StatusCode)
			}
		})
	}
}

func TestWebSocketStateAndPing(t *testing.T) {
	s := newWSServer(t)
	code := s.create(t, "a", 2)
	conn := s.dial(t, code, "a")

	first := readUntil(t, conn, "state")
	var session struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(first.Payload, &session); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	if session.Code != code {
		t.Fatalf("expected state for %s, got %q", code, session.Code)
	}

	send(t, conn, "ping")
	readUntil(t, conn, "pong")

	send(t, conn, "request_state")
	readUntil(t, conn, "state")
}

func TestWebSocketHeartbeatMarksConnected(t *testing.T) {
	s := newWSServer(t)
	code := s.create(t, "a", 2)
	conn := s.dial(t, code, "a")
	readUntil(t, conn, "state")

	ctx := context.Background()
	if err := s.manager.Heartbeat(ctx, code, "a", false); err != nil {
		t.Fatalf("mark away: %v", err)
	}
	readUntil(t, conn, "player_presence")

	send(t, conn, "heartbeat")
	readUntil(t, conn, "player_presence")
	snapshot, err := s.manager.Snapshot(ctx, code)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if p := snapshot.Player("a"); p == nil || !p.IsConnected {
		t.Fatalf("heartbeat should mark the player connected")
	}
}

func TestWebSocketLinksPresenceForRestCreatedSession(t *testing.T) {
	s := newWSServer(t)
	code := s.create(t, "a", 2)
	conn := s.dial(t, code, "a")
	readUntil(t, conn, "state")

	var rec models.PresenceRecord
	if err := store.GetJSON(context.Background(), s.store, store.PresencePath("a"), &rec); err != nil {
		t.Fatalf("presence: %v", err)
	}
	if rec.SessionCode != code {
		t.Fatalf("expected presence linked to %s, got %q", code, rec.SessionCode)
	}
	_, err := s.manager.Create(context.Background(), "a", "Player a", game.Settings{MaxPlayers: 2, DurationMinutes: 10})
	if !errors.Is(err, game.ErrConflict) {
		t.Fatalf("expected a conflict while in another session, got %v", err)
	}
}

func TestWebSocketSecondDeviceForcesLogout(t *testing.T) {
	s := newWSServer(t)
	code := s.create(t, "a", 2)
	first := s.dial(t, code, "a")
	readUntil(t, first, "state")

	second := s.dial(t, code, "a")
	readUntil(t, second, "state")

	readUntil(t, first, "forced_logout")
	first.SetReadDeadline(time.Now().Add(readTimeout))
	_, _, err := first.ReadMessage()
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("expected a policy close, got %v", err)
	}

	// the evicted connection's cleanup leaves the new owner's record alone
	time.Sleep(50 * time.Millisecond)
	var rec models.PresenceRecord
	if err := store.GetJSON(context.Background(), s.store, store.PresencePath("a"), &rec); err != nil {
		t.Fatalf("presence after eviction: %v", err)
	}
	if rec.SessionCode != code {
		t.Fatalf("expected the second device to keep the link, got %q", rec.SessionCode)
	}
	send(t, second, "ping")
	readUntil(t, second, "pong")
}
