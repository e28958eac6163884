package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"geoquiz/game"
	"geoquiz/middleware"
	"geoquiz/services"
	"geoquiz/store"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const testSecret = "handler-secret"

type testServer struct {
	router  *gin.Engine
	manager *services.SessionManager
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	rules := game.DefaultRules()
	rules.RollDelayMin, rules.RollDelayMax = 0, 0
	rules.TurnDuration = time.Hour
	rules.CountdownDuration = 50 * time.Millisecond
	next := 0
	manager := services.NewSessionManager(store.NewMemoryStore(), rules, zap.NewNop(),
		services.WithRand(rand.New(rand.NewPCG(1, 2))),
		services.WithCodeGenerator(func() string {
			next++
			return fmt.Sprintf("ROOM%02d", next)
		}))
	t.Cleanup(manager.Close)

	sessions := NewSessionHandler(manager)
	auth := NewAuthHandler(testSecret)
	results := NewResultsHandler(services.NewResultsService(nil), "https://geo.test")

	r := gin.New()
	r.POST("/api/auth/guest", auth.Guest)
	r.GET("/api/sessions/:code/qr", results.JoinQR)
	r.GET("/api/sessions/:code/results", results.GetResults)
	protected := r.Group("/api", middleware.AuthMiddleware(testSecret))
	protected.GET("/me/session", sessions.ActiveSession)
	protected.POST("/sessions", sessions.CreateSession)
	protected.GET("/sessions/:code", sessions.GetSession)
	protected.POST("/sessions/:code/join", sessions.JoinSession)
	protected.POST("/sessions/:code/ready", sessions.SetReady)
	protected.POST("/sessions/:code/countdown", sessions.StartCountdown)
	protected.POST("/sessions/:code/roll", sessions.RollDice)
	protected.POST("/sessions/:code/guess", sessions.SubmitGuess)
	protected.POST("/sessions/:code/end", sessions.EndGame)
	return &testServer{router: r, manager: manager}
}

func token(t *testing.T, accountID string) string {
	t.Helper()
	tok, err := middleware.GenerateToken(testSecret, accountID, "Player "+accountID, false, time.Hour)
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	return tok
}

func (s *testServer) do(t *testing.T, method, path, accountID string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if accountID != "" {
		req.Header.Set("Authorization", "Bearer "+token(t, accountID))
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{game.ErrNotFound, http.StatusNotFound},
		{fmt.Errorf("session X: %w", game.ErrNotFound), http.StatusNotFound},
		{game.ErrConflict, http.StatusConflict},
		{game.ErrCapacity, http.StatusConflict},
		{game.ErrStaleState, http.StatusConflict},
		{game.ErrNotHost, http.StatusForbidden},
		{game.ErrNotYourTurn, http.StatusForbidden},
		{services.ErrForcedLogout, http.StatusUnauthorized},
		{fmt.Errorf("redis get: %w", store.ErrUnavailable), http.StatusServiceUnavailable},
		{services.ErrArchiveDisabled, http.StatusServiceUnavailable},
		{game.ErrInvalidSettings, http.StatusBadRequest},
		{errors.New("boom"), http.StatusBadRequest},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestGuestToken(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/api/auth/guest", "", gin.H{"name": "  Zoe "})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Token       string `json:"token"`
		AccountID   string `json:"account_id"`
		DisplayName string `json:"display_name"`
	}
	decode(t, w, &resp)
	claims, err := middleware.ParseToken(testSecret, resp.Token)
	if err != nil {
		t.Fatalf("issued token does not parse: %v", err)
	}
	if claims.AccountID != resp.AccountID || !claims.Guest || resp.DisplayName != "Zoe" {
		t.Fatalf("unexpected guest identity: %+v %+v", resp, claims)
	}

	if w := s.do(t, http.MethodPost, "/api/auth/guest", "", gin.H{}); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without a name, got %d", w.Code)
	}
}

func TestSessionLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/api/sessions", "a", gin.H{"maxPlayers": 2, "durationMinutes": 10})
	if w.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", w.Code, w.Body.String())
	}
	var created struct {
		Code string `json:"code"`
	}
	decode(t, w, &created)
	if created.Code != "ROOM01" {
		t.Fatalf("unexpected code %q", created.Code)
	}

	if w := s.do(t, http.MethodPost, "/api/sessions/room01/join", "b", gin.H{"guestName": "Bee"}); w.Code != http.StatusOK {
		t.Fatalf("join with a lower case code: %d %s", w.Code, w.Body.String())
	}
	if w := s.do(t, http.MethodPost, "/api/sessions/ROOM01/join", "c", nil); w.Code != http.StatusConflict {
		t.Fatalf("expected 409 for a full session, got %d", w.Code)
	}
	if w := s.do(t, http.MethodPost, "/api/sessions/ROOM01/countdown", "b", nil); w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for a non-host countdown, got %d", w.Code)
	}

	for _, id := range []string{"a", "b"} {
		if w := s.do(t, http.MethodPost, "/api/sessions/ROOM01/ready", id, gin.H{"ready": true}); w.Code != http.StatusOK {
			t.Fatalf("ready %s: %d %s", id, w.Code, w.Body.String())
		}
	}

	// countdown runs on the server clock
	deadline := time.Now().Add(10 * time.Second)
	for {
		w := s.do(t, http.MethodPost, "/api/sessions/ROOM01/roll", "a", nil)
		if w.Code == http.StatusOK {
			var rolled struct {
				Country string `json:"country"`
			}
			decode(t, w, &rolled)
			if rolled.Country == "" {
				t.Fatalf("roll returned no country")
			}

			w = s.do(t, http.MethodGet, "/api/sessions/ROOM01", "b", nil)
			var snap map[string]any
			decode(t, w, &snap)
			turn, _ := snap["currentTurnState"].(map[string]any)
			if turn == nil || turn["country"] != nil {
				t.Fatalf("snapshot leaked the country: %v", turn)
			}

			w = s.do(t, http.MethodPost, "/api/sessions/ROOM01/guess", "a", gin.H{"guess": rolled.Country})
			var result struct {
				Correct bool `json:"correct"`
			}
			decode(t, w, &result)
			if w.Code != http.StatusOK || !result.Correct {
				t.Fatalf("guess: %d %s", w.Code, w.Body.String())
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("game never started: %d %s", w.Code, w.Body.String())
		}
		time.Sleep(50 * time.Millisecond)
	}

	if w := s.do(t, http.MethodPost, "/api/sessions/ROOM01/guess", "b", gin.H{}); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for an empty guess, got %d", w.Code)
	}
	if w := s.do(t, http.MethodPost, "/api/sessions/ROOM01/end", "b", nil); w.Code != http.StatusOK {
		t.Fatalf("end: %d %s", w.Code, w.Body.String())
	}
}

func TestSessionRequestValidation(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name    string
		method  string
		path    string
		account string
		body    any
		status  int
	}{
		{"no token", http.MethodPost, "/api/sessions", "", gin.H{"durationMinutes": 10}, http.StatusUnauthorized},
		{"missing duration", http.MethodPost, "/api/sessions", "a", gin.H{"maxPlayers": 2}, http.StatusBadRequest},
		{"too many seats", http.MethodPost, "/api/sessions", "a", gin.H{"maxPlayers": 99, "durationMinutes": 10}, http.StatusBadRequest},
		{"bad code", http.MethodGet, "/api/sessions/abc", "a", nil, http.StatusBadRequest},
		{"unknown code", http.MethodGet, "/api/sessions/ZZZZZZ", "a", nil, http.StatusNotFound},
		{"no active session", http.MethodGet, "/api/me/session", "a", nil, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := s.do(t, tt.method, tt.path, tt.account, tt.body); w.Code != tt.status {
				t.Fatalf("expected %d, got %d: %s", tt.status, w.Code, w.Body.String())
			}
		})
	}
}

func TestJoinQR(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/api/sessions/ab12cd/qr", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "image/png" {
		t.Fatalf("unexpected content type %q", ct)
	}
	if !bytes.HasPrefix(w.Body.Bytes(), []byte("\x89PNG")) {
		t.Fatalf("body is not a PNG")
	}
	if got := NewResultsHandler(nil, "https://geo.test").JoinURL("AB12CD"); got != "https://geo.test/join/AB12CD" {
		t.Fatalf("unexpected join url %q", got)
	}
}

func TestResultsWithoutArchive(t *testing.T) {
	s := newTestServer(t)
	if w := s.do(t, http.MethodGet, "/api/sessions/AB12CD/results", "", nil); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}
