package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/empiretcg/empire-server-go/internal/apperrors"
	"github.com/empiretcg/empire-server-go/internal/auth"
	"github.com/empiretcg/empire-server-go/internal/deck"
	"github.com/empiretcg/empire-server-go/internal/game"
	"github.com/empiretcg/empire-server-go/internal/lobby"
	"github.com/empiretcg/empire-server-go/internal/repository"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	lib, err := deck.LoadLibrary("../deck/testdata/decks.yaml")
	require.NoError(t, err)
	require.NoError(t, lib.AddDeck(deck.Spec{
		Descriptor: deck.Descriptor{Name: "Tiny", OwnerID: "bob"},
		Army:       []deck.Entry{{CardID: 1001, Count: 2}},
		Civic:      []deck.Entry{{CardID: 2001, Count: 1}},
	}))

	logger := zaptest.NewLogger(t)
	store := repository.NewMemoryStore()
	cfg := game.DefaultConfig()
	cfg.ShuffleSeed = 7
	engine := game.NewEngine(logger, lib, cfg, game.WithStore(store),
		game.WithReplayRecorder(game.NewReplayRecorder(logger, t.TempDir())))
	validator := deck.NewValidator(lib, deck.Rules{MinNameLength: 3, ArmySize: 30, CivicSize: 15})
	lobbies := lobby.NewManager(logger, lib, validator, engine,
		lobby.WithClock(func() time.Time { return time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC) }))

	return NewRouter(Deps{
		Logger:   logger,
		Lobbies:  lobbies,
		Matches:  engine,
		Store:    store,
		Verifier: auth.InsecureVerifier{},
	})
}

func do(t *testing.T, r http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestHealthz(t *testing.T) {
	r := newTestRouter(t)
	w := do(t, r, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode[map[string]any](t, w)
	assert.Equal(t, "ok", body["status"])
	assert.EqualValues(t, 0, body["lobbies"])
}

func TestAPIRequiresBearerToken(t *testing.T) {
	r := newTestRouter(t)
	w := do(t, r, http.MethodGet, "/api/lobbies", "", nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	body := decode[errorBody](t, w)
	assert.Equal(t, "UNAUTHORIZED", body.Kind)
	assert.Equal(t, "missing bearer token", body.Error)
}

func TestLobbyToMatchOverHTTP(t *testing.T) {
	r := newTestRouter(t)

	w := do(t, r, http.MethodPost, "/api/lobbies", "alice:Alice", gin.H{
		"name":     "Skirmish",
		"deck":     "AliceDeck",
		"settings": lobby.Settings{AllowSpectators: true, MaxSpectators: 2, RequireDeckValidation: true, TimeLimitMinutes: 30},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode[lobby.Lobby](t, w)
	assert.Equal(t, "Alice", created.HostName)
	assert.Equal(t, "AliceDeck", created.Slots[0].Deck.Name)
	id := created.ID

	w = do(t, r, http.MethodPost, "/api/lobbies/"+id+"/join", "bob", gin.H{"deck": "BobDeck", "slot": 2})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(t, r, http.MethodGet, "/api/lobbies", "carol", nil)
	require.Equal(t, http.StatusOK, w.Code)
	listed := decode[struct {
		Lobbies []lobby.Lobby `json:"lobbies"`
	}](t, w)
	require.Len(t, listed.Lobbies, 1)

	for _, user := range []string{"alice", "bob"} {
		w = do(t, r, http.MethodPost, "/api/lobbies/"+id+"/ready", user, gin.H{"ready": true})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	}
	assert.Equal(t, lobby.StatusReadyToStart, decode[lobby.Lobby](t, w).Status)

	w = do(t, r, http.MethodPost, "/api/lobbies/"+id+"/start", "bob", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, r, http.MethodPost, "/api/lobbies/"+id+"/start", "alice", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	started := decode[struct {
		Lobby   lobby.Lobby `json:"lobby"`
		MatchID string      `json:"match_id"`
	}](t, w)
	assert.Equal(t, lobby.StatusInProgress, started.Lobby.Status)
	assert.Equal(t, id, started.MatchID)

	w = do(t, r, http.MethodGet, "/api/matches/"+id, "carol", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decode[map[string]any](t, w)["version"])

	w = do(t, r, http.MethodPost, "/api/matches/"+id+"/actions", "bob", gin.H{"kind": "Pass"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "not your turn", decode[errorBody](t, w).Error)

	w = do(t, r, http.MethodPost, "/api/matches/"+id+"/actions", "alice", gin.H{"kind": "Pass"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res := decode[game.Result](t, w)
	assert.Equal(t, "bob", res.PriorityPlayer)
	assert.EqualValues(t, 2, res.Version)

	w = do(t, r, http.MethodGet, "/api/matches/"+id+"/replay?step=1", "carol", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	replay := decode[struct {
		Steps     int            `json:"steps"`
		Checksums []string       `json:"checksums"`
		State     map[string]any `json:"state"`
	}](t, w)
	assert.Equal(t, 2, replay.Steps)
	require.Len(t, replay.Checksums, 2)
	assert.Equal(t, res.Checksum, replay.Checksums[1])
	assert.EqualValues(t, 2, replay.State["version"])

	w = do(t, r, http.MethodGet, "/api/matches/"+id+"/replay?step=9", "carol", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = do(t, r, http.MethodGet, "/api/matches/"+id+"/replay?step=last", "carol", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = do(t, r, http.MethodGet, "/api/matches/unknown/replay", "carol", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, r, http.MethodGet, "/api/matches/"+id+"/moves", "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	moves := decode[map[string][]map[string]any](t, w)["moves"]
	require.Len(t, moves, 1)
	assert.Equal(t, "Pass", moves[0]["move_type"])

	w = do(t, r, http.MethodGet, "/api/matches", "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	summaries := decode[map[string][]repository.Summary](t, w)["matches"]
	require.Len(t, summaries, 1)
	assert.Equal(t, [2]string{"alice", "bob"}, summaries[0].Players)
}

func TestLobbyErrorsOverHTTP(t *testing.T) {
	r := newTestRouter(t)

	w := do(t, r, http.MethodGet, "/api/lobbies/nope", "alice", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NOT_FOUND", decode[errorBody](t, w).Kind)

	w = do(t, r, http.MethodPost, "/api/lobbies", "alice", gin.H{"settings": gin.H{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, r, http.MethodPost, "/api/lobbies", "alice", gin.H{"name": "Open"})
	require.Equal(t, http.StatusCreated, w.Code)
	id := decode[lobby.Lobby](t, w).ID

	w = do(t, r, http.MethodPost, "/api/lobbies/"+id+"/ready", "alice", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, r, http.MethodDelete, "/api/lobbies/"+id, "bob", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, r, http.MethodPost, "/api/lobbies/"+id+"/deck", "alice", gin.H{"deck": "AliceDeck"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "AliceDeck", decode[lobby.Lobby](t, w).Slots[0].Deck.Name)

	w = do(t, r, http.MethodPost, "/api/lobbies/"+id+"/cancel", "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, lobby.StatusCancelled, decode[lobby.Lobby](t, w).Status)

	w = do(t, r, http.MethodGet, "/api/matches/unknown", "alice", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestValidateDeckOverHTTP(t *testing.T) {
	r := newTestRouter(t)

	w := do(t, r, http.MethodGet, "/api/decks/AliceDeck/validation", "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	ok := decode[struct {
		Valid  bool     `json:"valid"`
		Errors []string `json:"errors"`
	}](t, w)
	assert.True(t, ok.Valid)
	assert.Empty(t, ok.Errors)

	w = do(t, r, http.MethodGet, "/api/decks/Tiny/validation", "bob", nil)
	require.Equal(t, http.StatusOK, w.Code)
	bad := decode[struct {
		Valid  bool     `json:"valid"`
		Errors []string `json:"errors"`
	}](t, w)
	assert.False(t, bad.Valid)
	assert.NotEmpty(t, bad.Errors)
}

func TestHTTPStatus(t *testing.T) {
	cases := map[int]error{
		http.StatusBadRequest:          apperrors.Validation("op", "x"),
		http.StatusConflict:            apperrors.Conflict("op", "x"),
		http.StatusNotFound:            apperrors.NotFound("op", "x"),
		http.StatusServiceUnavailable:  apperrors.Persistence("op", errors.New("down")),
		http.StatusUnauthorized:        apperrors.Unauthorized("op", "x"),
		http.StatusInternalServerError: errors.New("boom"),
	}
	for want, err := range cases {
		assert.Equal(t, want, HTTPStatus(err), err.Error())
	}
	assert.Equal(t, http.StatusConflict, HTTPStatus(apperrors.Concurrency("op", "stale")))
}

func TestPanicRecovery(t *testing.T) {
	r := newTestRouter(t)
	r.GET("/boom", func(*gin.Context) { panic("kaboom") })

	w := do(t, r, http.MethodGet, "/boom", "", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "INTERNAL", decode[errorBody](t, w).Kind)
}
