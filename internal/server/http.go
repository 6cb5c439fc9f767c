package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/empiretcg/empire-server-go/internal/apperrors"
	"github.com/empiretcg/empire-server-go/internal/auth"
	"github.com/empiretcg/empire-server-go/internal/game"
	"github.com/empiretcg/empire-server-go/internal/game/state"
	"github.com/empiretcg/empire-server-go/internal/lobby"
	"github.com/empiretcg/empire-server-go/internal/repository"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Matches is the engine surface the REST API needs.
type Matches interface {
	State(ctx context.Context, matchID string) (*state.MatchState, error)
	Moves(ctx context.Context, matchID string) ([]state.GameMove, error)
	SubmitAction(ctx context.Context, matchID, playerID string, action game.Action) (*game.Result, error)
	Replay(matchID string) (*game.Replay, error)
}

// Deps wires the router to the rest of the server.
type Deps struct {
	Logger   *zap.Logger
	Lobbies  *lobby.Manager
	Matches  Matches
	Store    repository.Store
	Verifier auth.Verifier

	// WS, when set, is mounted at WSPath outside the authenticated group;
	// it authenticates on its own.
	WS     http.Handler
	WSPath string
}

const identityKey = "identity"

// NewRouter builds the gin engine serving the REST API.
func NewRouter(d Deps) *gin.Engine {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	r := gin.New()
	r.Use(ginRecovery(d.Logger), ginLogger(d.Logger))

	h := &handlers{deps: d}
	r.GET("/healthz", h.health)
	if d.WS != nil {
		path := d.WSPath
		if path == "" {
			path = "/ws"
		}
		r.GET(path, gin.WrapH(d.WS))
	}

	api := r.Group("/api", authenticate(d.Verifier))
	api.GET("/lobbies", h.listLobbies)
	api.POST("/lobbies", h.createLobby)
	api.GET("/lobbies/:id", h.getLobby)
	api.POST("/lobbies/:id/join", h.joinLobby)
	api.POST("/lobbies/:id/spectate", h.spectate)
	api.POST("/lobbies/:id/leave", h.leaveLobby)
	api.POST("/lobbies/:id/ready", h.setReady)
	api.PUT("/lobbies/:id/deck", h.updateDeck)
	api.POST("/lobbies/:id/deck", h.updateDeck)
	api.POST("/lobbies/:id/start", h.startGame)
	api.POST("/lobbies/:id/cancel", h.cancelLobby)
	api.DELETE("/lobbies/:id", h.cancelLobby)
	api.GET("/decks/:name/validation", h.validateDeck)

	api.GET("/matches", h.listMatches)
	api.GET("/matches/:id", h.getMatch)
	api.GET("/matches/:id/moves", h.getMoves)
	api.POST("/matches/:id/actions", h.submitAction)
	api.GET("/matches/:id/replay", h.getReplay)
	return r
}

func authenticate(v auth.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := auth.BearerToken(c.GetHeader("Authorization"))
		if !ok {
			abortWithError(c, apperrors.Unauthorized("authenticate", "missing bearer token"))
			return
		}
		id, err := v.Verify(c.Request.Context(), token)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.Set(identityKey, id)
		c.Next()
	}
}

func identity(c *gin.Context) auth.Identity {
	id, _ := c.Get(identityKey)
	ident, _ := id.(auth.Identity)
	return ident
}

func ginLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			logger.Warn("http request", fields...)
			return
		}
		logger.Debug("http request", fields...)
	}
}

func ginRecovery(logger *zap.Logger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		logger.Error("panic in http handler",
			zap.String("path", c.Request.URL.Path),
			zap.Any("panic", recovered),
			zap.Stack("stack"),
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, errorBody{Error: "internal error", Kind: apperrors.KindInternal.String()})
	})
}

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// HTTPStatus maps an error kind to its HTTP status code.
func HTTPStatus(err error) int {
	switch apperrors.KindOf(err) {
	case apperrors.KindValidation:
		return http.StatusBadRequest
	case apperrors.KindConflict, apperrors.KindConcurrency:
		return http.StatusConflict
	case apperrors.KindNotFound:
		return http.StatusNotFound
	case apperrors.KindPersistence:
		return http.StatusServiceUnavailable
	case apperrors.KindUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func abortWithError(c *gin.Context, err error) {
	_ = c.Error(err)
	msg := apperrors.Message(err)
	var ae *apperrors.Error
	if !errors.As(err, &ae) {
		msg = "internal error"
	}
	c.AbortWithStatusJSON(HTTPStatus(err), errorBody{Error: msg, Kind: apperrors.KindOf(err).String()})
}

func badRequest(c *gin.Context, op string, err error) {
	abortWithError(c, apperrors.Validation(op, "malformed request: %v", err))
}
