package server

import (
	"net/http"
	"strconv"

	"github.com/empiretcg/empire-server-go/internal/apperrors"
	"github.com/empiretcg/empire-server-go/internal/game"
	"github.com/empiretcg/empire-server-go/internal/lobby"
	"github.com/gin-gonic/gin"
)

type handlers struct {
	deps Deps
}

type createLobbyRequest struct {
	Name     string         `json:"name" binding:"required"`
	Deck     string         `json:"deck"`
	Settings lobby.Settings `json:"settings"`
}

type joinLobbyRequest struct {
	Deck string `json:"deck" binding:"required"`
	// Slot is 1-based; 0 takes the first free seat.
	Slot int `json:"slot"`
}

type readyRequest struct {
	Ready *bool `json:"ready" binding:"required"`
}

type deckRequest struct {
	Deck string `json:"deck" binding:"required"`
}

func (h *handlers) health(c *gin.Context) {
	if h.deps.Store != nil {
		if err := h.deps.Store.Ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	body := gin.H{"status": "ok"}
	if h.deps.Lobbies != nil {
		body["lobbies"] = h.deps.Lobbies.Count()
	}
	c.JSON(http.StatusOK, body)
}

func (h *handlers) listLobbies(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"lobbies": h.deps.Lobbies.ListActive()})
}

func (h *handlers) createLobby(c *gin.Context) {
	var req createLobbyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "CreateLobby", err)
		return
	}
	id := identity(c)
	l, err := h.deps.Lobbies.CreateLobby(req.Name, id.UserID, id.Name, req.Settings)
	if err != nil {
		abortWithError(c, err)
		return
	}
	if req.Deck != "" {
		if l, err = h.deps.Lobbies.UpdateDeck(c.Request.Context(), l.ID, id.UserID, req.Deck); err != nil {
			abortWithError(c, err)
			return
		}
	}
	c.JSON(http.StatusCreated, l)
}

func (h *handlers) getLobby(c *gin.Context) {
	l, err := h.deps.Lobbies.GetLobby(c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, l)
}

func (h *handlers) joinLobby(c *gin.Context) {
	var req joinLobbyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "JoinLobby", err)
		return
	}
	id := identity(c)
	l, err := h.deps.Lobbies.JoinLobby(c.Param("id"), id.UserID, id.Name, req.Deck, req.Slot)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, l)
}

func (h *handlers) spectate(c *gin.Context) {
	id := identity(c)
	l, err := h.deps.Lobbies.JoinAsSpectator(c.Param("id"), id.UserID, id.Name)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, l)
}

func (h *handlers) leaveLobby(c *gin.Context) {
	l, err := h.deps.Lobbies.LeaveLobby(c.Param("id"), identity(c).UserID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, l)
}

func (h *handlers) setReady(c *gin.Context) {
	var req readyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "SetReady", err)
		return
	}
	l, err := h.deps.Lobbies.SetReady(c.Request.Context(), c.Param("id"), identity(c).UserID, *req.Ready)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, l)
}

func (h *handlers) updateDeck(c *gin.Context) {
	var req deckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "UpdateDeck", err)
		return
	}
	l, err := h.deps.Lobbies.UpdateDeck(c.Request.Context(), c.Param("id"), identity(c).UserID, req.Deck)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, l)
}

func (h *handlers) startGame(c *gin.Context) {
	l, err := h.deps.Lobbies.StartGame(c.Request.Context(), c.Param("id"), identity(c).UserID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"lobby": l, "match_id": l.ID})
}

func (h *handlers) cancelLobby(c *gin.Context) {
	l, err := h.deps.Lobbies.CancelLobby(c.Param("id"), identity(c).UserID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, l)
}

func (h *handlers) validateDeck(c *gin.Context) {
	problems := h.deps.Lobbies.ValidateDeck(c.Request.Context(), identity(c).UserID, c.Param("name"))
	if problems == nil {
		problems = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"valid": len(problems) == 0, "errors": problems})
}

func (h *handlers) listMatches(c *gin.Context) {
	summaries, err := h.deps.Store.ListMatches(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"matches": summaries})
}

func (h *handlers) getMatch(c *gin.Context) {
	ms, err := h.deps.Matches.State(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, ms)
}

func (h *handlers) getMoves(c *gin.Context) {
	moves, err := h.deps.Matches.Moves(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"moves": moves})
}

// getReplay lists the recorded checksums of a match. With ?step=N it also
// returns the state committed at that step.
func (h *handlers) getReplay(c *gin.Context) {
	const op = "Replay"
	replay, err := h.deps.Matches.Replay(c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	body := gin.H{
		"match_id":  replay.MatchID,
		"steps":     replay.Size(),
		"checksums": replay.Checksums(),
	}
	if raw, ok := c.GetQuery("step"); ok {
		step, err := strconv.Atoi(raw)
		if err != nil {
			badRequest(c, op, err)
			return
		}
		ms := replay.StateAt(step)
		if ms == nil {
			abortWithError(c, apperrors.Validation(op, "step %d out of range [0,%d)", step, replay.Size()))
			return
		}
		body["step"] = step
		body["state"] = ms
	}
	c.JSON(http.StatusOK, body)
}

func (h *handlers) submitAction(c *gin.Context) {
	var action game.Action
	if err := c.ShouldBindJSON(&action); err != nil {
		badRequest(c, "SubmitAction", err)
		return
	}
	res, err := h.deps.Matches.SubmitAction(c.Request.Context(), c.Param("id"), identity(c).UserID, action)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
