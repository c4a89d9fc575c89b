package controller

import (
	"context"
	"strconv"

	"codeduel/internal/common/http/middleware"
	"codeduel/internal/match/model"
	pkgerrors "codeduel/pkg/errors"
	pkgrepo "codeduel/pkg/repository"
	"codeduel/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// MatchReader is the read and admin surface of the lifecycle manager.
type MatchReader interface {
	GetMatchByID(ctx context.Context, matchID string) (*model.MatchDetails, error)
	GetUserActiveMatch(ctx context.Context, playerID string) (*model.MatchDetails, error)
	GetMatchHistory(ctx context.Context, playerID string, opts pkgrepo.PageOptions) ([]model.MatchDetails, error)
	CancelMatch(ctx context.Context, matchID string) (*model.Outcome, error)
}

// MatchController handles match HTTP endpoints.
type MatchController struct {
	matches MatchReader
}

func NewMatchController(matches MatchReader) *MatchController {
	return &MatchController{matches: matches}
}

// Register mounts the match routes; auth guards the player routes and admin the cancel route.
func (h *MatchController) Register(api *gin.RouterGroup, auth, admin gin.HandlerFunc) {
	matches := api.Group("/matches", auth)
	matches.GET("/user/history", h.History)
	matches.GET("/user/active", h.Active)
	matches.GET("/:id", h.Get)

	api.POST("/admin/matches/:id/cancel", admin, h.Cancel)
}

// Get returns a match; hidden cases are stripped while it runs.
func (h *MatchController) Get(c *gin.Context) {
	matchID := c.Param("id")
	if matchID == "" {
		response.BadRequest(c, "Invalid match id")
		return
	}

	details, err := h.matches.GetMatchByID(c.Request.Context(), matchID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, details.ForClient())
}

// History lists the caller's completed matches.
func (h *MatchController) History(c *gin.Context) {
	principal, ok := middleware.PrincipalFrom(c)
	if !ok {
		response.ErrorWithCode(c, pkgerrors.Unauthorized, "")
		return
	}

	opts := pkgrepo.PageOptions{}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			response.BadRequest(c, "Invalid limit")
			return
		}
		opts.Limit = limit
	}
	if raw := c.Query("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil {
			response.BadRequest(c, "Invalid offset")
			return
		}
		opts.Offset = offset
	}

	history, err := h.matches.GetMatchHistory(c.Request.Context(), principal.PlayerID, opts)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, history)
}

// Active returns the caller's running match, or null.
func (h *MatchController) Active(c *gin.Context) {
	principal, ok := middleware.PrincipalFrom(c)
	if !ok {
		response.ErrorWithCode(c, pkgerrors.Unauthorized, "")
		return
	}

	details, err := h.matches.GetUserActiveMatch(c.Request.Context(), principal.PlayerID)
	if err != nil {
		response.Error(c, err)
		return
	}
	if details == nil {
		response.Success(c, nil)
		return
	}
	response.Success(c, details.ForClient())
}

// Cancel ends a running match without a winner.
func (h *MatchController) Cancel(c *gin.Context) {
	outcome, err := h.matches.CancelMatch(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, outcome)
}
