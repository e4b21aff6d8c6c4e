package query

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	httperr "github.com/mesa-analytics/mesa/internal/httpapi"
	"github.com/mesa-analytics/mesa/internal/refresh"
	"github.com/mesa-analytics/mesa/internal/rollup"
)

// RegisterRoutes registers the query API routes on the given router.
func (s *Service) RegisterRoutes(r gin.IRouter) {
	r.GET("/v1/rollups", s.HandleList)
	r.GET("/v1/rollups/:name", s.HandleSnapshot)
	r.GET("/v1/rollups/:name/status", s.HandleStatus)
	if s.refresher != nil {
		r.POST("/v1/rollups/:name/refresh", s.HandleRefresh)
	}
}

// HandleList handles GET /v1/rollups.
func (s *Service) HandleList(c *gin.Context) {
	c.JSON(http.StatusOK, s.List())
}

// HandleSnapshot handles GET /v1/rollups/:name.
// Query parameters: start, end (RFC 3339), plus one parameter per dimension
// for equality slicing (e.g. ?city=Recife). Unknown parameters are rejected.
func (s *Service) HandleSnapshot(c *gin.Context) {
	name := c.Param("name")

	q := SnapshotQuery{DimFilters: make(map[string]string)}
	for key, vals := range c.Request.URL.Query() {
		if len(vals) == 0 || vals[0] == "" {
			continue
		}
		switch key {
		case "start":
			t, err := time.Parse(time.RFC3339, vals[0])
			if err != nil {
				badRequest(c, "Invalid start parameter", err.Error())
				return
			}
			q.Start = t
		case "end":
			t, err := time.Parse(time.RFC3339, vals[0])
			if err != nil {
				badRequest(c, "Invalid end parameter", err.Error())
				return
			}
			q.End = t
		default:
			q.DimFilters[key] = vals[0]
		}
	}

	resp, err := s.Snapshot(c.Request.Context(), name, q)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// HandleStatus handles GET /v1/rollups/:name/status.
func (s *Service) HandleStatus(c *gin.Context) {
	st, err := s.RollupStatus(c.Param("name"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// HandleRefresh handles POST /v1/rollups/:name/refresh, the explicit
// operator trigger. The refresh itself runs detached from the request so a
// dropped connection cannot abort a swap.
func (s *Service) HandleRefresh(c *gin.Context) {
	name := c.Param("name")
	if _, ok := s.registry.Get(name); !ok {
		respondError(c, rollup.ErrUnknownRollup)
		return
	}
	if st, ok := s.status.Status(name); ok && st.State == refresh.StateRunning {
		c.JSON(http.StatusConflict, httperr.ErrorResponse{
			ErrorType: httperr.RefreshInProgressError,
			Message:   "Refresh already running",
		})
		return
	}

	go func() {
		if err := s.refresher.Refresh(context.Background(), name); err != nil &&
			!errors.Is(err, rollup.ErrRefreshInProgress) {
			slog.Warn("[Query] Manual refresh failed", "rollup", name, "error", err)
		}
	}()

	c.JSON(http.StatusAccepted, gin.H{"status": "refresh triggered", "rollup": name})
}

func badRequest(c *gin.Context, message, details string) {
	c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
		ErrorType: httperr.InvalidQueryError,
		Message:   message,
		Details:   details,
	})
}

func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, rollup.ErrUnknownRollup):
		c.JSON(http.StatusNotFound, httperr.ErrorResponse{
			ErrorType: httperr.UnknownRollupError,
			Message:   "Unknown rollup",
			Details:   err.Error(),
		})
	case errors.Is(err, ErrInvalidQuery):
		badRequest(c, "Invalid snapshot query", err.Error())
	default:
		c.JSON(http.StatusInternalServerError, httperr.ErrorResponse{
			ErrorType: httperr.InternalError,
			Message:   "Failed to read snapshot",
			Details:   err.Error(),
		})
	}
}
