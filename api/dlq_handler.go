package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/xraph/tempo/dlq"
)

// DeadListResponse is a page of dead entries.
type DeadListResponse struct {
	Entries []*dlq.Entry `json:"entries"`
	Total   int64        `json:"total"`
}

func (a *API) listDead(c *gin.Context) {
	limit, err := queryInt(c, "limit", 50)
	if err != nil {
		a.writeError(c, err)
		return
	}
	offset, err := queryInt(c, "offset", 0)
	if err != nil {
		a.writeError(c, err)
		return
	}

	ctx := c.Request.Context()
	entries, err := a.eng.DLQService().List(ctx, dlq.ListOpts{Limit: limit, Offset: offset})
	if err != nil {
		a.writeError(c, err)
		return
	}
	total, err := a.eng.DLQService().Count(ctx)
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, DeadListResponse{Entries: entries, Total: total})
}

func (a *API) getDead(c *gin.Context) {
	entry, err := a.eng.DLQService().Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

func (a *API) replayDead(c *gin.Context) {
	j, err := a.eng.DLQService().Replay(c.Request.Context(), c.Param("id"))
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, j)
}

func (a *API) deleteDead(c *gin.Context) {
	if err := a.eng.DLQService().Delete(c.Request.Context(), c.Param("id")); err != nil {
		a.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (a *API) purgeDead(c *gin.Context) {
	n, err := a.eng.DLQService().Purge(c.Request.Context())
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"purged": n})
}
