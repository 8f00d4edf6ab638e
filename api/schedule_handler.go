package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

func (a *API) listSchedules(c *gin.Context) {
	entries, err := a.eng.Schedules().List(c.Request.Context())
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

func (a *API) getSchedule(c *gin.Context) {
	entry, err := a.eng.Schedules().Get(c.Request.Context(), c.Param("name"))
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

func (a *API) enableSchedule(c *gin.Context)  { a.setScheduleEnabled(c, true) }
func (a *API) disableSchedule(c *gin.Context) { a.setScheduleEnabled(c, false) }

func (a *API) setScheduleEnabled(c *gin.Context, enabled bool) {
	entry, err := a.eng.Schedules().SetEnabled(c.Request.Context(), c.Param("name"), enabled, time.Now())
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, entry)
}
