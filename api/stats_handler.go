package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (a *API) stats(c *gin.Context) {
	s, err := a.eng.Stats(c.Request.Context())
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}
