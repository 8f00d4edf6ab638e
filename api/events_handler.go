package api

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
)

// events streams lifecycle events as server-sent events. Repeat the topic
// query parameter to subscribe to several topics; none means the firehose.
func (a *API) events(c *gin.Context) {
	hub := a.eng.Stream()
	sub, err := hub.Subscribe(c.QueryArray("topic")...)
	if err != nil {
		a.writeError(c, err)
		return
	}
	defer hub.Unsubscribe(sub)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	ctx := c.Request.Context()
	c.Stream(func(_ io.Writer) bool {
		select {
		case evt, ok := <-sub.C():
			if !ok {
				return false
			}
			c.SSEvent(string(evt.Type), evt)
			return true
		case <-ctx.Done():
			return false
		}
	})
}
