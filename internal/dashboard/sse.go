package dashboard

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/gin-gonic/gin"
)

// heartbeatInterval keeps idle streams open through proxies.
var heartbeatInterval = 15 * time.Second

// handleSSE streams log updates as they happen. Each update is sent as an
// event named after its kind ("appended" or "updated").
func handleSSE(src Source) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Header("X-Accel-Buffering", "no")

		updates, cancel := src.Log().Subscribe(256)
		defer cancel()

		writeSSE(c.Writer, "connected", src.Snapshot())
		c.Writer.Flush()

		ctx := c.Request.Context()
		heartbeat := time.NewTicker(heartbeatInterval)
		defer heartbeat.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-heartbeat.C:
				writeSSE(c.Writer, "heartbeat", map[string]string{
					"timestamp": time.Now().UTC().Format(time.RFC3339),
				})
				c.Writer.Flush()
			case u, ok := <-updates:
				if !ok {
					return
				}
				writeSSE(c.Writer, string(u.Kind), gin.H{
					"index":   u.Index,
					"message": newMessageView(u.Message),
				})
				c.Writer.Flush()
			}
		}
	}
}

// writeSSE writes a single SSE event to the writer.
func writeSSE(w io.Writer, event string, data any) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, string(jsonData))
}
