package httpapi

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/gin-gonic/gin"
)

// setSSEHeaders marks the response as a server-sent-events stream, per
// spec.md §6's Delta → SSE framing.
func setSSEHeaders(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
}

// writeSSEChunk writes one `data: <json>\n\n` event.
func writeSSEChunk(w io.Writer, chunk ChatStreamChunk) {
	data, err := json.Marshal(chunk)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
}

// writeSSEDone writes the terminal `data: [DONE]\n\n` sentinel.
func writeSSEDone(w io.Writer) {
	io.WriteString(w, "data: [DONE]\n\n")
}

func mustMarshalBytes(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte(`{"error":"failed to marshal response"}`)
	}
	return data
}
