package cmd

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"orianna/internal/utils/sse"
)

func startSSE(logger *zap.Logger) {
	r := gin.Default()
	r.GET("/sse/sessions", SSESessionStream)

	sseAddr := fmt.Sprintf(":%s", viper.GetString("server.sseport"))

	go func() {
		if err := r.Run(sseAddr); err != nil {
			logger.Error("Failed to start SSE server", zap.Error(err))
		}
	}()
}

// SSESessionStream pushes session events (completion, evaluation results,
// timed-out questions) to the connected user.
func SSESessionStream(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(400, gin.H{"error": "user_id is required"})
		return
	}

	uid, err := strconv.ParseUint(userID, 10, 64)
	if err != nil {
		c.JSON(400, gin.H{"error": "invalid user_id format"})
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
	c.Writer.Header().Set("Access-Control-Allow-Headers", "Cache-Control")

	ch := make(chan map[string]interface{}, 10)
	sse.RegisterChannel(uid, ch)

	initialMsg := map[string]interface{}{
		"type":      "connection_established",
		"userID":    uid,
		"timestamp": time.Now().Unix(),
	}
	if jsonData, err := json.Marshal(initialMsg); err == nil {
		fmt.Fprintf(c.Writer, "data: %s\n\n", string(jsonData))
		c.Writer.Flush()
	}

	clientGone := make(chan bool)
	go func() {
		<-c.Request.Context().Done()
		clientGone <- true
	}()

	heartbeat := time.NewTicker(60 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-clientGone:
			sse.UnregisterChannel(uid)
			return

		case <-heartbeat.C:
			heartbeatMsg := map[string]interface{}{
				"type":      "heartbeat",
				"timestamp": time.Now().Unix(),
			}
			if jsonData, err := json.Marshal(heartbeatMsg); err == nil {
				fmt.Fprintf(c.Writer, "data: %s\n\n", string(jsonData))
				c.Writer.Flush()
			}

		case notification := <-ch:
			if jsonData, err := json.Marshal(notification); err == nil {
				fmt.Fprintf(c.Writer, "data: %s\n\n", string(jsonData))
				c.Writer.Flush()
			}
		}
	}
}
