package http

import (
	"net/http"

	"github.com/dkeye/voicemesh/internal/app"
	"github.com/dkeye/voicemesh/internal/core"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

type TopicsResponse struct {
	Topics      []core.TopicInfo `json:"topics"`
	Connections int              `json:"connections"`
}

func topicsHandler(orch *app.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, TopicsResponse{
			Topics:      orch.Topics.List(),
			Connections: orch.Registry.Count(),
		})
	}
}

func evictTopicHandler(orch *app.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		name := c.Param("name")
		if !orch.EvictTopic(name) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no such topic"})
			return
		}
		log.Info().Str("module", "adapters.http").Str("topic", name).Msg("topic evicted by admin")
		c.Status(http.StatusNoContent)
	}
}

func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
