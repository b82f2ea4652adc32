package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ZentaChain/qight/pkg/crypto"
	"github.com/ZentaChain/qight/pkg/envelope"
)

// HealthResponse is returned by /health
type HealthResponse struct {
	Status string    `json:"status"`
	Uptime string    `json:"uptime"`
	Time   time.Time `json:"time"`
}

// StatsResponse is returned by /api/v1/stats
type StatsResponse struct {
	UptimeSeconds     int64          `json:"uptime_seconds"`
	ActiveConnections int            `json:"active_connections"`
	TotalConnections  uint64         `json:"total_connections"`
	Recipients        int            `json:"recipients"`
	Envelopes         int            `json:"envelopes"`
	ByRecipient       map[string]int `json:"by_recipient"`
}

// EnvelopeInfo describes a queued envelope without its payload
type EnvelopeInfo struct {
	ID        string `json:"id"`
	Sender    string `json:"sender"`
	CreatedAt uint64 `json:"created_at"`
	TTL       uint32 `json:"ttl"`
	Size      int    `json:"size"`
	Expired   bool   `json:"expired"`
	Digest    string `json:"digest"` // BLAKE2b-256 of the payload
}

// QueueResponse lists a recipient's queue
type QueueResponse struct {
	Recipient string         `json:"recipient"`
	Count     int            `json:"count"`
	Envelopes []EnvelopeInfo `json:"envelopes"`
}

// DrainResponse reports a drained queue
type DrainResponse struct {
	Recipient string `json:"recipient"`
	Removed   int    `json:"removed"`
}

// handleHealth handles GET /health
func (s *Server) handleHealth(c *gin.Context) {
	stats, err := s.relay.Stats()
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error:   "Store unavailable",
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, HealthResponse{
		Status: "healthy",
		Uptime: stats.Uptime.Truncate(time.Second).String(),
		Time:   time.Now().UTC(),
	})
}

// handleStats handles GET /api/v1/stats
func (s *Server) handleStats(c *gin.Context) {
	stats, err := s.relay.Stats()
	if err != nil {
		s.logger.Errorw("failed to read relay stats", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "Failed to read stats",
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, StatsResponse{
		UptimeSeconds:     int64(stats.Uptime.Seconds()),
		ActiveConnections: stats.ActiveConnections,
		TotalConnections:  stats.TotalConnections,
		Recipients:        stats.Store.Recipients,
		Envelopes:         stats.Store.Envelopes,
		ByRecipient:       stats.Store.ByRecipient,
	})
}

// handleNodeInfo handles GET /api/v1/node
func (s *Server) handleNodeInfo(c *gin.Context) {
	if s.node == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "libp2p disabled",
			Message: "The relay is not serving the libp2p transport",
		})
		return
	}
	c.JSON(http.StatusOK, s.node.Info())
}

// handleQueue handles GET /api/v1/queues/:recipient
func (s *Server) handleQueue(c *gin.Context) {
	recipient := c.Param("recipient")

	envs, err := s.relay.Store().Snapshot(recipient)
	if err != nil {
		s.logger.Errorw("failed to read queue", "recipient", recipient, "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "Failed to read queue",
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, QueueResponse{
		Recipient: recipient,
		Count:     len(envs),
		Envelopes: describe(envs, time.Now()),
	})
}

// handleDrain handles DELETE /api/v1/queues/:recipient
func (s *Server) handleDrain(c *gin.Context) {
	recipient := c.Param("recipient")

	envs, err := s.relay.Store().Drain(recipient)
	if err != nil {
		s.logger.Errorw("failed to drain queue", "recipient", recipient, "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "Failed to drain queue",
			Message: err.Error(),
		})
		return
	}

	s.logger.Infow("queue drained", "recipient", recipient, "removed", len(envs))
	c.JSON(http.StatusOK, DrainResponse{
		Recipient: recipient,
		Removed:   len(envs),
	})
}

func describe(envs []*envelope.Envelope, now time.Time) []EnvelopeInfo {
	out := make([]EnvelopeInfo, len(envs))
	for i, env := range envs {
		out[i] = EnvelopeInfo{
			ID:        env.ID,
			Sender:    env.Sender,
			CreatedAt: env.CreatedAt,
			TTL:       env.TTL,
			Size:      len(env.Payload),
			Expired:   env.IsExpired(now),
			Digest:    crypto.Fingerprint(env.Payload),
		}
	}
	return out
}
