package web

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"giftwatch/internal/store"
	logx "giftwatch/pkg/logx"
)

func (s *Server) router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	api := r.Group("/api")
	api.POST("/events", s.ingestEvent)
	api.GET("/gifts", s.listGifts)
	api.GET("/gifts/:id", s.getGift)
	api.DELETE("/gifts/:id", s.deleteGift)
	api.GET("/queue", s.queueState)
	return r
}

// ingestEvent accepts one raw room event from an external connection
// adapter and feeds it to the pipeline. Unrecognized events are dropped
// downstream, so this always answers 202 for valid JSON.
func (s *Server) ingestEvent(c *gin.Context) {
	ctx := c.Request.Context()

	var raw map[string]any
	if err := c.ShouldBindJSON(&raw); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if s.sink == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "ingest not wired"})
		return
	}
	if err := s.sink.HandleEvent(ctx, raw); err != nil {
		if !s.log.IsZero() {
			s.log.Warn("event ingest failed", logx.Err(err))
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to process event"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

func (s *Server) listGifts(c *gin.Context) {
	ctx := c.Request.Context()

	q := store.GiftQuery{
		ActorName: c.Query("uname"),
		ItemName:  c.Query("gift"),
	}
	var err error
	if q.StartTS, err = int64Query(c, "from"); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "from: " + err.Error()})
		return
	}
	if q.EndTS, err = int64Query(c, "to"); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "to: " + err.Error()})
		return
	}
	limit, err := int64Query(c, "limit")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit: " + err.Error()})
		return
	}
	q.Limit = int(limit)

	gifts, err := s.rec.Gifts(ctx, s.roomID(), q)
	if err != nil {
		if !s.log.IsZero() {
			s.log.Warn("gift query failed", logx.Err(err))
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read gifts"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"gifts": gifts, "count": len(gifts)})
}

func (s *Server) getGift(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	rec, ok, err := s.rec.GiftByID(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read gift"})
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "gift not found"})
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) deleteGift(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	ok, err := s.rec.DeleteGift(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete gift"})
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "gift not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted", "id": id})
}

func (s *Server) queueState(c *gin.Context) {
	ctx := c.Request.Context()
	room := s.roomID()

	limit, err := int64Query(c, "limit")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit: " + err.Error()})
		return
	}
	msgs, err := s.rec.QueueMessages(ctx, room, int(limit))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read queue"})
		return
	}
	lastSent, err := s.rec.LastSentAt(ctx, room)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read queue"})
		return
	}
	var lastSentMillis int64
	if !lastSent.IsZero() {
		lastSentMillis = lastSent.UnixMilli()
	}
	c.JSON(http.StatusOK, gin.H{
		"messages":     msgs,
		"count":        len(msgs),
		"last_sent_at": lastSentMillis,
	})
}

func int64Query(c *gin.Context, name string) (int64, error) {
	raw := c.Query(name)
	if raw == "" {
		return 0, nil
	}
	return strconv.ParseInt(raw, 10, 64)
}
