package main

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/yuthstyle88/api-108jobs-sub001/pkg/ack"
	"github.com/yuthstyle88/api-108jobs-sub001/pkg/auth"
	"github.com/yuthstyle88/api-108jobs-sub001/pkg/broker"
	"github.com/yuthstyle88/api-108jobs-sub001/pkg/errs"
	"github.com/yuthstyle88/api-108jobs-sub001/pkg/history"
	"github.com/yuthstyle88/api-108jobs-sub001/pkg/model"
	"github.com/yuthstyle88/api-108jobs-sub001/pkg/presence"
	"github.com/yuthstyle88/api-108jobs-sub001/pkg/store"
)

const userKey = "userID"

type Server struct {
	store   *store.Store
	acks    ack.Store
	history *history.Service
	mirror  *presence.RedisMirror
	rdb     *redis.Client
	auth    *auth.Manager
	log     *zap.Logger
}

func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := auth.FromHeader(c.GetHeader("Authorization"))
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		claims, err := s.auth.ValidateToken(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set(userKey, claims.UserID)
		c.Next()
	}
}

// requireMember confirms the caller participates in the room before exposing
// its data.
func (s *Server) requireMember(c *gin.Context, roomID string) bool {
	userID := c.GetString(userKey)
	participants, err := s.store.Participants(c.Request.Context(), roomID)
	if err != nil {
		s.log.Error("load participants", zap.String("room", roomID), zap.Error(err))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "storage unavailable"})
		return false
	}
	for _, p := range participants {
		if p == userID {
			return true
		}
	}
	c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "not a room member"})
	return false
}

type loginRequest struct {
	UserID     string `json:"userId" binding:"required"`
	SessionKey string `json:"sessionKey"`
}

func (s *Server) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "userId is required"})
		return
	}
	token, err := s.auth.GenerateToken(req.UserID, req.SessionKey)
	if err != nil {
		s.log.Error("generate token", zap.String("user", req.UserID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token generation failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token})
}

func (s *Server) roomHistory(c *gin.Context) {
	roomID := c.Param("roomID")
	if !s.requireMember(c, roomID) {
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	dir := history.ParseDirection(c.Query("direction"))

	page, err := s.history.Fetch(c.Request.Context(), roomID, c.Query("cursor"), limit, dir)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, page)
}

func (s *Server) lastRead(c *gin.Context) {
	roomID := c.Param("roomID")
	if !s.requireMember(c, roomID) {
		return
	}
	reads, err := s.store.LastReads(c.Request.Context(), roomID)
	if err != nil {
		s.log.Error("load last reads", zap.String("room", roomID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage unavailable"})
		return
	}
	if peer := c.Query("peer"); peer != "" {
		for _, r := range reads {
			if r.UserID == peer {
				c.JSON(http.StatusOK, gin.H{"lastRead": r})
				return
			}
		}
		c.JSON(http.StatusNotFound, gin.H{"error": "no read marker for peer"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"lastRead": reads})
}

func (s *Server) unread(c *gin.Context) {
	userID := c.GetString(userKey)
	entries, err := s.store.UnreadCounts(c.Request.Context(), userID)
	if err != nil {
		s.log.Error("load unread counts", zap.String("user", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"unread": entries})
}

func (s *Server) pendingAcks(c *gin.Context) {
	roomID := c.Param("roomID")
	if !s.requireMember(c, roomID) {
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	var (
		entries []ack.Entry
		err     error
	)
	if v := c.Query("before"); v != "" {
		before, perr := time.Parse(time.RFC3339, v)
		if perr != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "before is not an RFC3339 timestamp"})
			return
		}
		// The cutoff rides into the store query so the age filter applies
		// before the limit truncates the page.
		entries, err = s.acks.Reminder(c.Request.Context(), roomID, c.GetString(userKey), time.Since(before), limit)
	} else {
		entries, err = s.acks.List(c.Request.Context(), roomID, c.GetString(userKey), limit)
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"pending": entries})
}

func (s *Server) pendingAckReminder(c *gin.Context) {
	roomID := c.Param("roomID")
	if !s.requireMember(c, roomID) {
		return
	}
	olderThan := 5 * time.Minute
	if v := c.Query("olderThan"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "olderThan is not a duration"})
			return
		}
		olderThan = d
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	entries, err := s.acks.Reminder(c.Request.Context(), roomID, c.GetString(userKey), olderThan, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage unavailable"})
		return
	}
	// Reminders carry only the ids still outstanding; a reconnecting client
	// re-confirms against this list.
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ClientID
	}
	c.JSON(http.StatusOK, gin.H{"clientIds": ids})
}

type confirmRequest struct {
	ClientIDs []string `json:"clientIds" binding:"required"`
}

func (s *Server) confirmAcks(c *gin.Context) {
	roomID := c.Param("roomID")
	if !s.requireMember(c, roomID) {
		return
	}
	var req confirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "clientIds is required"})
		return
	}
	res, err := s.acks.Confirm(c.Request.Context(), roomID, c.GetString(userKey), req.ClientIDs)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage unavailable"})
		return
	}
	c.JSON(http.StatusOK, res)
}

type createRoomRequest struct {
	RoomID  string   `json:"roomId" binding:"required"`
	Name    string   `json:"name"`
	PostID  int64    `json:"postId"`
	Members []string `json:"members" binding:"required"`
}

func (s *Server) createRoom(c *gin.Context) {
	var req createRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "roomId and members are required"})
		return
	}
	room := model.Room{RoomID: req.RoomID, Name: req.Name, PostID: req.PostID}
	if err := s.store.EnsureRoom(c.Request.Context(), room, req.Members); err != nil {
		s.log.Error("create room", zap.String("room", req.RoomID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage unavailable"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"roomId": req.RoomID})
}

func (s *Server) getRoom(c *gin.Context) {
	roomID := c.Param("roomID")
	if !s.requireMember(c, roomID) {
		return
	}
	room, err := s.store.Room(c.Request.Context(), roomID)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown room"})
			return
		}
		s.log.Error("load room", zap.String("room", roomID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage unavailable"})
		return
	}
	c.JSON(http.StatusOK, room)
}

func (s *Server) channelUsers(c *gin.Context) {
	roomID := c.Param("roomID")
	if !s.requireMember(c, roomID) {
		return
	}
	users, err := broker.Members(c.Request.Context(), s.rdb, roomID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "presence unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": users})
}

func (s *Server) peerStatus(c *gin.Context) {
	userID := c.Param("userID")
	online, err := s.mirror.IsOnline(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "presence unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"userId": userID, "online": online})
}
