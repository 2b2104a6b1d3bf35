package controller

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"stepmatch/internal/pkg/messaging/session"
)

// ListConversationsController serves the conversation-list snapshot (one
// controller per endpoint).
type ListConversationsController struct {
	sess *session.Session
}

func NewListConversationsController(sess *session.Session) *ListConversationsController {
	return &ListConversationsController{sess: sess}
}

func (ctl *ListConversationsController) Handle() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()

		convs, err := ctl.sess.Conversations(ctx)
		if err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		degraded, err := ctl.sess.Degraded(ctx)
		if err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}

		out := make([]gin.H, 0, len(convs))
		for _, conv := range convs {
			out = append(out, gin.H{
				"id":                   conv.ID,
				"other_participant":    participantJSON(conv.Other),
				"last_message_preview": conv.LastMessagePreview,
				"last_message_at":      conv.LastMessageAt,
				"unread_count":         conv.UnreadCount,
			})
		}

		c.JSON(http.StatusOK, gin.H{
			"conversations": out,
			"count":         len(out),
			"degraded":      degraded,
		})
	}
}
