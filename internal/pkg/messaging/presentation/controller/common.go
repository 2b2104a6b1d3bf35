package controller

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	messaging "stepmatch/internal/pkg/messaging/domain"
	"stepmatch/internal/pkg/messaging/session"
)

// statusFor maps session/domain errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, messaging.ErrUnknownConversation):
		return http.StatusNotFound
	case errors.Is(err, messaging.ErrEmptyContent):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func participantJSON(p messaging.Participant) gin.H {
	return gin.H{
		"id":           p.ID,
		"display_name": p.DisplayName,
		"avatar_url":   p.AvatarURL,
		"online":       p.Online,
		"last_seen_at": p.LastSeenAt,
	}
}
