package v1

import (
	"github.com/gin-gonic/gin"

	"stepmatch/internal/infrastructure/push"
	httpHandler "stepmatch/internal/pkg/messaging/presentation/http"
	"stepmatch/internal/pkg/messaging/session"
)

// RegisterRoutes mounts all version 1 API routes under /api/v1
func RegisterRoutes(r *gin.Engine, sess *session.Session, hub *push.Hub) {
	v1 := r.Group("/api/v1")
	// Pass the session and push hub down to the HTTP layer
	httpHandler.RegisterRoutes(v1, sess, hub)
}
