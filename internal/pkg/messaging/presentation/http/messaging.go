package http

import (
	"github.com/gin-gonic/gin"

	"stepmatch/internal/infrastructure/push"
	"stepmatch/internal/pkg/messaging/presentation/controller"
	"stepmatch/internal/pkg/messaging/session"
)

// RegisterRoutes registers messaging endpoints under the given router group.
// It constructs per-endpoint controllers and binds them directly to routes.
func RegisterRoutes(g *gin.RouterGroup, sess *session.Session, hub *push.Hub) {
	listCtl := controller.NewListConversationsController(sess)
	msgsCtl := controller.NewGetMessagesController(sess)
	sendCtl := controller.NewSendMessageController(sess)
	openCtl := controller.NewOpenConversationController(sess)
	closeCtl := controller.NewCloseConversationController(sess)
	socketCtl := controller.NewEventSocketController(hub)

	// GET /api/v1/conversations -> conversation list snapshot
	g.GET("/conversations", listCtl.Handle())

	// POST /api/v1/conversations/:conversationId/open -> select a conversation
	g.POST("/conversations/:conversationId/open", openCtl.Handle())

	// DELETE /api/v1/conversations/open -> deselect the open conversation
	g.DELETE("/conversations/open", closeCtl.Handle())

	// GET /api/v1/conversations/:conversationId/messages -> message snapshot
	g.GET("/conversations/:conversationId/messages", msgsCtl.Handle())

	// POST /api/v1/conversations/:conversationId/messages -> optimistic send
	g.POST("/conversations/:conversationId/messages", sendCtl.Handle())

	// GET /api/v1/events/ws -> websocket stream of session notifications
	g.GET("/events/ws", socketCtl.Handle())
}
