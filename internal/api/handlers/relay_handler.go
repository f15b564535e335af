package handlers

import (
	"context"

	"statement-relay/internal/service"

	fiberws "github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type RelayHandler struct {
	relay *service.RelayService
	// baseCtx ends every open session on server shutdown.
	baseCtx context.Context
	logger  *zap.Logger
}

func NewRelayHandler(baseCtx context.Context, relay *service.RelayService, logger *zap.Logger) *RelayHandler {
	return &RelayHandler{
		relay:   relay,
		baseCtx: baseCtx,
		logger:  logger,
	}
}

// RequireUpgrade rejects plain HTTP requests to the relay endpoint.
func (h *RelayHandler) RequireUpgrade(c *fiber.Ctx) error {
	if !fiberws.IsWebSocketUpgrade(c) {
		return errorJSON(c, fiber.StatusUpgradeRequired, "WebSocket upgrade required")
	}
	return c.Next()
}

// Analyze godoc
// @Summary Analysis relay
// @Description WebSocket endpoint. Send {"action":"analyze"|"summary","userId":"<id>","requestId":"<optional>"} (or an array of them); every request gets one result or error frame, preceded by any progress frames.
// @Tags transactions
// @Param token query string false "JWT, for clients that cannot set the Authorization header"
// @Security Bearer
// @Success 101
// @Failure 401 {object} dto.ErrorResponse
// @Failure 426 {object} dto.ErrorResponse
// @Router /transactions/ws [get]
func (h *RelayHandler) Analyze() fiber.Handler {
	return fiberws.New(func(conn *fiberws.Conn) {
		userID, err := getSocketUserID(conn)
		if err != nil {
			h.logger.Warn("Relay connection without a valid user", zap.Error(err))
			conn.Close()
			return
		}

		h.relay.Serve(h.baseCtx, conn, userID)
	})
}

func getSocketUserID(conn *fiberws.Conn) (uuid.UUID, error) {
	userIDStr, ok := conn.Locals("userID").(string)
	if !ok {
		return uuid.Nil, fiber.ErrUnauthorized
	}
	return uuid.Parse(userIDStr)
}
