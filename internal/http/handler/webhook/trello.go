package webhook

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"maxprint.app/orderflow/internal/trello"
)

// Publisher is the downstream the handler hands validated actions to.
type Publisher interface {
	Publish(ctx context.Context, payload *trello.WebhookPayload, raw json.RawMessage) error
}

// TrelloHandler terminates the webhook callback URL. Trello validates the
// URL with a HEAD request at registration time and retries failed POSTs,
// so the handler answers fast and leaves processing to the publisher.
type TrelloHandler struct {
	publisher Publisher
}

func NewTrelloHandler(publisher Publisher) *TrelloHandler {
	return &TrelloHandler{publisher: publisher}
}

// Verify answers the registration-time HEAD/GET check.
func (h *TrelloHandler) Verify(c *gin.Context) {
	c.Status(http.StatusOK)
}

// Receive accepts one webhook delivery.
func (h *TrelloHandler) Receive(c *gin.Context) {
	ctx := c.Request.Context()

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}

	var payload trello.WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		slog.WarnContext(ctx, "invalid webhook payload", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON payload"})
		return
	}
	if payload.Action.ID == "" || payload.Action.Type == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid webhook payload"})
		return
	}

	action := payload.Action
	var boardID, cardID *string
	if action.Data.Board != nil {
		boardID = &action.Data.Board.ID
	}
	if action.Data.Card != nil {
		cardID = &action.Data.Card.ID
	}

	// Board-level actions carry no card and nothing to reconcile, but the
	// event log still records every delivery.
	if action.Data.Card == nil {
		slog.InfoContext(ctx, "action without card, recording only",
			slog.String("action_id", action.ID),
			slog.String("action_type", action.Type))
	} else {
		slog.InfoContext(ctx, "webhook received",
			slog.String("action_id", action.ID),
			slog.String("action_type", action.Type),
			slog.String("card_id", action.Data.Card.ID))
	}

	if err := h.publisher.Publish(ctx, &payload, body); err != nil {
		slog.ErrorContext(ctx, "failed to publish webhook action",
			slog.String("action_id", action.ID),
			slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record event"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":      "accepted",
		"action_id":   action.ID,
		"action_type": action.Type,
		"board_id":    boardID,
		"card_id":     cardID,
	})
}
