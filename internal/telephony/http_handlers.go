package telephony

import (
	"context"
	"errors"
	"net/http"

	"reminder-voice/internal/calls"
	"reminder-voice/pkg/logger"

	"github.com/gin-gonic/gin"
)

// CallEvents receives provider callbacks after they are parsed.
type CallEvents interface {
	Answered(ctx context.Context, callUUID string, ev CallbackEvent) error
	ProviderHangup(ctx context.Context, callUUID string, ev CallbackEvent) error
}

// WebhookHandler converts provider callbacks to internal events and writes
// the provider XML. No call-state decisions are made here.
type WebhookHandler struct {
	Provider Provider
	Events   CallEvents

	// PublicURL is the externally reachable base URL of this service.
	PublicURL string
	// GreetingURL is optional greeting audio played before the stream opens.
	GreetingURL string
}

// Answer handles POST /webhooks/answer/:call_uuid.
func (h WebhookHandler) Answer(c *gin.Context) {
	log := logger.FromGin(c)
	if h.Provider == nil || h.Events == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "telephony provider not configured"})
		return
	}
	callUUID := c.Param("call_uuid")

	ev, err := h.Provider.ParseCallback(c.Request)
	if err != nil {
		log.Warn("answer callback parse failed", "err", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
		return
	}

	var doc string
	switch err := h.Events.Answered(c.Request.Context(), callUUID, ev); {
	case errors.Is(err, calls.ErrNotFound):
		log.Warn("answer callback for unknown call")
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "call not found"})
		return
	case errors.Is(err, calls.ErrTerminal):
		log.Info("answer callback for finished call, hanging up")
		doc, err = RenderHangup()
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "xml failed"})
			return
		}
	case err != nil:
		log.Error("answer callback failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "answer failed"})
		return
	default:
		doc, err = h.Provider.AnswerXML(AnswerRequest{
			CallUUID:    callUUID,
			GreetingURL: h.GreetingURL,
			StreamURL:   StreamURL(h.PublicURL, callUUID),
		})
		if err != nil {
			log.Error("answer xml render failed", "err", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "xml failed"})
			return
		}
	}

	c.Header("Content-Type", "application/xml")
	c.String(http.StatusOK, doc)
}

// Hangup handles POST /webhooks/hangup/:call_uuid. Providers retry on
// non-2xx, so internal failures are logged and acknowledged.
func (h WebhookHandler) Hangup(c *gin.Context) {
	log := logger.FromGin(c)
	if h.Provider == nil || h.Events == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "telephony provider not configured"})
		return
	}

	ev, err := h.Provider.ParseCallback(c.Request)
	if err != nil {
		log.Warn("hangup callback parse failed", "err", err)
		c.Status(http.StatusOK)
		return
	}
	log.Info("provider hangup", "cause", ev.Cause, "source", ev.Source, "provider_status", ev.Status)

	if err := h.Events.ProviderHangup(c.Request.Context(), c.Param("call_uuid"), ev); err != nil {
		if errors.Is(err, calls.ErrNotFound) {
			log.Warn("hangup callback for unknown call")
		} else {
			log.Error("hangup callback failed", "err", err)
		}
	}
	c.Status(http.StatusOK)
}
