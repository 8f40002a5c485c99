package main

import (
	"context"
	"net/http"

	"reminder-voice/internal/httpapi"
	"reminder-voice/internal/pipeline"
	"reminder-voice/internal/rbac"
	"reminder-voice/internal/telephony"

	"github.com/gin-gonic/gin"
)

type routeDeps struct {
	AuthMW   gin.HandlerFunc
	Webhooks telephony.WebhookHandler
	Pipeline *pipeline.Handler
	API      httpapi.Handlers
	Ready    func(ctx context.Context) error
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, d routeDeps) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		if d.Ready != nil {
			if err := d.Ready(c.Request.Context()); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Provider callbacks (public). The call_uuid in the path is ours; the
	// provider only learns it from the URLs we hand it when dialing.
	webhooks := r.Group("/webhooks")
	{
		webhooks.POST("/answer/:call_uuid", d.Webhooks.Answer)
		webhooks.POST("/hangup/:call_uuid", d.Webhooks.Hangup)
	}

	// Conversational pipeline stream.
	r.GET("/ws/:call_uuid", d.Pipeline.Serve)

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(d.AuthMW, rbac.RequireIdentity())
	{
		v1.GET("/me", d.API.Me)

		calls := v1.Group("/calls")
		{
			calls.POST("", rbac.RequireAnyRole(rbac.RoleUser), d.API.CreateCall)
			calls.POST("/batch", rbac.RequireAnyRole(rbac.RoleUser), d.API.CreateBatch)
			calls.GET("", d.API.ListCalls)
			calls.GET("/:call_uuid", d.API.GetCall)
		}

		transcripts := v1.Group("/transcripts")
		{
			transcripts.GET("", d.API.ListTranscripts)
			transcripts.GET("/:call_uuid", d.API.GetTranscript)
		}

		v1.GET("/reports/outcomes", d.API.OutcomeReport)
	}
}
