// Package server wires the HTTP surface: route registration, request
// and response shapes, and the mapping from domain errors to status
// codes.
package server

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mmynk/tabsplit/internal/auth"
	"github.com/mmynk/tabsplit/internal/middleware"
	"github.com/mmynk/tabsplit/internal/observability"
	"github.com/mmynk/tabsplit/internal/service"
)

// SetupRoutes attaches all routes and shared middleware to the router.
//
// The claim endpoints hang off /claim/:slug/ so the share URL from
// Finalize is also the page the table opens. Submitting claims needs a
// session for the same receipt; joining and polling status do not.
func SetupRoutes(router *gin.Engine, receipts *service.ReceiptService, claims *service.ClaimService, extractor Extractor, sessions *auth.SessionManager, metrics *observability.Metrics, cookieTTL time.Duration) {
	router.Use(middleware.RequestLogger())
	router.Use(middleware.Metrics(metrics))
	router.Use(middleware.CORS())
	router.Use(middleware.ViewerSession(sessions))

	router.GET("/healthz", HealthCheck())
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.POST("/receipts/", IngestReceipt(receipts, extractor))
	router.GET("/receipts/:slug/", GetReceipt(receipts))
	router.POST("/update/:slug/", UpdateReceipt(receipts))
	router.POST("/finalize/:slug/", FinalizeReceipt(receipts))

	claim := router.Group("/claim/:slug")
	{
		claim.POST("/join/", JoinReceipt(claims, cookieTTL))
		claim.POST("/", middleware.RequireViewer(), SubmitClaims(claims))
		claim.GET("/status/", ClaimStatus(claims))
	}
}
