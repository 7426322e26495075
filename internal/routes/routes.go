// Package routes binds handlers to the HTTP router.
package routes

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/njordpay/njord/internal/handler/api"
	"github.com/njordpay/njord/internal/handler/webhook"
)

// Deps holds everything the route tree needs.
type Deps struct {
	Checkout *api.CheckoutHandler
	Webhook  *webhook.StripeHandler
	Registry *prometheus.Registry
}

// Register wires all routes onto the router.
func Register(e *echo.Echo, deps Deps) {
	// Client-facing checkout flow.
	apiGroup := e.Group("/api")
	apiGroup.GET("/checkout/config", deps.Checkout.Config)
	apiGroup.POST("/checkout", deps.Checkout.BeginCheckout)
	apiGroup.GET("/checkout/:id", deps.Checkout.GetSession)
	apiGroup.POST("/checkout/:id/payment", deps.Checkout.SubmitPayment)
	apiGroup.POST("/checkout/:id/retry", deps.Checkout.RetryPayment)
	apiGroup.GET("/account", deps.Checkout.GetAccount)

	// Processor notifications. Signature-verified, not session-scoped.
	e.POST("/webhooks/stripe", deps.Webhook.Handle)

	// Operational surface.
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(200, map[string]string{"status": "ok"})
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{})))
}
