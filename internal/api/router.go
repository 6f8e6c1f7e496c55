package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/baharkarakas/paygate/internal/api/handlers"
	"github.com/baharkarakas/paygate/internal/auth"
	"github.com/baharkarakas/paygate/internal/config"
	"github.com/baharkarakas/paygate/internal/metrics"
	"github.com/baharkarakas/paygate/internal/middleware"
	"github.com/baharkarakas/paygate/internal/services"
)

type RouterDeps struct {
	Cfg       config.Config
	Log       *slog.Logger
	Tokens    *auth.TokenManager
	Merchants *services.MerchantService
	Payments  *services.PaymentService
	Logistics *services.LogisticsService
	Settler   *services.Settler
}

func NewRouter(d RouterDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Recover, middleware.HTTPMetrics, middleware.RateLimit(d.Cfg.RateRPS, d.Cfg.RateBurst))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	}))

	// health & metrics
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("ok")) })
	r.Handle("/metrics", metrics.Handler())

	authH := handlers.NewAuthHandler(d.Tokens, d.Cfg.AdminAPIKey)
	payH := handlers.NewPaymentHandler(d.Payments, d.Settler, d.Log)
	logH := handlers.NewLogisticsHandler(d.Logistics, d.Log)
	adminH := handlers.NewAdminHandler(d.Merchants, d.Log)
	merchantAuth := middleware.MerchantAuth(d.Merchants, d.Log, false)

	r.Route("/api/v1", func(r chi.Router) {
		// ---------- payment ----------
		r.Route("/payment", func(r chi.Router) {
			// processor and browser facing
			r.Get("/checkout/{tradeNo}", payH.CheckoutPage)
			r.Post("/webhook", payH.Webhook)
			r.Post("/result", payH.Result)

			r.Group(func(r chi.Router) {
				r.Use(merchantAuth)
				r.Post("/checkout", payH.Checkout)
				r.Get("/transaction/{id}", payH.Get)
				r.Post("/transaction/{id}/capture", payH.Capture)
				r.Get("/transactions", payH.List)
			})
		})

		// ---------- logistics ----------
		r.Route("/logistics", func(r chi.Router) {
			r.Post("/cvs-map/callback", logH.CvsMapCallback)
			r.Post("/webhook", logH.Webhook)
			r.With(middleware.MerchantAuth(d.Merchants, d.Log, true)).Get("/cvs-map", logH.CvsMap)

			r.Group(func(r chi.Router) {
				r.Use(merchantAuth)
				r.Post("/shipments", logH.CreateShipment)
				r.Get("/shipments/{tradeNo}", logH.GetShipment)
			})
		})

		// ---------- admin ----------
		r.Route("/admin", func(r chi.Router) {
			r.Post("/token", authH.Login)
			r.Post("/token/refresh", authH.Refresh)

			r.Group(func(r chi.Router) {
				r.Use(middleware.AdminAuth(d.Tokens), middleware.RequireRole(auth.RoleAdmin))
				r.Post("/merchants", adminH.CreateMerchant)
				r.Get("/merchants", adminH.ListMerchants)
				r.Get("/merchants/{code}/credentials", adminH.GetCredentials)
				r.Put("/merchants/{code}/credentials", adminH.UpdateCredentials)
				r.Post("/merchants/{code}/switch-env", adminH.SwitchEnvironment)
				r.Post("/merchants/{code}/test-credentials", adminH.TestCredentials)
				r.Post("/merchants/{code}/deactivate", adminH.Deactivate)
			})
		})
	})

	return r
}
