package main

import (
	"database/sql"
	"time"

	"voip-exchange/internal/accounts"
	"voip-exchange/internal/auth"
	"voip-exchange/internal/billing"
	"voip-exchange/internal/httpapi"
	"voip-exchange/internal/transport"
	"voip-exchange/pkg/utils"

	"github.com/gin-gonic/gin"
)

type routeDeps struct {
	db        *sql.DB
	auth      *auth.Manager
	store     billing.Store
	accounts  *accounts.Service
	signaling *transport.Handler
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, deps routeDeps) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		if err := utils.HealthCheck(c.Request.Context(), deps.db, 2*time.Second); err != nil {
			c.JSON(503, gin.H{"status": "degraded"})
			return
		}
		c.JSON(200, gin.H{"status": "ok"})
	})

	// Phone signaling socket. Phones authenticate by claiming their
	// number; there is no operator token involved.
	r.GET("/signaling", deps.signaling.Connect)

	h := httpapi.Handlers{
		Auth:     deps.auth,
		Store:    deps.store,
		Accounts: deps.accounts,
	}

	// operator login (public)
	authGroup := r.Group("/v1/auth")
	{
		authGroup.POST("/login", h.Login)
		authGroup.POST("/refresh", h.Refresh)
	}

	// protected admin API
	v1 := r.Group("/v1")
	v1.Use(auth.RequireAccessToken(deps.auth))
	{
		plans := v1.Group("/plans")
		{
			plans.GET("", h.ListPlans)
			plans.POST("", h.CreatePlan)
			plans.GET("/:plan_id", h.GetPlan)
			plans.PUT("/:plan_id", h.UpdatePlan)
		}

		customers := v1.Group("/customers")
		{
			customers.GET("", h.ListCustomers)
			customers.POST("", h.CreateCustomer)
			customers.GET("/:customer_id", h.GetCustomer)
		}

		accts := v1.Group("/accounts")
		{
			accts.POST("", h.CreateAccount)
			accts.GET("/:account_id", h.GetAccount)
			accts.PATCH("/:account_id", h.UpdateAccount)
			accts.GET("/:account_id/bills", h.ListAccountBills)
		}

		v1.GET("/bills/:bill_id", h.GetBill)
	}
}
