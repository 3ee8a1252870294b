package httpapi

import (
	"errors"
	"net/http"
	"time"

	"voip-exchange/internal/accounts"
	"voip-exchange/internal/auth"
	"voip-exchange/internal/billing"
	"voip-exchange/internal/money"
	"voip-exchange/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.

type Handlers struct {
	Auth     *auth.Manager
	Store    billing.Store
	Accounts *accounts.Service
}

// --- Auth ---

type loginRequest struct {
	Operator string `json:"operator"`
	Password string `json:"password"`
}

// Login issues a JWT token pair against the shared operator password.
func (h Handlers) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.Operator == "" || req.Password == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "operator, password required"})
		return
	}
	pair, err := h.Auth.Login(time.Now(), req.Operator, req.Password)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "bad credentials"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (h Handlers) Refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.RefreshToken == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "refresh_token required"})
		return
	}
	pair, err := h.Auth.Refresh(time.Now(), req.RefreshToken)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

// --- Billing plans ---

func (h Handlers) ListPlans(c *gin.Context) {
	plans, err := h.Store.ListPlans(c.Request.Context())
	if err != nil {
		abortInternal(c, err)
		return
	}
	c.JSON(http.StatusOK, plans)
}

func (h Handlers) GetPlan(c *gin.Context) {
	plan, err := h.Store.FindPlanByID(c.Request.Context(), c.Param("plan_id"))
	if err != nil {
		abortStoreErr(c, err)
		return
	}
	c.JSON(http.StatusOK, plan)
}

func (h Handlers) CreatePlan(c *gin.Context) {
	var plan billing.BillingPlan
	if err := c.ShouldBindJSON(&plan); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	plan.ID = ""
	plan.IsActive = true
	if err := plan.Normalize(); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.Store.CreatePlan(c.Request.Context(), &plan); err != nil {
		abortInternal(c, err)
		return
	}
	c.JSON(http.StatusCreated, plan)
}

func (h Handlers) UpdatePlan(c *gin.Context) {
	plan, err := h.Store.FindPlanByID(c.Request.Context(), c.Param("plan_id"))
	if err != nil {
		abortStoreErr(c, err)
		return
	}
	var in billing.BillingPlan
	if err := c.ShouldBindJSON(&in); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	in.ID = plan.ID
	if err := in.Normalize(); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.Store.UpdatePlan(c.Request.Context(), &in); err != nil {
		abortStoreErr(c, err)
		return
	}
	c.JSON(http.StatusOK, in)
}

// --- Customers ---

func (h Handlers) ListCustomers(c *gin.Context) {
	customers, err := h.Store.ListCustomers(c.Request.Context())
	if err != nil {
		abortInternal(c, err)
		return
	}
	c.JSON(http.StatusOK, customers)
}

func (h Handlers) GetCustomer(c *gin.Context) {
	customer, err := h.Store.FindCustomerByID(c.Request.Context(), c.Param("customer_id"))
	if err != nil {
		abortStoreErr(c, err)
		return
	}
	c.JSON(http.StatusOK, customer)
}

func (h Handlers) CreateCustomer(c *gin.Context) {
	var customer billing.Customer
	if err := c.ShouldBindJSON(&customer); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if customer.FirstName == "" || customer.LastName == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "first_name, last_name required"})
		return
	}
	customer.ID = ""
	if err := h.Store.CreateCustomer(c.Request.Context(), &customer); err != nil {
		abortInternal(c, err)
		return
	}
	c.JSON(http.StatusCreated, customer)
}

// --- Phone accounts ---

func (h Handlers) GetAccount(c *gin.Context) {
	acct, err := h.Store.FindAccountByID(c.Request.Context(), c.Param("account_id"))
	if err != nil {
		abortStoreErr(c, err)
		return
	}
	c.JSON(http.StatusOK, acct)
}

func (h Handlers) CreateAccount(c *gin.Context) {
	var in accounts.CreateInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	acct, err := h.Accounts.Create(c.Request.Context(), in)
	if err != nil {
		abortAccountsErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, acct)
}

// UpdateAccount applies plan changes, number changes, payments, and account
// closure, alone or combined in one request.
func (h Handlers) UpdateAccount(c *gin.Context) {
	var in accounts.UpdateInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	in.ID = c.Param("account_id")
	acct, err := h.Accounts.Update(c.Request.Context(), in)
	if err != nil {
		abortAccountsErr(c, err)
		return
	}
	c.JSON(http.StatusOK, acct)
}

// ListAccountBills returns the account's finalized bills, newest first.
func (h Handlers) ListAccountBills(c *gin.Context) {
	if _, err := h.Store.FindAccountByID(c.Request.Context(), c.Param("account_id")); err != nil {
		abortStoreErr(c, err)
		return
	}
	bills, err := h.Accounts.ClosedBills(c.Request.Context(), c.Param("account_id"))
	if err != nil {
		abortInternal(c, err)
		return
	}
	c.JSON(http.StatusOK, bills)
}

func (h Handlers) GetBill(c *gin.Context) {
	bill, err := h.Store.FindBillByID(c.Request.Context(), c.Param("bill_id"))
	if err != nil {
		abortStoreErr(c, err)
		return
	}
	c.JSON(http.StatusOK, bill)
}

// --- Error mapping ---

func abortStoreErr(c *gin.Context, err error) {
	if errors.Is(err, billing.ErrNotFound) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	abortInternal(c, err)
}

func abortAccountsErr(c *gin.Context, err error) {
	switch {
	case errors.Is(err, billing.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, accounts.ErrInvalidNumber),
		errors.Is(err, accounts.ErrNumbersExhausted),
		errors.Is(err, billing.ErrNumberTaken),
		errors.Is(err, money.ErrInvalid):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		abortInternal(c, err)
	}
}

func abortInternal(c *gin.Context, err error) {
	logger.FromGin(c).Error("request failed", "err", err)
	_ = c.Error(err)
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}
