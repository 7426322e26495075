// Package api exposes the checkout flow over HTTP.
package api

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/njordpay/njord/internal/domain"
	"github.com/njordpay/njord/internal/ledger"
	"github.com/njordpay/njord/internal/pricing"
	"github.com/njordpay/njord/internal/service"
)

// accountHeader carries the authenticated account id, set by the identity
// layer in front of this service.
const accountHeader = "X-Account-ID"

// CheckoutHandler serves the checkout endpoints.
type CheckoutHandler struct {
	service  *service.CheckoutService
	ledger   ledger.Ledger
	tiers    *pricing.TierCatalog
	validate *validator.Validate
	logger   zerolog.Logger
}

// NewCheckoutHandler creates a checkout handler.
func NewCheckoutHandler(svc *service.CheckoutService, l ledger.Ledger, tiers *pricing.TierCatalog, logger zerolog.Logger) *CheckoutHandler {
	return &CheckoutHandler{
		service:  svc,
		ledger:   l,
		tiers:    tiers,
		validate: validator.New(),
		logger:   logger.With().Str("component", "api").Logger(),
	}
}

type beginCheckoutRequest struct {
	Kind         string `json:"kind" validate:"required,oneof=credit_topup subscription_activation"`
	CreditAmount int64  `json:"credit_amount" validate:"required_if=Kind credit_topup,omitempty,gt=0"`
	TierID       string `json:"tier_id" validate:"required_if=Kind subscription_activation"`
}

type submitPaymentRequest struct {
	PaymentMethodID string `json:"payment_method_id" validate:"required"`
}

type sessionResponse struct {
	ID             string `json:"id"`
	State          string `json:"state"`
	Kind           string `json:"kind"`
	CreditAmount   int64  `json:"credit_amount,omitempty"`
	TierID         string `json:"tier_id,omitempty"`
	ChargeAmount   string `json:"charge_amount"`
	FeeAmount      string `json:"fee_amount"`
	Currency       string `json:"currency"`
	ClientSecret   string `json:"client_secret,omitempty"`
	DeclineReason  string `json:"decline_reason,omitempty"`
	Settled        bool   `json:"settled"`
	CreditsGranted int64  `json:"credits_granted,omitempty"`
}

func sessionView(sess *service.CheckoutSession) sessionResponse {
	return sessionResponse{
		ID:             sess.ID,
		State:          string(sess.State),
		Kind:           string(sess.Order.Kind),
		CreditAmount:   sess.Order.CreditAmount,
		TierID:         sess.Order.TierID,
		ChargeAmount:   sess.Order.ChargeAmount.String(),
		FeeAmount:      sess.Order.FeeAmount.String(),
		Currency:       sess.Order.Currency,
		ClientSecret:   sess.ClientSecret,
		DeclineReason:  sess.DeclineReason,
		Settled:        sess.Settled,
		CreditsGranted: sess.CreditsGranted,
	}
}

// BeginCheckout handles POST /api/checkout.
func (h *CheckoutHandler) BeginCheckout(c echo.Context) error {
	accountID, err := h.accountID(c)
	if err != nil {
		return h.errorResponse(c, err)
	}

	var req beginCheckoutRequest
	if err := c.Bind(&req); err != nil {
		return h.errorResponse(c, domain.Invalid("api.begin_checkout", "invalid request body"))
	}
	if err := h.validate.Struct(req); err != nil {
		return h.errorResponse(c, domain.Invalid("api.begin_checkout", "missing or invalid fields"))
	}

	sess, err := h.service.BeginCheckout(c.Request().Context(), pricing.PurchaseRequest{
		Kind:         domain.OrderKind(req.Kind),
		AccountID:    accountID,
		CreditAmount: req.CreditAmount,
		TierID:       req.TierID,
	})
	if err != nil {
		return h.errorResponse(c, err)
	}
	return c.JSON(http.StatusCreated, sessionView(sess))
}

// SubmitPayment handles POST /api/checkout/:id/payment.
func (h *CheckoutHandler) SubmitPayment(c echo.Context) error {
	if _, err := h.accountID(c); err != nil {
		return h.errorResponse(c, err)
	}

	var req submitPaymentRequest
	if err := c.Bind(&req); err != nil {
		return h.errorResponse(c, domain.Invalid("api.submit_payment", "invalid request body"))
	}
	if err := h.validate.Struct(req); err != nil {
		return h.errorResponse(c, domain.Invalid("api.submit_payment", "payment_method_id is required"))
	}

	sess, err := h.service.SubmitPayment(c.Request().Context(), c.Param("id"), req.PaymentMethodID)
	if err != nil {
		// A decline still returns the session so the UI can show the
		// failed state alongside the reason.
		if sess != nil && domain.IsCode(err, domain.EPAYMENT) {
			return c.JSON(http.StatusPaymentRequired, sessionView(sess))
		}
		return h.errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, sessionView(sess))
}

// RetryPayment handles POST /api/checkout/:id/retry.
func (h *CheckoutHandler) RetryPayment(c echo.Context) error {
	if _, err := h.accountID(c); err != nil {
		return h.errorResponse(c, err)
	}

	sess, err := h.service.RetryPayment(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, sessionView(sess))
}

// GetSession handles GET /api/checkout/:id.
func (h *CheckoutHandler) GetSession(c echo.Context) error {
	if _, err := h.accountID(c); err != nil {
		return h.errorResponse(c, err)
	}

	sess, err := h.service.GetSession(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, sessionView(sess))
}

type tierView struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Price string `json:"price"`
}

type configResponse struct {
	PublishableKey string     `json:"publishable_key"`
	Currency       string     `json:"currency"`
	Tiers          []tierView `json:"tiers"`
}

// Config handles GET /api/checkout/config. The payment-collection UI loads
// this before rendering.
func (h *CheckoutHandler) Config(c echo.Context) error {
	key, err := h.service.PublishableKey()
	if err != nil {
		return h.errorResponse(c, err)
	}

	resp := configResponse{
		PublishableKey: key,
		Currency:       "usd",
	}
	for _, t := range h.tiers.Tiers() {
		resp.Tiers = append(resp.Tiers, tierView{ID: t.ID, Name: t.Name, Price: t.Price.String()})
	}
	return c.JSON(http.StatusOK, resp)
}

type accountResponse struct {
	AccountID     string `json:"account_id"`
	CreditBalance int64  `json:"credit_balance"`
	Tier          string `json:"tier,omitempty"`
}

// GetAccount handles GET /api/account.
func (h *CheckoutHandler) GetAccount(c echo.Context) error {
	accountID, err := h.accountID(c)
	if err != nil {
		return h.errorResponse(c, err)
	}

	balance, err := h.ledger.CreditBalance(c.Request().Context(), accountID)
	if err != nil {
		return h.errorResponse(c, err)
	}

	resp := accountResponse{AccountID: accountID, CreditBalance: balance}
	if tier, err := h.ledger.Entitlement(c.Request().Context(), accountID); err == nil {
		resp.Tier = tier
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *CheckoutHandler) accountID(c echo.Context) (string, error) {
	accountID := c.Request().Header.Get(accountHeader)
	if accountID == "" {
		return "", domain.Errorf(domain.EUNAUTHORIZED, "api.account_id", "authentication required")
	}
	return accountID, nil
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (h *CheckoutHandler) errorResponse(c echo.Context, err error) error {
	code := domain.ErrorCode(err)
	if code == domain.EINTERNAL {
		h.logger.Error().Err(err).Str("path", c.Path()).Msg("internal error")
	}
	return c.JSON(statusFromCode(code), map[string]errorBody{
		"error": {Code: code, Message: domain.ErrorMessage(err)},
	})
}

func statusFromCode(code string) int {
	switch code {
	case domain.EINVALID:
		return http.StatusBadRequest
	case domain.EUNAUTHORIZED:
		return http.StatusUnauthorized
	case domain.EFORBIDDEN:
		return http.StatusForbidden
	case domain.ENOTFOUND:
		return http.StatusNotFound
	case domain.ECONFLICT:
		return http.StatusConflict
	case domain.EPAYMENT:
		return http.StatusPaymentRequired
	case domain.EGONE:
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}
