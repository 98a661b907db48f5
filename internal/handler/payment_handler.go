package handler

import (
	"errors"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"coursely/config"
	"coursely/internal/domain"
	"coursely/internal/middleware"
	"coursely/internal/service"
	"coursely/pkg/vnpay"

	"github.com/gin-gonic/gin"
)

type PaymentHandler struct {
	cfg *config.Config
	svc *service.PaymentService
}

func NewPaymentHandler(cfg *config.Config, svc *service.PaymentService) *PaymentHandler {
	return &PaymentHandler{cfg: cfg, svc: svc}
}

type CheckoutBody struct {
	BankCode string `json:"bank_code"`
	Locale   string `json:"locale" binding:"omitempty,oneof=vn en"`
}

// Checkout creates or reuses the pending payment intent for a course and
// returns the signed gateway redirect URL.
func (h *PaymentHandler) Checkout(c *gin.Context) {
	courseID, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid course id"})
		return
	}
	var body CheckoutBody
	if err := c.ShouldBindJSON(&body); err != nil && err.Error() != "EOF" {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	result, err := h.svc.Checkout(service.CheckoutRequest{
		UserID:   middleware.GetUserID(c),
		CourseID: uint(courseID),
		BankCode: body.BankCode,
		Locale:   body.Locale,
		ClientIP: c.ClientIP(),
	})
	if err != nil {
		switch err {
		case service.ErrCourseNotFound:
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		case service.ErrCourseNotPublished, service.ErrAlreadyEnrolled:
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		case service.ErrCourseFree, service.ErrPriceTooHigh:
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case service.ErrOwnCourse:
			c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
		default:
			log.Printf("[VNPAY checkout] user=%d course=%d err=%v", middleware.GetUserID(c), courseID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "checkout failed"})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"pay_url":         result.PayURL,
		"transaction_ref": result.TransactionRef,
		"payment":         result.Payment,
		"reused":          result.Reused,
	})
}

// Return is the browser-facing callback: the gateway redirects the user here
// after payment. The outcome is reconciled and the user is forwarded to the
// frontend result page; this endpoint never renders its own UI.
func (h *PaymentHandler) Return(c *gin.Context) {
	params := gatewayParams(c)
	result, err := h.svc.Reconcile(params)

	q := url.Values{}
	var gw *service.GatewayError
	switch {
	case err == nil:
		// A replayed callback for an already-FAILED intent also lands here,
		// so the flag follows the terminal status, not the error value.
		if result.Status == domain.PaymentStatusSuccess {
			q.Set("success", "true")
		} else {
			q.Set("success", "false")
			if result.Code != "" {
				q.Set("code", result.Code)
			}
		}
		q.Set("status", result.Status)
		q.Set("message", result.Message)
	case errors.As(err, &gw):
		// The gateway declined; the intent is finalized FAILED.
		q.Set("success", "false")
		q.Set("status", result.Status)
		q.Set("code", gw.Code)
		q.Set("message", gw.Message)
	default:
		log.Printf("[VNPAY return] ref=%q err=%v", params["vnp_TxnRef"], err)
		q.Set("success", "false")
		q.Set("message", returnErrorMessage(err))
	}
	if result != nil && result.Payment != nil {
		q.Set("payment_id", strconv.FormatUint(uint64(result.Payment.ID), 10))
		q.Set("course_id", strconv.FormatUint(uint64(result.Payment.CourseID), 10))
		if result.CourseTitle != "" {
			q.Set("course_name", result.CourseTitle)
		}
	}
	c.Redirect(http.StatusFound, h.cfg.Payment.ResultURL+"?"+q.Encode())
}

// IPN is the server-to-server callback. The gateway retries until it gets a
// well-formed ack, so every outcome answers HTTP 200 with an RspCode; the
// body codes, not the HTTP status, tell the gateway whether to stop.
func (h *PaymentHandler) IPN(c *gin.Context) {
	params := gatewayParams(c)
	_, err := h.svc.Reconcile(params)

	var gw *service.GatewayError
	switch {
	case err == nil, errors.As(err, &gw):
		// Reconciled (either outcome) or replayed: the order is settled.
		c.JSON(http.StatusOK, gin.H{"RspCode": vnpay.IPNConfirmed, "Message": "Confirm Success"})
	case errors.Is(err, service.ErrInvalidSignature),
		errors.Is(err, service.ErrMissingFields),
		errors.Is(err, service.ErrAmountMismatch),
		errors.Is(err, service.ErrPaymentNotFound):
		// Rejected without detail: the caller failed verification.
		c.JSON(http.StatusOK, gin.H{"RspCode": vnpay.IPNRejected, "Message": "Order not found"})
	default:
		log.Printf("[VNPAY ipn] ref=%q err=%v", params["vnp_TxnRef"], err)
		c.JSON(http.StatusOK, gin.H{"RspCode": vnpay.IPNUnknownError, "Message": "Unknown error"})
	}
}

// gatewayParams collects the vnp_* parameters as a flat map. The gateway
// delivers them as query parameters or a form body depending on channel.
func gatewayParams(c *gin.Context) map[string]string {
	_ = c.Request.ParseForm()
	params := make(map[string]string)
	for key, values := range c.Request.Form {
		if strings.HasPrefix(key, "vnp_") && len(values) > 0 {
			params[key] = values[0]
		}
	}
	return params
}

// returnErrorMessage maps verification failures to what the result page may
// show; it never explains which check failed.
func returnErrorMessage(err error) string {
	switch {
	case errors.Is(err, service.ErrInvalidSignature),
		errors.Is(err, service.ErrMissingFields),
		errors.Is(err, service.ErrAmountMismatch),
		errors.Is(err, service.ErrPaymentNotFound):
		return "payment could not be verified"
	default:
		return "payment processing failed"
	}
}
