package handler

import (
	"errors"
	"net/http"
	"strconv"

	"coursely/internal/middleware"
	"coursely/internal/repository"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// MeHandler serves the authenticated user's own resources: enrollments,
// payment history, and notifications.
type MeHandler struct {
	enrollmentRepo   *repository.EnrollmentRepository
	paymentRepo      *repository.PaymentRepository
	notificationRepo *repository.NotificationRepository
}

func NewMeHandler(enrollmentRepo *repository.EnrollmentRepository, paymentRepo *repository.PaymentRepository, notificationRepo *repository.NotificationRepository) *MeHandler {
	return &MeHandler{
		enrollmentRepo:   enrollmentRepo,
		paymentRepo:      paymentRepo,
		notificationRepo: notificationRepo,
	}
}

func (h *MeHandler) Enrollments(c *gin.Context) {
	list, err := h.enrollmentRepo.ListByUser(middleware.GetUserID(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not list enrollments"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"enrollments": list})
}

func (h *MeHandler) Payments(c *gin.Context) {
	limit, offset := pagination(c)
	list, err := h.paymentRepo.ListByUser(middleware.GetUserID(c), limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not list payments"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"payments": list})
}

func (h *MeHandler) Notifications(c *gin.Context) {
	userID := middleware.GetUserID(c)
	limit, offset := pagination(c)
	list, err := h.notificationRepo.ListByUserID(userID, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not list notifications"})
		return
	}
	unread, err := h.notificationRepo.UnreadCount(userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not list notifications"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": list, "unread": unread})
}

func (h *MeHandler) MarkNotificationRead(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid notification id"})
		return
	}
	if err := h.notificationRepo.MarkRead(uint(id), middleware.GetUserID(c)); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "notification not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not mark read"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
