package service

import (
	"encoding/json"
	"fmt"
	"log"

	"coursely/internal/domain"
	"coursely/internal/models"
	"coursely/internal/repository"
	"coursely/internal/ws"
)

// NotificationService is a fire-and-forget sink: callers hand a notification
// over a buffered channel and move on. The worker goroutine persists the row
// and pushes it to any websocket connections of the user. A full queue drops
// the notification with a log line; it never blocks or fails a payment.
type NotificationService struct {
	repo  *repository.NotificationRepository
	hub   *ws.Hub
	queue chan *models.Notification
}

func NewNotificationService(repo *repository.NotificationRepository, hub *ws.Hub) *NotificationService {
	s := &NotificationService{
		repo:  repo,
		hub:   hub,
		queue: make(chan *models.Notification, 256),
	}
	go s.run()
	return s
}

func (s *NotificationService) run() {
	for n := range s.queue {
		if err := s.repo.Create(n); err != nil {
			log.Printf("[NOTIFY] persist failed for user %d type %s: %v", n.UserID, n.Type, err)
			continue
		}
		s.hub.BroadcastToUser(n.UserID, map[string]interface{}{
			"type":         "notification",
			"notification": n,
		})
	}
}

func (s *NotificationService) Notify(userID uint, notifType, title, body string, data map[string]interface{}) {
	var dataJSON string
	if data != nil {
		b, _ := json.Marshal(data)
		dataJSON = string(b)
	}
	n := &models.Notification{
		UserID: userID,
		Type:   notifType,
		Title:  title,
		Body:   body,
		Data:   dataJSON,
	}
	select {
	case s.queue <- n:
	default:
		log.Printf("[NOTIFY] queue full, dropping %s for user %d", notifType, userID)
	}
}

func (s *NotificationService) PaymentSucceeded(userID uint, p *models.Payment, courseTitle string) {
	s.Notify(userID, domain.NotifPaymentSucceeded, "Payment successful",
		fmt.Sprintf("You are now enrolled in %s.", courseTitle), map[string]interface{}{
			"payment_id":      p.ID,
			"course_id":       p.CourseID,
			"transaction_ref": p.TransactionRef,
			"amount":          p.Amount,
		})
}

func (s *NotificationService) PaymentFailed(userID uint, p *models.Payment, courseTitle, reason string) {
	s.Notify(userID, domain.NotifPaymentFailed, "Payment failed",
		fmt.Sprintf("Your payment for %s did not complete: %s", courseTitle, reason), map[string]interface{}{
			"payment_id":      p.ID,
			"course_id":       p.CourseID,
			"transaction_ref": p.TransactionRef,
		})
}
