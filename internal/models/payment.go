package models

import (
	"time"

	"coursely/internal/domain"
)

// Payment is a payment intent: one attempted purchase of a course, correlated
// with the gateway through TransactionRef. Rows are never deleted; terminal
// rows are the audit trail.
type Payment struct {
	ID             uint   `gorm:"primaryKey" json:"id"`
	UserID         uint   `gorm:"not null;index:idx_payments_user_course" json:"user_id"`
	CourseID       uint   `gorm:"not null;index:idx_payments_user_course" json:"course_id"`
	Amount         int64  `gorm:"not null" json:"amount"` // whole VND, copied from the course at creation
	Provider       string `gorm:"size:50;not null" json:"provider"`
	Status         string `gorm:"size:20;not null;index" json:"status"` // PENDING, SUCCESS, FAILED
	TransactionRef string `gorm:"size:64;uniqueIndex" json:"transaction_ref"`

	// Gateway callback details, recorded at finalization.
	BankCode      string     `gorm:"size:20" json:"bank_code,omitempty"`
	CardType      string     `gorm:"size:20" json:"card_type,omitempty"`
	BankTranNo    string     `gorm:"size:255" json:"bank_tran_no,omitempty"`
	GatewayTranNo string     `gorm:"size:255" json:"gateway_tran_no,omitempty"`
	ResponseCode  string     `gorm:"size:10" json:"response_code,omitempty"`
	PaidAt        *time.Time `json:"paid_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	User   User   `gorm:"foreignKey:UserID" json:"-"`
	Course Course `gorm:"foreignKey:CourseID" json:"-"`
}

func (Payment) TableName() string {
	return "payments"
}

func (p *Payment) Terminal() bool {
	return p.Status != domain.PaymentStatusPending
}

// Expired reports whether a pending intent created before now-timeout should
// be demoted to FAILED on the next touch of its (user, course) pair.
func (p *Payment) Expired(now time.Time, timeout time.Duration) bool {
	return p.Status == domain.PaymentStatusPending && p.CreatedAt.Before(now.Add(-timeout))
}
