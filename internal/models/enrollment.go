package models

import (
	"time"
)

// Enrollment grants a user access to a course. For paid courses the row is
// created in the same transaction that marks the payment SUCCESS, so neither
// can exist without the other.
type Enrollment struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"not null;uniqueIndex:idx_enrollments_user_course" json:"user_id"`
	CourseID  uint      `gorm:"not null;uniqueIndex:idx_enrollments_user_course" json:"course_id"`
	PaymentID *uint     `gorm:"index" json:"payment_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`

	User    User    `gorm:"foreignKey:UserID" json:"-"`
	Course  Course  `gorm:"foreignKey:CourseID" json:"course,omitempty"`
	Payment Payment `gorm:"foreignKey:PaymentID" json:"-"`
}

func (Enrollment) TableName() string {
	return "enrollments"
}
