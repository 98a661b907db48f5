package repository

import (
	"coursely/internal/models"
)

// PaymentStore is the narrow persistence surface the payment service drives.
// The gorm implementation below backs production; tests substitute an
// in-memory store.
//
// Lookup methods return (nil, nil) when no row matches. Inside Transaction
// the lookups take row locks, making the transaction the unit of mutual
// exclusion for concurrent checkouts and callbacks on the same intent.
type PaymentStore interface {
	// Transaction runs fn against a store bound to one database transaction.
	// A non-nil error from fn rolls everything back.
	Transaction(fn func(tx PaymentStore) error) error

	PendingByUserCourse(userID, courseID uint) (*models.Payment, error)
	ByTransactionRef(ref string) (*models.Payment, error)
	Create(p *models.Payment) error
	Save(p *models.Payment) error

	// Enrollment access lives here because the SUCCESS transition and the
	// enrollment row must commit atomically.
	HasEnrollment(userID, courseID uint) (bool, error)
	UpsertEnrollment(e *models.Enrollment) error
}
