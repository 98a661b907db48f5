package domain

const (
	RoleStudent    = "STUDENT"
	RoleInstructor = "INSTRUCTOR"
)

// Payment intent states. SUCCESS and FAILED are terminal; only PENDING
// intents ever change.
const (
	PaymentStatusPending = "PENDING"
	PaymentStatusSuccess = "SUCCESS"
	PaymentStatusFailed  = "FAILED"
)

const PaymentProviderVNPay = "vnpay"

const (
	CourseStatusDraft     = "DRAFT"
	CourseStatusPublished = "PUBLISHED"
)

const (
	NotifPaymentSucceeded = "PAYMENT_SUCCEEDED"
	NotifPaymentFailed    = "PAYMENT_FAILED"
)
