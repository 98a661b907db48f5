package service

import (
	"errors"
	"fmt"
)

// Checkout rejections. All are raised before the gateway is ever contacted.
var (
	ErrCourseNotFound     = errors.New("course not found")
	ErrCourseNotPublished = errors.New("course is not published")
	ErrCourseFree         = errors.New("free courses cannot be purchased")
	ErrPriceTooHigh       = errors.New("course price exceeds the payable maximum")
	ErrOwnCourse          = errors.New("instructors cannot purchase their own course")
	ErrAlreadyEnrolled    = errors.New("already enrolled in this course")
)

// Callback rejections. Signature and amount mismatches are security
// failures: the request is refused before any state mutation, and responses
// to the gateway must not explain which check failed.
var (
	ErrMissingFields    = errors.New("missing required callback fields")
	ErrInvalidSignature = errors.New("invalid callback signature")
	ErrAmountMismatch   = errors.New("callback amount does not match payment")
	ErrPaymentNotFound  = errors.New("no payment for transaction ref")
)

// GatewayError is a legitimate terminal outcome, not a system fault: the
// gateway answered with a non-success result code. It carries the code table
// translation for rendering and logs.
type GatewayError struct {
	Code    string
	Message string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway declined payment: %s (%s)", e.Message, e.Code)
}
