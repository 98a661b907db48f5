package service

import (
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"coursely/config"
	"coursely/internal/domain"
	"coursely/internal/models"
	"coursely/internal/repository"
	"coursely/pkg/vnpay"

	"gorm.io/gorm"
)

// CourseReader is the course lookup the payment service needs for checkout
// preconditions; *repository.CourseRepository satisfies it.
type CourseReader interface {
	GetByID(id uint) (*models.Course, error)
}

// PaymentNotifier receives the best-effort side effects of a finalized
// payment. Implementations must not block; *NotificationService qualifies.
type PaymentNotifier interface {
	PaymentSucceeded(userID uint, p *models.Payment, courseTitle string)
	PaymentFailed(userID uint, p *models.Payment, courseTitle, reason string)
}

// PaymentService owns the payment lifecycle: idempotent intent creation with
// a signed redirect URL, and the reconciliation shared by the browser-return
// and IPN endpoints.
type PaymentService struct {
	cfg      *config.Config
	store    repository.PaymentStore
	courses  CourseReader
	gateway  *vnpay.Client
	notifier PaymentNotifier
}

func NewPaymentService(cfg *config.Config, store repository.PaymentStore, courses CourseReader, gateway *vnpay.Client, notifier PaymentNotifier) *PaymentService {
	return &PaymentService{
		cfg:      cfg,
		store:    store,
		courses:  courses,
		gateway:  gateway,
		notifier: notifier,
	}
}

type CheckoutRequest struct {
	UserID   uint
	CourseID uint
	BankCode string
	Locale   string
	ClientIP string
}

type CheckoutResult struct {
	PayURL         string          `json:"pay_url"`
	TransactionRef string          `json:"transaction_ref"`
	Payment        *models.Payment `json:"payment"`
	Reused         bool            `json:"reused"`
}

// Checkout validates the purchase, finds or creates the pending intent in
// one transaction, then signs the redirect URL outside it. Repeated calls
// within the intent timeout return the same transaction ref; the URL build
// is separable from the commit, so a failed redirect can simply be retried.
func (s *PaymentService) Checkout(req CheckoutRequest) (*CheckoutResult, error) {
	course, err := s.courses.GetByID(req.CourseID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCourseNotFound
		}
		return nil, err
	}
	if !course.Published() {
		return nil, ErrCourseNotPublished
	}
	if course.Price <= 0 {
		return nil, ErrCourseFree
	}
	if course.Price > s.cfg.Payment.MaxPrice {
		return nil, ErrPriceTooHigh
	}
	if course.InstructorID == req.UserID {
		return nil, ErrOwnCourse
	}
	enrolled, err := s.store.HasEnrollment(req.UserID, req.CourseID)
	if err != nil {
		return nil, err
	}
	if enrolled {
		return nil, ErrAlreadyEnrolled
	}

	var (
		intent *models.Payment
		reused bool
	)
	err = s.store.Transaction(func(tx repository.PaymentStore) error {
		pending, err := tx.PendingByUserCourse(req.UserID, req.CourseID)
		if err != nil {
			return err
		}
		if pending != nil && pending.Expired(time.Now(), s.cfg.Payment.IntentTimeout) {
			// Lazy expiry: demote, then fall through to create a fresh intent.
			pending.Status = domain.PaymentStatusFailed
			if err := tx.Save(pending); err != nil {
				return err
			}
			pending = nil
		}
		if pending != nil {
			intent, reused = pending, true
			return nil
		}
		p := &models.Payment{
			UserID:   req.UserID,
			CourseID: req.CourseID,
			Amount:   course.Price, // frozen now; later price edits do not touch this intent
			Provider: domain.PaymentProviderVNPay,
			Status:   domain.PaymentStatusPending,
		}
		if err := tx.Create(p); err != nil {
			return err
		}
		// Row id plus nanosecond clock: unique across rows and across retries
		// that could ever reuse an id.
		p.TransactionRef = fmt.Sprintf("%d%d", p.ID, time.Now().UnixNano())
		if err := tx.Save(p); err != nil {
			return err
		}
		intent = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	payURL := s.gateway.BuildPaymentURL(vnpay.PaymentURLRequest{
		TxnRef:    intent.TransactionRef,
		Amount:    intent.Amount,
		OrderInfo: fmt.Sprintf("Course %d: %s", course.ID, course.Title),
		BankCode:  req.BankCode,
		Locale:    req.Locale,
		ClientIP:  req.ClientIP,
		CreatedAt: intent.CreatedAt,
	})
	return &CheckoutResult{
		PayURL:         payURL,
		TransactionRef: intent.TransactionRef,
		Payment:        intent,
		Reused:         reused,
	}, nil
}

type ReconcileResult struct {
	Status       string
	AlreadyFinal bool
	Payment      *models.Payment
	Enrollment   *models.Enrollment
	CourseTitle  string
	Code         string
	Message      string
}

// Reconcile handles one gateway callback, from either delivery channel.
// Verification happens before any transaction is opened; the finalize
// transaction re-checks terminality under a row lock so double delivery and
// races between the two channels collapse into one transition. A non-success
// result code finalizes the intent as FAILED and is reported as a
// *GatewayError alongside the result.
func (s *PaymentService) Reconcile(params map[string]string) (*ReconcileResult, error) {
	if !s.gateway.VerifyCallback(params) {
		log.Printf("[PAYMENT] signature mismatch on callback ref=%q", params["vnp_TxnRef"])
		return nil, ErrInvalidSignature
	}
	ref := params["vnp_TxnRef"]
	amountStr := params["vnp_Amount"]
	code := params["vnp_ResponseCode"]
	if ref == "" || amountStr == "" || code == "" {
		return nil, ErrMissingFields
	}

	p, err := s.store.ByTransactionRef(ref)
	if err != nil {
		return nil, err
	}
	if p == nil {
		// Intents always commit before the gateway learns the ref, so an
		// unknown ref is forged or stale — log louder than a plain 404.
		log.Printf("[PAYMENT] ALERT callback for unknown transaction ref=%s", ref)
		return nil, ErrPaymentNotFound
	}
	if p.Terminal() {
		return s.replayResult(p), nil
	}

	amount, err := strconv.ParseInt(amountStr, 10, 64)
	if err != nil || amount != p.Amount*vnpay.AmountMultiplier {
		// Tampering leaves the intent PENDING; a mismatch is an error to the
		// caller, never a state transition.
		log.Printf("[PAYMENT] amount mismatch ref=%s got=%s want=%d", ref, amountStr, p.Amount*vnpay.AmountMultiplier)
		return nil, ErrAmountMismatch
	}

	success := code == vnpay.CodeSuccess
	var (
		enrollment   *models.Enrollment
		alreadyFinal bool
	)
	err = s.store.Transaction(func(tx repository.PaymentStore) error {
		locked, err := tx.ByTransactionRef(ref)
		if err != nil {
			return err
		}
		if locked == nil {
			return ErrPaymentNotFound
		}
		if locked.Terminal() {
			p, alreadyFinal = locked, true
			return nil
		}
		locked.BankCode = params["vnp_BankCode"]
		locked.CardType = params["vnp_CardType"]
		locked.BankTranNo = params["vnp_BankTranNo"]
		locked.GatewayTranNo = params["vnp_TransactionNo"]
		locked.ResponseCode = code
		if t, err := time.ParseInLocation("20060102150405", params["vnp_PayDate"], time.Local); err == nil {
			locked.PaidAt = &t
		}
		if success {
			locked.Status = domain.PaymentStatusSuccess
			e := &models.Enrollment{UserID: locked.UserID, CourseID: locked.CourseID, PaymentID: &locked.ID}
			if err := tx.UpsertEnrollment(e); err != nil {
				return err
			}
			enrollment = e
		} else {
			locked.Status = domain.PaymentStatusFailed
		}
		if err := tx.Save(locked); err != nil {
			return err
		}
		p = locked
		return nil
	})
	if err != nil {
		return nil, err
	}
	if alreadyFinal {
		return s.replayResult(p), nil
	}

	courseTitle := fmt.Sprintf("course %d", p.CourseID)
	if course, err := s.courses.GetByID(p.CourseID); err == nil {
		courseTitle = course.Title
	}
	result := &ReconcileResult{
		Status:      p.Status,
		Payment:     p,
		Enrollment:  enrollment,
		CourseTitle: courseTitle,
		Code:        code,
		Message:     vnpay.ResponseMessage(code),
	}
	if success {
		s.notifier.PaymentSucceeded(p.UserID, p, courseTitle)
		return result, nil
	}
	s.notifier.PaymentFailed(p.UserID, p, courseTitle, result.Message)
	return result, &GatewayError{Code: code, Message: result.Message}
}

// replayResult reports an already-terminal intent without re-running side
// effects; this is what makes double delivery safe.
func (s *PaymentService) replayResult(p *models.Payment) *ReconcileResult {
	return &ReconcileResult{
		Status:       p.Status,
		AlreadyFinal: true,
		Payment:      p,
		Code:         p.ResponseCode,
		Message:      vnpay.ResponseMessage(p.ResponseCode),
	}
}
