package service

import (
	"errors"
	"sync"
	"testing"
	"time"

	"coursely/config"
	"coursely/internal/domain"
	"coursely/internal/models"
	"coursely/internal/repository"
	"coursely/pkg/vnpay"

	"gorm.io/gorm"
)

const testSecret = "test-secret"

// fakeStore is an in-memory PaymentStore. Transaction serializes access,
// which is all the locking semantics the service relies on.
type fakeStore struct {
	mu          sync.Mutex
	payments    []*models.Payment
	enrollments []*models.Enrollment
	nextID      uint
}

func (s *fakeStore) Transaction(fn func(tx repository.PaymentStore) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s)
}

func (s *fakeStore) PendingByUserCourse(userID, courseID uint) (*models.Payment, error) {
	for _, p := range s.payments {
		if p.UserID == userID && p.CourseID == courseID && p.Status == domain.PaymentStatusPending {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) ByTransactionRef(ref string) (*models.Payment, error) {
	for _, p := range s.payments {
		if p.TransactionRef == ref {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) Create(p *models.Payment) error {
	s.nextID++
	p.ID = s.nextID
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	cp := *p
	s.payments = append(s.payments, &cp)
	return nil
}

func (s *fakeStore) Save(p *models.Payment) error {
	for i, existing := range s.payments {
		if existing.ID == p.ID {
			cp := *p
			s.payments[i] = &cp
			return nil
		}
	}
	return errors.New("save: payment not found")
}

func (s *fakeStore) HasEnrollment(userID, courseID uint) (bool, error) {
	for _, e := range s.enrollments {
		if e.UserID == userID && e.CourseID == courseID {
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeStore) UpsertEnrollment(e *models.Enrollment) error {
	for _, existing := range s.enrollments {
		if existing.UserID == e.UserID && existing.CourseID == e.CourseID {
			*e = *existing
			return nil
		}
	}
	e.ID = uint(len(s.enrollments) + 1)
	cp := *e
	s.enrollments = append(s.enrollments, &cp)
	return nil
}

func (s *fakeStore) paymentByID(id uint) *models.Payment {
	for _, p := range s.payments {
		if p.ID == id {
			return p
		}
	}
	return nil
}

type fakeCourses struct {
	courses map[uint]*models.Course
}

func (f *fakeCourses) GetByID(id uint) (*models.Course, error) {
	c, ok := f.courses[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *c
	return &cp, nil
}

type notifierCall struct {
	userID  uint
	payment *models.Payment
	title   string
	reason  string
}

type fakeNotifier struct {
	succeeded []notifierCall
	failed    []notifierCall
}

func (f *fakeNotifier) PaymentSucceeded(userID uint, p *models.Payment, courseTitle string) {
	f.succeeded = append(f.succeeded, notifierCall{userID: userID, payment: p, title: courseTitle})
}

func (f *fakeNotifier) PaymentFailed(userID uint, p *models.Payment, courseTitle, reason string) {
	f.failed = append(f.failed, notifierCall{userID: userID, payment: p, title: courseTitle, reason: reason})
}

func testConfig() *config.Config {
	return &config.Config{
		VNPay: config.VNPayConfig{
			TmnCode:    "COURSELY1",
			HashSecret: testSecret,
			PayURL:     "https://sandbox.vnpayment.vn/paymentv2/vpcpay.html",
			ReturnURL:  "http://localhost:8080/api/v1/payments/vnpay/return",
		},
		Payment: config.PaymentConfig{
			IntentTimeout: 15 * time.Minute,
			MaxPrice:      100_000_000,
		},
	}
}

func newTestPaymentService() (*PaymentService, *fakeStore, *fakeCourses, *fakeNotifier) {
	cfg := testConfig()
	store := &fakeStore{}
	courses := &fakeCourses{courses: map[uint]*models.Course{
		7: {ID: 7, InstructorID: 100, Title: "Intro to Go", Price: 500000, Status: domain.CourseStatusPublished},
	}}
	notifier := &fakeNotifier{}
	gateway := vnpay.New(vnpay.Config{
		TmnCode:    cfg.VNPay.TmnCode,
		HashSecret: cfg.VNPay.HashSecret,
		PayURL:     cfg.VNPay.PayURL,
		ReturnURL:  cfg.VNPay.ReturnURL,
	})
	return NewPaymentService(cfg, store, courses, gateway, notifier), store, courses, notifier
}

// signedCallback builds a gateway callback parameter set with a valid
// signature. Amount is the wire amount (already multiplied).
func signedCallback(ref string, wireAmount, code string, extra map[string]string) map[string]string {
	params := map[string]string{
		"vnp_TxnRef":       ref,
		"vnp_Amount":       wireAmount,
		"vnp_ResponseCode": code,
	}
	for k, v := range extra {
		params[k] = v
	}
	params[vnpay.ParamSecureHash] = vnpay.Sign(params, testSecret)
	return params
}

func TestCheckoutCreatesPendingIntent(t *testing.T) {
	svc, store, _, _ := newTestPaymentService()
	result, err := svc.Checkout(CheckoutRequest{UserID: 1, CourseID: 7, ClientIP: "127.0.0.1"})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if result.Reused {
		t.Fatal("fresh intent reported as reused")
	}
	if result.TransactionRef == "" {
		t.Fatal("empty transaction ref")
	}
	if result.PayURL == "" {
		t.Fatal("empty pay URL")
	}
	p := store.paymentByID(result.Payment.ID)
	if p == nil {
		t.Fatal("intent not persisted")
	}
	if p.Status != domain.PaymentStatusPending {
		t.Fatalf("status = %s, want PENDING", p.Status)
	}
	if p.Amount != 500000 {
		t.Fatalf("amount = %d, want the course price frozen at creation", p.Amount)
	}
	if p.Provider != domain.PaymentProviderVNPay {
		t.Fatalf("provider = %s", p.Provider)
	}
}

func TestCheckoutReusesPendingIntent(t *testing.T) {
	svc, store, _, _ := newTestPaymentService()
	first, err := svc.Checkout(CheckoutRequest{UserID: 1, CourseID: 7})
	if err != nil {
		t.Fatalf("first checkout: %v", err)
	}
	second, err := svc.Checkout(CheckoutRequest{UserID: 1, CourseID: 7})
	if err != nil {
		t.Fatalf("second checkout: %v", err)
	}
	if !second.Reused {
		t.Fatal("second checkout did not reuse the pending intent")
	}
	if second.TransactionRef != first.TransactionRef {
		t.Fatalf("refs differ: %s vs %s", first.TransactionRef, second.TransactionRef)
	}
	if len(store.payments) != 1 {
		t.Fatalf("payment rows = %d, want 1", len(store.payments))
	}
}

func TestCheckoutReplacesExpiredIntent(t *testing.T) {
	svc, store, _, _ := newTestPaymentService()
	first, err := svc.Checkout(CheckoutRequest{UserID: 1, CourseID: 7})
	if err != nil {
		t.Fatalf("first checkout: %v", err)
	}
	// Age the intent past the timeout.
	store.paymentByID(first.Payment.ID).CreatedAt = time.Now().Add(-20 * time.Minute)

	second, err := svc.Checkout(CheckoutRequest{UserID: 1, CourseID: 7})
	if err != nil {
		t.Fatalf("second checkout: %v", err)
	}
	if second.Reused {
		t.Fatal("expired intent should not be reused")
	}
	if second.TransactionRef == first.TransactionRef {
		t.Fatal("expired intent kept its transaction ref")
	}
	if got := store.paymentByID(first.Payment.ID).Status; got != domain.PaymentStatusFailed {
		t.Fatalf("old intent status = %s, want FAILED", got)
	}
	if got := store.paymentByID(second.Payment.ID).Status; got != domain.PaymentStatusPending {
		t.Fatalf("new intent status = %s, want PENDING", got)
	}
}

func TestCheckoutRejections(t *testing.T) {
	svc, store, courses, _ := newTestPaymentService()
	courses.courses[8] = &models.Course{ID: 8, InstructorID: 100, Title: "Draft", Price: 100000, Status: domain.CourseStatusDraft}
	courses.courses[9] = &models.Course{ID: 9, InstructorID: 100, Title: "Free", Price: 0, Status: domain.CourseStatusPublished}
	courses.courses[10] = &models.Course{ID: 10, InstructorID: 100, Title: "Gold", Price: 200_000_000, Status: domain.CourseStatusPublished}
	store.enrollments = append(store.enrollments, &models.Enrollment{ID: 1, UserID: 2, CourseID: 7})

	cases := []struct {
		name string
		req  CheckoutRequest
		want error
	}{
		{"unknown course", CheckoutRequest{UserID: 1, CourseID: 999}, ErrCourseNotFound},
		{"draft course", CheckoutRequest{UserID: 1, CourseID: 8}, ErrCourseNotPublished},
		{"free course", CheckoutRequest{UserID: 1, CourseID: 9}, ErrCourseFree},
		{"over max price", CheckoutRequest{UserID: 1, CourseID: 10}, ErrPriceTooHigh},
		{"own course", CheckoutRequest{UserID: 100, CourseID: 7}, ErrOwnCourse},
		{"already enrolled", CheckoutRequest{UserID: 2, CourseID: 7}, ErrAlreadyEnrolled},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.Checkout(tc.req); !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
		})
	}
	if len(store.payments) != 0 {
		t.Fatalf("rejected checkouts created %d payment rows", len(store.payments))
	}
}

func TestReconcileSuccess(t *testing.T) {
	svc, store, _, notifier := newTestPaymentService()
	checkout, err := svc.Checkout(CheckoutRequest{UserID: 1, CourseID: 7})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}

	params := signedCallback(checkout.TransactionRef, "50000000", "00", map[string]string{
		"vnp_BankCode":      "NCB",
		"vnp_CardType":      "ATM",
		"vnp_BankTranNo":    "VNP01234567",
		"vnp_TransactionNo": "14422574",
		"vnp_PayDate":       "20260829143005",
	})
	result, err := svc.Reconcile(params)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if result.Status != domain.PaymentStatusSuccess {
		t.Fatalf("status = %s, want SUCCESS", result.Status)
	}
	if result.AlreadyFinal {
		t.Fatal("fresh transition reported as already final")
	}
	if result.Enrollment == nil {
		t.Fatal("no enrollment created")
	}

	p := store.paymentByID(checkout.Payment.ID)
	if p.Status != domain.PaymentStatusSuccess {
		t.Fatalf("stored status = %s", p.Status)
	}
	if p.BankCode != "NCB" || p.GatewayTranNo != "14422574" || p.BankTranNo != "VNP01234567" {
		t.Fatalf("gateway details not recorded: %+v", p)
	}
	if p.PaidAt == nil {
		t.Fatal("paid_at not recorded")
	}
	if len(store.enrollments) != 1 {
		t.Fatalf("enrollments = %d, want 1", len(store.enrollments))
	}
	e := store.enrollments[0]
	if e.UserID != 1 || e.CourseID != 7 || e.PaymentID == nil || *e.PaymentID != p.ID {
		t.Fatalf("enrollment links wrong: %+v", e)
	}
	if len(notifier.succeeded) != 1 || notifier.succeeded[0].userID != 1 {
		t.Fatalf("success notifications = %+v", notifier.succeeded)
	}
	if notifier.succeeded[0].title != "Intro to Go" {
		t.Fatalf("course title = %s", notifier.succeeded[0].title)
	}
}

func TestReconcileFailureCode(t *testing.T) {
	svc, store, _, notifier := newTestPaymentService()
	checkout, _ := svc.Checkout(CheckoutRequest{UserID: 1, CourseID: 7})

	params := signedCallback(checkout.TransactionRef, "50000000", "24", nil)
	result, err := svc.Reconcile(params)
	var gw *GatewayError
	if !errors.As(err, &gw) {
		t.Fatalf("err = %v, want *GatewayError", err)
	}
	if gw.Code != "24" {
		t.Fatalf("gateway code = %s", gw.Code)
	}
	if result == nil || result.Status != domain.PaymentStatusFailed {
		t.Fatalf("result = %+v, want FAILED", result)
	}
	if got := store.paymentByID(checkout.Payment.ID).Status; got != domain.PaymentStatusFailed {
		t.Fatalf("stored status = %s", got)
	}
	if len(store.enrollments) != 0 {
		t.Fatal("failed payment created an enrollment")
	}
	if len(notifier.failed) != 1 {
		t.Fatalf("failure notifications = %d, want 1", len(notifier.failed))
	}
	if notifier.failed[0].reason != vnpay.ResponseMessage("24") {
		t.Fatalf("reason = %s", notifier.failed[0].reason)
	}
}

func TestReconcileDoubleDelivery(t *testing.T) {
	svc, store, _, notifier := newTestPaymentService()
	checkout, _ := svc.Checkout(CheckoutRequest{UserID: 1, CourseID: 7})
	params := signedCallback(checkout.TransactionRef, "50000000", "00", nil)

	if _, err := svc.Reconcile(params); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	replay, err := svc.Reconcile(params)
	if err != nil {
		t.Fatalf("second delivery: %v", err)
	}
	if !replay.AlreadyFinal {
		t.Fatal("second delivery not reported as already final")
	}
	if replay.Status != domain.PaymentStatusSuccess {
		t.Fatalf("replay status = %s", replay.Status)
	}
	if len(store.enrollments) != 1 {
		t.Fatalf("enrollments = %d after double delivery", len(store.enrollments))
	}
	if len(notifier.succeeded) != 1 {
		t.Fatalf("notifications = %d after double delivery", len(notifier.succeeded))
	}
}

func TestReconcileInvalidSignature(t *testing.T) {
	svc, store, _, _ := newTestPaymentService()
	checkout, _ := svc.Checkout(CheckoutRequest{UserID: 1, CourseID: 7})

	params := signedCallback(checkout.TransactionRef, "50000000", "00", nil)
	params["vnp_ResponseCode"] = "24" // tampered after signing
	if _, err := svc.Reconcile(params); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("err = %v, want ErrInvalidSignature", err)
	}
	if got := store.paymentByID(checkout.Payment.ID).Status; got != domain.PaymentStatusPending {
		t.Fatalf("status after rejected callback = %s, want PENDING", got)
	}
}

func TestReconcileAmountMismatch(t *testing.T) {
	svc, store, _, _ := newTestPaymentService()
	checkout, _ := svc.Checkout(CheckoutRequest{UserID: 1, CourseID: 7})

	// Correctly signed, wrong amount: the check guards the intent, not the wire.
	params := signedCallback(checkout.TransactionRef, "100", "00", nil)
	if _, err := svc.Reconcile(params); !errors.Is(err, ErrAmountMismatch) {
		t.Fatalf("err = %v, want ErrAmountMismatch", err)
	}
	p := store.paymentByID(checkout.Payment.ID)
	if p.Status != domain.PaymentStatusPending {
		t.Fatalf("status = %s, want PENDING after amount mismatch", p.Status)
	}
	if len(store.enrollments) != 0 {
		t.Fatal("amount mismatch created an enrollment")
	}
}

func TestReconcileUnknownRef(t *testing.T) {
	svc, _, _, _ := newTestPaymentService()
	params := signedCallback("does-not-exist", "50000000", "00", nil)
	if _, err := svc.Reconcile(params); !errors.Is(err, ErrPaymentNotFound) {
		t.Fatalf("err = %v, want ErrPaymentNotFound", err)
	}
}

func TestReconcileMissingFields(t *testing.T) {
	svc, _, _, _ := newTestPaymentService()
	params := map[string]string{"vnp_TxnRef": "1", "vnp_Amount": "100"}
	params[vnpay.ParamSecureHash] = vnpay.Sign(params, testSecret)
	if _, err := svc.Reconcile(params); !errors.Is(err, ErrMissingFields) {
		t.Fatalf("err = %v, want ErrMissingFields", err)
	}
}
