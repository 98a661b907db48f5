package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"coursely/config"
	"coursely/internal/domain"
	"coursely/internal/models"
	"coursely/internal/repository"
	"coursely/internal/service"
	"coursely/pkg/vnpay"

	"github.com/gin-gonic/gin"
)

const testSecret = "test-secret"

// memStore is a minimal in-memory PaymentStore backing the callback handlers
// under test.
type memStore struct {
	payments    []*models.Payment
	enrollments []*models.Enrollment
}

func (s *memStore) Transaction(fn func(tx repository.PaymentStore) error) error {
	return fn(s)
}

func (s *memStore) PendingByUserCourse(userID, courseID uint) (*models.Payment, error) {
	for _, p := range s.payments {
		if p.UserID == userID && p.CourseID == courseID && p.Status == domain.PaymentStatusPending {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *memStore) ByTransactionRef(ref string) (*models.Payment, error) {
	for _, p := range s.payments {
		if p.TransactionRef == ref {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *memStore) Create(p *models.Payment) error {
	p.ID = uint(len(s.payments) + 1)
	p.CreatedAt = time.Now()
	cp := *p
	s.payments = append(s.payments, &cp)
	return nil
}

func (s *memStore) Save(p *models.Payment) error {
	for i, existing := range s.payments {
		if existing.ID == p.ID {
			cp := *p
			s.payments[i] = &cp
			return nil
		}
	}
	return nil
}

func (s *memStore) HasEnrollment(userID, courseID uint) (bool, error) {
	for _, e := range s.enrollments {
		if e.UserID == userID && e.CourseID == courseID {
			return true, nil
		}
	}
	return false, nil
}

func (s *memStore) UpsertEnrollment(e *models.Enrollment) error {
	e.ID = uint(len(s.enrollments) + 1)
	cp := *e
	s.enrollments = append(s.enrollments, &cp)
	return nil
}

type memCourses struct{ course *models.Course }

func (f *memCourses) GetByID(id uint) (*models.Course, error) {
	cp := *f.course
	return &cp, nil
}

type noopNotifier struct{}

func (noopNotifier) PaymentSucceeded(uint, *models.Payment, string)      {}
func (noopNotifier) PaymentFailed(uint, *models.Payment, string, string) {}

func newCallbackRouter(t *testing.T) (*gin.Engine, *memStore, *config.Config) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := &config.Config{
		VNPay: config.VNPayConfig{
			TmnCode:    "COURSELY1",
			HashSecret: testSecret,
			PayURL:     "https://sandbox.vnpayment.vn/paymentv2/vpcpay.html",
			ReturnURL:  "http://localhost:8080/api/v1/payments/vnpay/return",
		},
		Payment: config.PaymentConfig{
			IntentTimeout: 15 * time.Minute,
			MaxPrice:      100_000_000,
			ResultURL:     "http://localhost:3000/payment/result",
		},
	}
	store := &memStore{}
	gateway := vnpay.New(vnpay.Config{
		TmnCode:    cfg.VNPay.TmnCode,
		HashSecret: cfg.VNPay.HashSecret,
		PayURL:     cfg.VNPay.PayURL,
		ReturnURL:  cfg.VNPay.ReturnURL,
	})
	courses := &memCourses{course: &models.Course{ID: 7, InstructorID: 100, Title: "Intro to Go", Price: 500000, Status: domain.CourseStatusPublished}}
	svc := service.NewPaymentService(cfg, store, courses, gateway, noopNotifier{})
	h := NewPaymentHandler(cfg, svc)

	r := gin.New()
	r.GET("/api/v1/payments/vnpay/return", h.Return)
	r.GET("/api/v1/payments/vnpay/ipn", h.IPN)
	return r, store, cfg
}

func seedPending(store *memStore) *models.Payment {
	p := &models.Payment{
		ID:             1,
		UserID:         1,
		CourseID:       7,
		Amount:         500000,
		Provider:       domain.PaymentProviderVNPay,
		Status:         domain.PaymentStatusPending,
		TransactionRef: "11700000000000000001",
		CreatedAt:      time.Now(),
	}
	store.payments = append(store.payments, p)
	return p
}

func signedQuery(ref, wireAmount, code string) string {
	params := map[string]string{
		"vnp_TxnRef":       ref,
		"vnp_Amount":       wireAmount,
		"vnp_ResponseCode": code,
	}
	params[vnpay.ParamSecureHash] = vnpay.Sign(params, testSecret)
	q := url.Values{}
	for k, v := range params {
		q.Set(k, v)
	}
	return q.Encode()
}

func ipnResponse(t *testing.T, r *gin.Engine, query string) map[string]string {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/payments/vnpay/ipn?"+query, nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("IPN answered HTTP %d, must always be 200", w.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("IPN body: %v", err)
	}
	return body
}

func TestIPNConfirmsSuccess(t *testing.T) {
	r, store, _ := newCallbackRouter(t)
	p := seedPending(store)

	body := ipnResponse(t, r, signedQuery(p.TransactionRef, "50000000", "00"))
	if body["RspCode"] != vnpay.IPNConfirmed {
		t.Fatalf("RspCode = %s, want %s", body["RspCode"], vnpay.IPNConfirmed)
	}
	if store.payments[0].Status != domain.PaymentStatusSuccess {
		t.Fatalf("payment status = %s", store.payments[0].Status)
	}
	if len(store.enrollments) != 1 {
		t.Fatalf("enrollments = %d", len(store.enrollments))
	}
}

func TestIPNConfirmsDeclined(t *testing.T) {
	r, store, _ := newCallbackRouter(t)
	p := seedPending(store)

	// A declined payment is still a settled order from the gateway's view.
	body := ipnResponse(t, r, signedQuery(p.TransactionRef, "50000000", "24"))
	if body["RspCode"] != vnpay.IPNConfirmed {
		t.Fatalf("RspCode = %s, want %s", body["RspCode"], vnpay.IPNConfirmed)
	}
	if store.payments[0].Status != domain.PaymentStatusFailed {
		t.Fatalf("payment status = %s", store.payments[0].Status)
	}
}

func TestIPNRejectsBadSignature(t *testing.T) {
	r, store, _ := newCallbackRouter(t)
	p := seedPending(store)

	query := signedQuery(p.TransactionRef, "50000000", "00")
	query = strings.Replace(query, "vnp_ResponseCode=00", "vnp_ResponseCode=24", 1)
	body := ipnResponse(t, r, query)
	if body["RspCode"] != vnpay.IPNRejected {
		t.Fatalf("RspCode = %s, want %s", body["RspCode"], vnpay.IPNRejected)
	}
	if store.payments[0].Status != domain.PaymentStatusPending {
		t.Fatalf("payment status = %s, rejected IPN must not mutate", store.payments[0].Status)
	}
}

func TestIPNRejectsUnknownRef(t *testing.T) {
	r, _, _ := newCallbackRouter(t)
	body := ipnResponse(t, r, signedQuery("unknown", "50000000", "00"))
	if body["RspCode"] != vnpay.IPNRejected {
		t.Fatalf("RspCode = %s, want %s", body["RspCode"], vnpay.IPNRejected)
	}
}

func TestIPNDoubleDelivery(t *testing.T) {
	r, store, _ := newCallbackRouter(t)
	p := seedPending(store)

	query := signedQuery(p.TransactionRef, "50000000", "00")
	first := ipnResponse(t, r, query)
	second := ipnResponse(t, r, query)
	if first["RspCode"] != vnpay.IPNConfirmed || second["RspCode"] != vnpay.IPNConfirmed {
		t.Fatalf("RspCodes = %s, %s", first["RspCode"], second["RspCode"])
	}
	if len(store.enrollments) != 1 {
		t.Fatalf("enrollments = %d after replay", len(store.enrollments))
	}
}

func TestReturnRedirectsWithOutcome(t *testing.T) {
	r, store, cfg := newCallbackRouter(t)
	p := seedPending(store)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/payments/vnpay/return?"+signedQuery(p.TransactionRef, "50000000", "00"), nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", w.Code)
	}
	loc, err := url.Parse(w.Header().Get("Location"))
	if err != nil {
		t.Fatalf("location: %v", err)
	}
	if !strings.HasPrefix(loc.String(), cfg.Payment.ResultURL) {
		t.Fatalf("redirected to %s", loc)
	}
	q := loc.Query()
	if q.Get("success") != "true" {
		t.Fatalf("success = %s", q.Get("success"))
	}
	if q.Get("payment_id") != "1" || q.Get("course_id") != "7" {
		t.Fatalf("identifiers missing: %s", loc.RawQuery)
	}
	if q.Get("course_name") != "Intro to Go" {
		t.Fatalf("course_name = %s", q.Get("course_name"))
	}
}

func TestReturnReplayedFailure(t *testing.T) {
	r, store, _ := newCallbackRouter(t)
	p := seedPending(store)
	query := signedQuery(p.TransactionRef, "50000000", "24")

	deliver := func() url.Values {
		t.Helper()
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/v1/payments/vnpay/return?"+query, nil)
		r.ServeHTTP(w, req)
		if w.Code != http.StatusFound {
			t.Fatalf("status = %d, want 302", w.Code)
		}
		loc, err := url.Parse(w.Header().Get("Location"))
		if err != nil {
			t.Fatalf("location: %v", err)
		}
		return loc.Query()
	}

	first := deliver()
	if first.Get("success") != "false" || first.Get("status") != domain.PaymentStatusFailed {
		t.Fatalf("first delivery: success=%s status=%s", first.Get("success"), first.Get("status"))
	}
	// A refreshed result page replays the callback; the summary must still
	// describe a failure, not flip to success because the intent is settled.
	replay := deliver()
	if replay.Get("success") != "false" {
		t.Fatalf("replayed failure redirected with success=%s", replay.Get("success"))
	}
	if replay.Get("status") != domain.PaymentStatusFailed {
		t.Fatalf("replayed status = %s", replay.Get("status"))
	}
	if replay.Get("code") != "24" {
		t.Fatalf("replayed code = %s", replay.Get("code"))
	}
}

func TestReturnRedirectsOnAmountMismatch(t *testing.T) {
	r, store, _ := newCallbackRouter(t)
	p := seedPending(store)

	// Signed over the wrong amount: the signature verifies, the amount check
	// rejects, and the intent stays PENDING.
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/payments/vnpay/return?"+signedQuery(p.TransactionRef, "1", "00"), nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302 even on failure", w.Code)
	}
	loc, _ := url.Parse(w.Header().Get("Location"))
	q := loc.Query()
	if q.Get("success") != "false" {
		t.Fatalf("success = %s", q.Get("success"))
	}
	if msg := q.Get("message"); strings.Contains(strings.ToLower(msg), "amount") {
		t.Fatalf("message leaks the failed check: %s", msg)
	}
	if store.payments[0].Status != domain.PaymentStatusPending {
		t.Fatalf("payment status = %s", store.payments[0].Status)
	}
}

func TestReturnRedirectsOnVerificationFailure(t *testing.T) {
	r, store, _ := newCallbackRouter(t)
	p := seedPending(store)

	// Editing a parameter after signing breaks the signature itself.
	query := signedQuery(p.TransactionRef, "50000000", "00")
	query = strings.Replace(query, "vnp_Amount=50000000", "vnp_Amount=1", 1)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/payments/vnpay/return?"+query, nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302 even on failure", w.Code)
	}
	loc, _ := url.Parse(w.Header().Get("Location"))
	q := loc.Query()
	if q.Get("success") != "false" {
		t.Fatalf("success = %s", q.Get("success"))
	}
	// The result page gets a generic message, not which check failed.
	if msg := q.Get("message"); strings.Contains(strings.ToLower(msg), "signature") || strings.Contains(strings.ToLower(msg), "amount") {
		t.Fatalf("message leaks the failed check: %s", msg)
	}
	if store.payments[0].Status != domain.PaymentStatusPending {
		t.Fatalf("payment status = %s", store.payments[0].Status)
	}
}
