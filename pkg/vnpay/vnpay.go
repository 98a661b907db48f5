package vnpay

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"
)

// Protocol constants. The amount multiplier is part of the wire format, not a
// business rule: 500000 VND travels as "50000000".
const (
	Version          = "2.1.0"
	CommandPay       = "pay"
	CurrencyVND      = "VND"
	AmountMultiplier = 100

	CodeSuccess = "00"
)

// IPN acknowledgement codes. The gateway retries based on this body, not on
// the HTTP status, so handlers always answer 200 with one of these.
const (
	IPNConfirmed    = "00"
	IPNRejected     = "01"
	IPNUnknownError = "99"
)

var responseMessages = map[string]string{
	"00": "Transaction successful",
	"07": "Money deducted, transaction suspected of fraud",
	"09": "Card or account not registered for internet banking",
	"10": "Card or account verification failed more than 3 times",
	"11": "Payment window expired",
	"12": "Card or account is locked",
	"13": "Wrong OTP entered",
	"24": "Transaction cancelled by customer",
	"51": "Insufficient account balance",
	"65": "Daily transaction limit exceeded",
	"75": "Issuing bank under maintenance",
	"79": "Wrong payment password entered too many times",
}

// ResponseMessage maps a gateway result code to a human-readable reason.
func ResponseMessage(code string) string {
	if msg, ok := responseMessages[code]; ok {
		return msg
	}
	return "Transaction failed (code " + code + ")"
}

// Config is the injected gateway configuration. Never hardcoded in the
// client; constructed once at startup from config.Load().
type Config struct {
	TmnCode    string
	HashSecret string
	PayURL     string
	ReturnURL  string
}

// Client builds signed redirect URLs and verifies inbound callbacks for a
// single merchant. Safe for concurrent use.
type Client struct {
	cfg Config
}

func New(cfg Config) *Client {
	return &Client{cfg: cfg}
}

// PaymentURLRequest carries the per-transaction fields of an outbound
// redirect URL. Amount is in whole currency units; the client applies the
// wire multiplier.
type PaymentURLRequest struct {
	TxnRef    string
	Amount    int64
	OrderInfo string
	BankCode  string
	Locale    string
	ClientIP  string
	CreatedAt time.Time
}

// BuildPaymentURL assembles, signs and encodes the redirect URL the buyer's
// browser follows to the gateway.
func (c *Client) BuildPaymentURL(req PaymentURLRequest) string {
	locale := req.Locale
	if locale != "vn" && locale != "en" {
		locale = "vn"
	}
	params := map[string]string{
		"vnp_Version":    Version,
		"vnp_Command":    CommandPay,
		"vnp_TmnCode":    c.cfg.TmnCode,
		"vnp_Locale":     locale,
		"vnp_CurrCode":   CurrencyVND,
		"vnp_TxnRef":     req.TxnRef,
		"vnp_OrderInfo":  req.OrderInfo,
		"vnp_OrderType":  "education",
		"vnp_Amount":     fmt.Sprintf("%d", req.Amount*AmountMultiplier),
		"vnp_ReturnUrl":  c.cfg.ReturnURL,
		"vnp_IpAddr":     req.ClientIP,
		"vnp_CreateDate": req.CreatedAt.Format("20060102150405"),
	}
	if req.BankCode != "" {
		params["vnp_BankCode"] = req.BankCode
	}
	params[ParamSecureHash] = Sign(params, c.cfg.HashSecret)
	return c.cfg.PayURL + "?" + encodeQuery(params)
}

// VerifyCallback checks the signature of an inbound parameter set (return or
// IPN) against the shared secret.
func (c *Client) VerifyCallback(params map[string]string) bool {
	return Verify(params, c.cfg.HashSecret, params[ParamSecureHash])
}

// encodeQuery mirrors the canonical encoding so the signed string and the
// final query agree byte for byte.
func encodeQuery(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(k))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(params[k]))
	}
	return b.String()
}
